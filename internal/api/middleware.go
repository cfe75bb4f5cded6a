package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
)

// requestLogger logs method, path, status, duration and request ID.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "HTTP request",
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path),
				logfields.Status(status),
				logfields.DurationMS(float64(time.Since(start).Microseconds())/1000),
				logfields.RequestID(middleware.GetReqID(r.Context())),
				logfields.RemoteAddr(r.RemoteAddr))
		})
	}
}

// recoverer turns handler panics into classified 500 responses.
func recoverer(logger *slog.Logger, adapter *errors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("HTTP handler panic",
						"panic", rec,
						logfields.Path(r.URL.Path),
						logfields.Method(r.Method))
					adapter.WriteErrorResponse(w, r, errors.InternalError("internal server error").
						WithContext("path", r.URL.Path).Build())
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
