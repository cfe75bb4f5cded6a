// Package api serves the pipewright HTTP API: trigger, list, inspect and
// cancel runs, plus health and metrics.
package api

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/pipewright/internal/eventstore"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/metrics"
	"git.home.luguber.info/inful/pipewright/internal/runqueue"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Runs is the run queue surface the API needs.
type Runs interface {
	Enqueue(rc trigger.RunContext) (runqueue.Entry, error)
	Get(id string) (runqueue.Entry, bool)
	List() []runqueue.Entry
	Cancel(id, reason string) error
	Length() int
	Active() int
}

// Options configures a Server.
type Options struct {
	Addr string
	// Workspace is used for runs triggered without one.
	Workspace string
	Runs      Runs
	// History serves runs that already left the queue. Optional.
	History  *eventstore.RunHistoryProjection
	Registry *prom.Registry
	Logger   *slog.Logger
	// ManifestError reports the last failed manifest reload. Optional.
	ManifestError func() error
}

// Server represents the API server.
type Server struct {
	Addr      string
	workspace string
	runs      Runs
	history   *eventstore.RunHistoryProjection
	registry  *prom.Registry
	manifest  func() error
	logger    *slog.Logger
	errors    *errors.HTTPErrorAdapter
	router    *chi.Mux
	server    *http.Server
	started   time.Time
}

// NewServer creates the router and the underlying http.Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Addr:      opts.Addr,
		workspace: opts.Workspace,
		runs:      opts.Runs,
		history:   opts.History,
		registry:  opts.Registry,
		manifest:  opts.ManifestError,
		logger:    logger,
		errors:    errors.NewHTTPErrorAdapter(logger),
		router:    chi.NewRouter(),
		started:   time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(recoverer(s.logger, s.errors))
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.HTTPHandler(s.registry))

	s.router.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/report", s.handleRunReport)
			r.Post("/cancel", s.handleCancelRun)
		})
	})
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.DaemonError("failed to listen").WithCause(err).WithContext("addr", s.Addr).Build()
	}
	s.logger.Info("API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
