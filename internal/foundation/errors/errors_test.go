package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := WrapError(cause, CategoryStorage, "put bundle failed").
		Retryable().
		WithContext("key", "runs/r1/build/a.tar.gz").
		Build()

	assert.Equal(t, CategoryStorage, err.Category())
	assert.Equal(t, SeverityError, err.Severity())
	assert.True(t, err.CanRetry())
	assert.ErrorIs(t, err, cause)

	key, ok := err.Context().GetString("key")
	require.True(t, ok)
	assert.Equal(t, "runs/r1/build/a.tar.gz", key)
	assert.Equal(t, "[storage] put bundle failed: connection refused", err.Error())
}

func TestAsClassifiedFindsWrapped(t *testing.T) {
	inner := ValidationError("duplicate job").Build()
	wrapped := fmt.Errorf("parse: %w", inner)

	c, ok := AsClassified(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, c)
	assert.True(t, HasCategory(wrapped, CategoryValidation))
	assert.Equal(t, CategoryInternal, GetCategory(stderrors.New("plain")))
}

func TestClassifiedWithContextDoesNotMutate(t *testing.T) {
	base := JobError("script failed").Build()
	derived := base.WithContext("job", "test")

	_, ok := base.Context().Get("job")
	assert.False(t, ok)
	v, ok := derived.Context().GetString("job")
	assert.True(t, ok)
	assert.Equal(t, "test", v)
}

func TestCLIErrorAdapterExitCodes(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", ValidationError("bad manifest").Build(), 2},
		{"config", ConfigError("bad config").Build(), 7},
		{"infrastructure", InfrastructureError("executor gone").Build(), 8},
		{"internal", InternalError("bug").Build(), 10},
		{"job", JobError("run failed").Build(), 11},
		{"runtime", RuntimeError("shutdown").Build(), 12},
		{"unclassified", stderrors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapterReport(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	adapter := NewCLIErrorAdapter(false, logger)

	code := adapter.Report(&out, WrapError(stderrors.New("eof"), CategoryConfig, "cannot read config").Build())
	assert.Equal(t, 7, code)
	assert.Contains(t, out.String(), "cannot read config (use -v for details)")
	assert.Contains(t, logs.String(), "category=config")
}

func TestHTTPErrorAdapter(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())
	assert.Equal(t, http.StatusNotFound, adapter.StatusCodeFor(NotFoundError("no such run").Build()))
	assert.Equal(t, http.StatusBadRequest, adapter.StatusCodeFor(ValidationError("bad").Build()))
	assert.Equal(t, http.StatusInternalServerError, adapter.StatusCodeFor(stderrors.New("x")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
	adapter.WriteErrorResponse(rec, req, NotFoundError("no such run").WithContext("id", "x").Build())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no such run","code":"not_found","details":{"id":"x"}}`, rec.Body.String())
}
