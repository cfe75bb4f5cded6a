package api

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/pipewright/internal/eventstore"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/report"
	"git.home.luguber.info/inful/pipewright/internal/runqueue"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

const maxBodyBytes = 1 << 20

// RunRequest triggers a run.
type RunRequest struct {
	Workspace string            `json:"workspace,omitempty"`
	Ref       string            `json:"ref"`
	Kind      string            `json:"kind,omitempty"`
	Source    string            `json:"source,omitempty"`
	Commit    string            `json:"commit,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CancelRequest is the optional body of POST /runs/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RunView is a run as returned by the API, whether it is still queued or
// only known from the event history.
type RunView struct {
	ID           string                `json:"run_id"`
	Status       string                `json:"status"`
	Context      trigger.RunContext    `json:"context"`
	EnqueuedAt   *time.Time            `json:"enqueued_at,omitempty"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
	Error        string                `json:"error,omitempty"`
	SupersededBy string                `json:"superseded_by,omitempty"`
	Jobs         []scheduler.JobResult `json:"jobs,omitempty"`
	Excluded     []graph.Excluded      `json:"excluded,omitempty"`

	outcome *scheduler.Outcome
}

func viewFromEntry(e runqueue.Entry) RunView {
	enq := e.EnqueuedAt
	v := RunView{
		ID: e.ID, Status: string(e.Status), Context: e.Context,
		EnqueuedAt: &enq, StartedAt: e.StartedAt, FinishedAt: e.FinishedAt,
		Error: e.Error, SupersededBy: e.SupersededBy, Jobs: e.Jobs, outcome: e.Outcome,
	}
	if e.Outcome != nil {
		v.Excluded = e.Outcome.Excluded
	}
	return v
}

func viewFromSummary(s *eventstore.RunSummary) RunView {
	started := s.StartedAt
	return RunView{
		ID: s.RunID, Status: string(s.Status), Context: s.Context,
		StartedAt: &started, FinishedAt: s.FinishedAt,
		Jobs: s.Jobs, Excluded: s.Excluded, outcome: s.Outcome,
	}
}

// handleHealth stays 200 while degraded: runs still use the last good manifest.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":      "healthy",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"queued_runs": s.runs.Length(),
		"active_runs": s.runs.Active(),
	}
	if s.manifest != nil {
		if err := s.manifest(); err != nil {
			body["status"] = "degraded"
			body["manifest_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errors.WriteErrorResponse(w, r, errors.ValidationError("invalid request body").WithCause(err).Build())
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		s.errors.WriteErrorResponse(w, r, errors.ValidationError("ref is required").Build())
		return
	}
	kind, err := trigger.ParseKind(req.Kind)
	if err != nil {
		s.errors.WriteErrorResponse(w, r, errors.ValidationError("invalid kind").
			WithCause(err).WithContext("kind", req.Kind).Build())
		return
	}

	rc := trigger.RunContext{
		Workspace: req.Workspace,
		Ref:       req.Ref,
		Kind:      kind,
		Source:    req.Source,
		Commit:    req.Commit,
		Variables: req.Variables,
	}
	if rc.Workspace == "" {
		rc.Workspace = s.workspace
	}
	if rc.Source == "" {
		rc.Source = "api"
	}

	entry, err := s.runs.Enqueue(rc)
	if err != nil {
		s.errors.WriteErrorResponse(w, r, err)
		return
	}
	s.logger.Info("Run requested", logfields.RunID(entry.ID), logfields.Ref(rc.Ref), "kind", rc.Kind,
		logfields.RequestID(middleware.GetReqID(r.Context())))
	w.Header().Set("Location", "/runs/"+entry.ID)
	writeJSON(w, http.StatusAccepted, viewFromEntry(entry))
}

// handleListRuns returns queued and running runs followed by finished
// runs, newest first. ?limit bounds the result.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.errors.WriteErrorResponse(w, r, errors.ValidationError("limit must be a positive integer").
				WithContext("limit", raw).Build())
			return
		}
		limit = n
	}

	entries := s.runs.List()
	seen := make(map[string]bool, len(entries))
	views := make([]RunView, 0, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
		views = append(views, viewFromEntry(e))
	}
	if s.history != nil {
		for _, sum := range s.history.History() {
			if !seen[sum.RunID] {
				views = append(views, viewFromSummary(sum))
			}
		}
	}
	slices.SortStableFunc(views, func(a, b RunView) int {
		return sortTime(b).Compare(sortTime(a))
	})
	if len(views) > limit {
		views = views[:limit]
	}
	writeJSON(w, http.StatusOK, views)
}

func sortTime(v RunView) time.Time {
	if v.EnqueuedAt != nil {
		return *v.EnqueuedAt
	}
	if v.StartedAt != nil {
		return *v.StartedAt
	}
	return time.Time{}
}

func (s *Server) lookup(id string) (RunView, bool) {
	if e, ok := s.runs.Get(id); ok {
		return viewFromEntry(e), true
	}
	if s.history != nil {
		if sum, ok := s.history.Get(id); ok {
			return viewFromSummary(sum), true
		}
	}
	return RunView{}, false
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, ok := s.lookup(id)
	if !ok {
		s.errors.WriteErrorResponse(w, r, errors.NotFoundError("run not found").WithContext("run_id", id).Build())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRunReport renders a finished run as HTML, or Markdown with ?format=md.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, ok := s.lookup(id)
	if !ok {
		s.errors.WriteErrorResponse(w, r, errors.NotFoundError("run not found").WithContext("run_id", id).Build())
		return
	}
	if v.outcome == nil {
		s.errors.WriteErrorResponse(w, r, errors.ConflictError("run has not finished").
			WithContext("run_id", id).WithContext("status", v.Status).Build())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := report.Markdown(w, v.outcome); err != nil {
			s.logger.Warn("Failed to render report", logfields.RunID(id), logfields.Error(err))
		}
	case "", "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.HTML(w, v.outcome); err != nil {
			s.logger.Warn("Failed to render report", logfields.RunID(id), logfields.Error(err))
		}
	default:
		s.errors.WriteErrorResponse(w, r, errors.ValidationError("unsupported report format").
			WithContext("format", format).Build())
	}
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
			s.errors.WriteErrorResponse(w, r, errors.ValidationError("invalid request body").WithCause(err).Build())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "canceled via API"
	}
	if err := s.runs.Cancel(id, req.Reason); err != nil {
		s.errors.WriteErrorResponse(w, r, err)
		return
	}
	e, _ := s.runs.Get(id)
	writeJSON(w, http.StatusAccepted, viewFromEntry(e))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
