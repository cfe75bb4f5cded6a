package eventstore

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
)

// Recorder persists scheduler notifications and keeps an optional
// projection current. Store failures are logged; they never affect a run.
type Recorder struct {
	store      Store
	projection *RunHistoryProjection
	logger     *slog.Logger
}

// NewRecorder returns a scheduler.Listener writing to store. projection may be nil.
func NewRecorder(store Store, projection *RunHistoryProjection, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, projection: projection, logger: logger}
}

func (r *Recorder) RunStarted(ctx context.Context, info scheduler.RunInfo, d *graph.DAG) {
	ev, err := NewRunStarted(info, d)
	r.record(ctx, ev, err)
}

func (r *Recorder) JobTransition(ctx context.Context, t scheduler.Transition) {
	ev, err := NewJobTransitioned(t)
	r.record(ctx, ev, err)
}

func (r *Recorder) RunFinished(ctx context.Context, o *scheduler.Outcome) {
	ev, err := NewRunFinished(o)
	r.record(ctx, ev, err)
}

func (r *Recorder) record(ctx context.Context, ev Event, err error) {
	if err != nil {
		r.logger.Warn("Failed to build event", logfields.Error(err))
		return
	}
	// Events must land even when the run was canceled.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Append(ctx, ev.RunID(), ev.Type(), ev.Payload(), ev.Metadata()); err != nil {
		r.logger.Warn("Failed to record event",
			logfields.RunID(ev.RunID()),
			slog.String("event_type", ev.Type()),
			logfields.Error(err))
	}
	if r.projection != nil {
		r.projection.Apply(ev)
	}
}

// Replay reads one run's events and projects them into a summary.
func Replay(ctx context.Context, store Store, runID string) (*RunSummary, error) {
	events, err := store.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NotFoundError("run not found").WithContext("run_id", runID).Build()
	}
	p := NewRunHistoryProjection(store, 1)
	for _, ev := range events {
		p.Apply(ev)
	}
	summary, _ := p.Get(runID)
	return summary, nil
}
