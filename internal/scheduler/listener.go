package scheduler

import (
	"context"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/retry"
)

// Transition is one job state change.
type Transition struct {
	RunID   string             `json:"run_id"`
	Job     string             `json:"job"`
	Stage   string             `json:"stage"`
	From    State              `json:"from"`
	To      State              `json:"to"`
	Attempt int                `json:"attempt,omitempty"`
	Class   retry.FailureClass `json:"failure_class,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	At      time.Time          `json:"at"`
}

// Listener observes a run. Methods are called from several goroutines and
// must not block for long. Transitions of one job arrive in order, and a
// dependency's terminal transition arrives before its dependents start.
type Listener interface {
	RunStarted(ctx context.Context, info RunInfo, d *graph.DAG)
	JobTransition(ctx context.Context, t Transition)
	RunFinished(ctx context.Context, o *Outcome)
}

// Listeners fans out to several listeners. Nil entries are skipped.
type Listeners []Listener

func (ls Listeners) RunStarted(ctx context.Context, info RunInfo, d *graph.DAG) {
	for _, l := range ls {
		if l != nil {
			l.RunStarted(ctx, info, d)
		}
	}
}

func (ls Listeners) JobTransition(ctx context.Context, t Transition) {
	for _, l := range ls {
		if l != nil {
			l.JobTransition(ctx, t)
		}
	}
}

func (ls Listeners) RunFinished(ctx context.Context, o *Outcome) {
	for _, l := range ls {
		if l != nil {
			l.RunFinished(ctx, o)
		}
	}
}
