// Package scheduler executes a run's DAG: it dispatches ready jobs to a
// bounded worker pool, applies retry policies, propagates failures to
// dependents and honors cancellation.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/retry"
)

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 4

// Options tune a Scheduler. Zero values are usable.
type Options struct {
	Concurrency int
	Backoff     retry.Backoff
	Hooks       Hooks
	Listener    Listener
	Logger      *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Scheduler runs DAGs on one executor. It is safe to start several runs
// concurrently; each run has its own worker pool.
type Scheduler struct {
	exec executor.Executor
	opts Options
}

func New(exec executor.Executor, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Hooks == nil {
		opts.Hooks = BasicHooks{}
	}
	if opts.Listener == nil {
		opts.Listener = Listeners(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{exec: exec, opts: opts}
}

// Start begins executing d and returns immediately. Canceling ctx cancels
// the run just like Run.Cancel.
func (s *Scheduler) Start(ctx context.Context, info RunInfo, d *graph.DAG) *Run {
	if info.StartedAt.IsZero() {
		info.StartedAt = s.opts.Now()
	}
	r := newRun(s, info, d)
	s.opts.Listener.RunStarted(ctx, info, d)
	go r.coordinate(ctx)
	return r
}

// Execute runs d to completion.
func (s *Scheduler) Execute(ctx context.Context, info RunInfo, d *graph.DAG) *Outcome {
	return s.Start(ctx, info, d).Wait()
}
