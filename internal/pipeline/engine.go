// Package pipeline composes the run data flow: manifest, trigger
// evaluation, DAG and scheduler, with workspaces, artifacts and caches
// wired around each job.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pipewright/internal/artifact"
	"git.home.luguber.info/inful/pipewright/internal/cache"
	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/metrics"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/workspace"
)

// Engine starts runs. It is safe for concurrent use.
type Engine struct {
	cfg         *config.Config
	projectDir  string
	exec        executor.Executor
	workspaces  *workspace.Manager
	artifacts   *artifact.Manager
	caches      *cache.Store
	listeners   scheduler.Listeners
	recorder    metrics.Recorder
	logger      *slog.Logger
	backoff     retry.Backoff
	concurrency int
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithExecutor(exec executor.Executor) Option {
	return func(e *Engine) { e.exec = exec }
}

// WithArtifacts enables bundle capture and materialization.
func WithArtifacts(m *artifact.Manager) Option {
	return func(e *Engine) { e.artifacts = m }
}

// WithCache enables job caches.
func WithCache(s *cache.Store) Option {
	return func(e *Engine) { e.caches = s }
}

// WithListener adds run observers.
func WithListener(ls ...scheduler.Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, ls...) }
}

// WithRecorder sets the metrics recorder used for cache lookups. Run and
// job metrics come from a metrics.Observer added with WithListener.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithWorkspaces(m *workspace.Manager) Option {
	return func(e *Engine) { e.workspaces = m }
}

// WithProjectDir sets the directory jobs run in when executor.workdir is "project".
func WithProjectDir(dir string) Option {
	return func(e *Engine) { e.projectDir = dir }
}

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithBackoff(b retry.Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithIDGenerator replaces UUID run IDs, for tests.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New builds an engine from configuration. Without options it runs jobs
// with the local shell executor and keeps neither artifacts nor caches.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		projectDir:  ".",
		logger:      slog.Default(),
		recorder:    metrics.NoopRecorder{},
		backoff:     retry.NewBackoff(cfg.Retry),
		concurrency: cfg.Executor.Concurrency,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.exec == nil {
		e.exec = executor.NewLocal(cfg.Executor.Shell, e.logger)
	}
	if e.workspaces == nil {
		e.workspaces = workspace.NewManager(filepath.Join(cfg.Workspace.DataDir, "runs"), e.logger)
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Start begins executing plan under a new run ID and returns its handle.
func (e *Engine) Start(ctx context.Context, plan *Plan) *scheduler.Run {
	return e.StartWithID(ctx, e.newID(), plan)
}

// StartWithID is Start for callers that allocate run IDs themselves.
func (e *Engine) StartWithID(ctx context.Context, id string, plan *Plan) *scheduler.Run {
	info := scheduler.RunInfo{ID: id, Context: plan.Context}
	e.logger.Info("Starting run",
		logfields.RunID(info.ID),
		logfields.Workspace(plan.Context.Workspace),
		logfields.Ref(plan.Context.Ref),
		"kind", plan.Context.Kind,
		"jobs", plan.DAG.Len(),
		"excluded", len(plan.Excluded()))

	listeners := append(scheduler.Listeners{}, e.listeners...)
	listeners = append(listeners, cleanupListener{e: e})
	s := scheduler.New(e.exec, scheduler.Options{
		Concurrency: e.concurrency,
		Backoff:     e.backoff,
		Hooks:       &jobHooks{e: e, plan: plan},
		Listener:    listeners,
		Logger:      e.logger,
	})
	return s.Start(ctx, info, plan.DAG)
}

// Run executes plan to completion.
func (e *Engine) Run(ctx context.Context, plan *Plan) *scheduler.Outcome {
	return e.Start(ctx, plan).Wait()
}

// cleanupListener removes job directories once a run is archived. Logs stay.
type cleanupListener struct{ e *Engine }

func (cleanupListener) RunStarted(context.Context, scheduler.RunInfo, *graph.DAG) {}
func (cleanupListener) JobTransition(context.Context, scheduler.Transition)       {}

func (c cleanupListener) RunFinished(_ context.Context, o *scheduler.Outcome) {
	if err := c.e.workspaces.Cleanup(o.RunID); err != nil {
		c.e.logger.Warn("Failed to clean run workspace", logfields.RunID(o.RunID), logfields.Error(err))
	}
}
