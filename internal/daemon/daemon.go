// Package daemon runs pipewright as a service: an HTTP API, a run queue,
// cron schedules, artifact pruning and a manifest watcher that reloads the
// pipeline without a restart.
package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/pipewright/internal/api"
	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/gitctx"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/metrics"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/runqueue"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Options configures a Daemon.
type Options struct {
	// ProjectDir holds the manifest; relative manifest paths resolve against it.
	ProjectDir string
	Logger     *slog.Logger
}

// Daemon owns the long-running components.
type Daemon struct {
	cfg       *config.Config
	rt        *Runtime
	source    *ManifestSource
	queue     *runqueue.Queue
	server    *api.Server
	sched     *Scheduler
	workspace string
	logger    *slog.Logger
}

// New loads the manifest and wires queue, API and schedules around rt.
func New(cfg *config.Config, rt *Runtime, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := opts.ProjectDir
	if dir == "" {
		dir = "."
	}

	source, err := NewManifestSource(ManifestPath(cfg, dir), logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		rt:        rt,
		source:    source,
		workspace: ResolveWorkspace(cfg, dir),
		logger:    logger,
	}
	d.queue = runqueue.New(runqueue.StarterFunc(d.start), runqueue.Options{
		Workers:   cfg.Daemon.Workers,
		Size:      cfg.Daemon.QueueSize,
		Supersede: cfg.Daemon.Supersede,
		Logger:    logger,
	})
	metrics.RegisterQueueDepth(rt.Registry, d.queue.Length)

	d.server = api.NewServer(api.Options{
		Addr:      cfg.Daemon.Listen,
		Workspace: d.workspace,
		Runs:      d.queue,
		History:   rt.History,
		Registry:  rt.Registry,
		Logger:    logger,

		ManifestError: d.source.LastError,
	})

	d.sched, err = NewScheduler(d.queue, d.workspace, logger)
	if err != nil {
		return nil, err
	}
	for _, sc := range cfg.Daemon.Schedules {
		if err := d.sched.AddSchedule(sc); err != nil {
			return nil, err
		}
	}
	if err := d.sched.AddPrune(cfg.Daemon.PruneInterval.Std(), rt.Artifacts); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daemon) Queue() *runqueue.Queue    { return d.queue }
func (d *Daemon) Manifest() *ManifestSource { return d.source }
func (d *Daemon) Server() *api.Server       { return d.server }
func (d *Daemon) Workspace() string         { return d.workspace }

func (d *Daemon) start(ctx context.Context, id string, rc trigger.RunContext) (*scheduler.Run, error) {
	plan, err := pipeline.NewPlan(d.source.Current(), rc)
	if err != nil {
		return nil, err
	}
	return d.rt.Engine.StartWithID(ctx, id, plan), nil
}

// Run serves until ctx is canceled or a component fails, then stops the
// scheduler and cancels active runs.
func (d *Daemon) Run(ctx context.Context) error {
	var watcher *Watcher
	if d.cfg.Daemon.Watch {
		w, err := NewWatcher(d.source.Path(), func() { _ = d.source.Reload() }, d.logger)
		if err != nil {
			return err
		}
		watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)

	d.queue.Start(gctx)
	d.sched.Start()
	d.logger.Info("Daemon started", "workspace", d.workspace, "manifest", d.source.Path(), "listen", d.cfg.Daemon.Listen)

	g.Go(func() error { return d.server.ListenAndServe(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		d.shutdown()
		return nil
	})

	err := g.Wait()
	d.logger.Info("Daemon stopped")
	return err
}

func (d *Daemon) shutdown() {
	start := time.Now()
	if err := d.sched.Stop(); err != nil {
		d.logger.Warn("Scheduler shutdown failed", logfields.Error(err))
	}
	d.queue.Stop(context.Background())
	d.logger.Info("Run queue drained", "duration", time.Since(start).String())
}

// ManifestPath resolves the configured manifest against dir.
func ManifestPath(cfg *config.Config, dir string) string {
	if filepath.IsAbs(cfg.Workspace.Manifest) {
		return cfg.Workspace.Manifest
	}
	return filepath.Join(dir, cfg.Workspace.Manifest)
}

// ResolveWorkspace picks the configured workspace name, then the git
// repository name, then the directory name.
func ResolveWorkspace(cfg *config.Config, dir string) string {
	if cfg.Workspace.Name != "" {
		return cfg.Workspace.Name
	}
	if info, err := gitctx.Detect(dir); err == nil && info.Workspace != "" {
		return info.Workspace
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return filepath.Base(abs)
	}
	return filepath.Base(dir)
}
