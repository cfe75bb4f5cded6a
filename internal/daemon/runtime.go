package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/pipewright/internal/artifact"
	"git.home.luguber.info/inful/pipewright/internal/cache"
	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/eventbus"
	"git.home.luguber.info/inful/pipewright/internal/eventstore"
	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/metrics"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/storage"
)

// RuntimeOptions tune NewRuntime. Zero values pick the configured defaults.
type RuntimeOptions struct {
	ProjectDir  string
	Concurrency int
	Executor    executor.Executor
	Logger      *slog.Logger
	// HistorySize bounds the in-memory run history projection.
	HistorySize int
}

// Runtime is the engine with every configured backend wired in. The CLI
// run command and the daemon share it.
type Runtime struct {
	Config    *config.Config
	Engine    *pipeline.Engine
	Artifacts *artifact.Manager
	Caches    *cache.Store
	Events    eventstore.Store
	History   *eventstore.RunHistoryProjection
	Registry  *prom.Registry
	Recorder  *metrics.PrometheusRecorder

	objects storage.ObjectStore
	nats    *eventbus.NATSClient
	logger  *slog.Logger
}

// NewRuntime opens the artifact store, cache, event store and optional
// NATS bus, and builds an engine that reports to all of them.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (_ *Runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	period, err := expiry.Parse(cfg.Artifacts.DefaultExpireIn)
	if err != nil {
		return nil, errors.ConfigError("invalid artifacts.default_expire_in").WithCause(err).Build()
	}
	rt.objects, err = storage.Open(ctx, cfg.Artifacts, logger)
	if err != nil {
		return nil, err
	}
	rt.Artifacts = artifact.NewManager(rt.objects, period, logger)
	rt.Caches = cache.New(cfg.Cache.Path, cfg.Cache.KeepVersions, logger)

	rt.Events, err = eventstore.Open(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}
	rt.History = eventstore.NewRunHistoryProjection(rt.Events, opts.HistorySize)
	if err := rt.History.Rebuild(ctx); err != nil {
		logger.Warn("Run history unavailable", logfields.Error(err))
	}

	rt.Registry = prom.NewRegistry()
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Recorder = metrics.NewPrometheusRecorder(rt.Registry)

	engineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithArtifacts(rt.Artifacts),
		pipeline.WithCache(rt.Caches),
		pipeline.WithRecorder(rt.Recorder),
		pipeline.WithConcurrency(opts.Concurrency),
		pipeline.WithListener(
			eventstore.NewRecorder(rt.Events, rt.History, logger),
			metrics.NewObserver(rt.Recorder),
		),
	}
	if opts.ProjectDir != "" {
		engineOpts = append(engineOpts, pipeline.WithProjectDir(opts.ProjectDir))
	}
	if opts.Executor != nil {
		engineOpts = append(engineOpts, pipeline.WithExecutor(opts.Executor))
	}

	if cfg.NATS.URL != "" {
		client, nerr := eventbus.Connect(ctx, cfg.NATS, logger)
		if nerr != nil {
			// Publishing is best effort; runs go on without it.
			logger.Warn("NATS event bus unavailable", logfields.Error(nerr))
		} else {
			rt.nats = client
			engineOpts = append(engineOpts, pipeline.WithListener(eventbus.New(client, client, cfg.NATS.SubjectPrefix, logger)))
		}
	}

	rt.Engine = pipeline.New(cfg, engineOpts...)
	return rt, nil
}

// Close releases every backend. It is safe to call on a partial Runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.nats != nil {
		errs = append(errs, rt.nats.Close())
	}
	if rt.Events != nil {
		errs = append(errs, rt.Events.Close())
	}
	if rt.objects != nil {
		errs = append(errs, rt.objects.Close())
	}
	return stderrors.Join(errs...)
}
