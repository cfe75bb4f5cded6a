package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

const (
	DefaultJobTimeout    = time.Hour
	DefaultRetryInitial  = 2 * time.Second
	DefaultRetryMax      = time.Minute
	DefaultExpireIn      = "30 days"
	DefaultKeepVersions  = 2
	DefaultPruneInterval = time.Hour
	DefaultSubjectPrefix = "pipewright"
	DefaultStream        = "PIPEWRIGHT"
)

// defaultApplier applies defaults for one configuration domain.
type defaultApplier interface {
	domain() string
	apply(cfg *Config) error
}

func applyDefaults(cfg *Config) error {
	appliers := []defaultApplier{
		workspaceDefaults{}, executorDefaults{}, retryDefaults{}, artifactDefaults{},
		cacheDefaults{}, eventsDefaults{}, natsDefaults{}, daemonDefaults{}, loggingDefaults{},
	}
	for _, a := range appliers {
		if err := a.apply(cfg); err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid "+a.domain()+" configuration").Build()
		}
	}
	return nil
}

type workspaceDefaults struct{}

func (workspaceDefaults) domain() string { return "workspace" }

func (workspaceDefaults) apply(cfg *Config) error {
	if cfg.Workspace.DataDir == "" {
		cfg.Workspace.DataDir = ".pipewright"
	}
	if cfg.Workspace.Manifest == "" {
		cfg.Workspace.Manifest = ".pipewright.yml"
	}
	if cfg.Workspace.Name == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace.Name = filepath.Base(wd)
		}
	}
	return nil
}

type executorDefaults struct{}

func (executorDefaults) domain() string { return "executor" }

func (executorDefaults) apply(cfg *Config) error {
	if cfg.Executor.Concurrency <= 0 {
		cfg.Executor.Concurrency = runtime.NumCPU()
	}
	if cfg.Executor.Shell == "" {
		cfg.Executor.Shell = "sh"
	}
	if cfg.Executor.DefaultTimeout <= 0 {
		cfg.Executor.DefaultTimeout = Duration(DefaultJobTimeout)
	}
	mode, err := workDirNormalizer.Parse(string(cfg.Executor.WorkDir))
	if err != nil {
		return err
	}
	cfg.Executor.WorkDir = mode
	return nil
}

type retryDefaults struct{}

func (retryDefaults) domain() string { return "retry" }

func (retryDefaults) apply(cfg *Config) error {
	mode, err := NormalizeRetryBackoff(string(cfg.Retry.Backoff))
	if err != nil {
		return err
	}
	cfg.Retry.Backoff = mode
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = Duration(DefaultRetryInitial)
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = Duration(DefaultRetryMax)
	}
	if cfg.Retry.InitialDelay > cfg.Retry.MaxDelay {
		cfg.Retry.InitialDelay = cfg.Retry.MaxDelay
	}
	return nil
}

type artifactDefaults struct{}

func (artifactDefaults) domain() string { return "artifacts" }

func (artifactDefaults) apply(cfg *Config) error {
	backend, err := storageBackendNormalizer.Parse(string(cfg.Artifacts.Backend))
	if err != nil {
		return err
	}
	cfg.Artifacts.Backend = backend
	if cfg.Artifacts.Path == "" {
		cfg.Artifacts.Path = filepath.Join(cfg.Workspace.DataDir, "artifacts")
	}
	if cfg.Artifacts.DefaultExpireIn == "" {
		cfg.Artifacts.DefaultExpireIn = DefaultExpireIn
	}
	if cfg.Artifacts.MinIO.Bucket == "" {
		cfg.Artifacts.MinIO.Bucket = "pipewright-artifacts"
	}
	return nil
}

type cacheDefaults struct{}

func (cacheDefaults) domain() string { return "cache" }

func (cacheDefaults) apply(cfg *Config) error {
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.Workspace.DataDir, "cache")
	}
	if cfg.Cache.KeepVersions <= 0 {
		cfg.Cache.KeepVersions = DefaultKeepVersions
	}
	return nil
}

type eventsDefaults struct{}

func (eventsDefaults) domain() string { return "events" }

func (eventsDefaults) apply(cfg *Config) error {
	driver, err := eventsDriverNormalizer.Parse(string(cfg.Events.Driver))
	if err != nil {
		return err
	}
	cfg.Events.Driver = driver
	if driver == EventsSQLite && cfg.Events.DSN == "" {
		cfg.Events.DSN = filepath.Join(cfg.Workspace.DataDir, "events.db")
	}
	return nil
}

type natsDefaults struct{}

func (natsDefaults) domain() string { return "nats" }

func (natsDefaults) apply(cfg *Config) error {
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = DefaultStream
	}
	return nil
}

type daemonDefaults struct{}

func (daemonDefaults) domain() string { return "daemon" }

func (daemonDefaults) apply(cfg *Config) error {
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":8080"
	}
	if cfg.Daemon.Workers <= 0 {
		cfg.Daemon.Workers = 1
	}
	if cfg.Daemon.QueueSize <= 0 {
		cfg.Daemon.QueueSize = 100
	}
	if cfg.Daemon.PruneInterval <= 0 {
		cfg.Daemon.PruneInterval = Duration(DefaultPruneInterval)
	}
	for i := range cfg.Daemon.Schedules {
		if cfg.Daemon.Schedules[i].Ref == "" {
			cfg.Daemon.Schedules[i].Ref = "main"
		}
	}
	return nil
}

type loggingDefaults struct{}

func (loggingDefaults) domain() string { return "logging" }

func (loggingDefaults) apply(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	return nil
}
