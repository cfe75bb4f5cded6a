package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "pipewright.yaml"

// Config is the application configuration. It is immutable after Load returns.
type Config struct {
	Version   string          `yaml:"version"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Retry     RetryConfig     `yaml:"retry"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	NATS      NATSConfig      `yaml:"nats"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkspaceConfig identifies the workspace and where run state lives.
type WorkspaceConfig struct {
	Name     string `yaml:"name"`     // falls back to the git origin or directory name
	DataDir  string `yaml:"data_dir"` // root for runs, cache, artifacts and the event db
	Manifest string `yaml:"manifest"` // pipeline manifest path
}

// ExecutorConfig controls the job executor and the scheduler's worker pool.
type ExecutorConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	Shell          string   `yaml:"shell"`
	DefaultTimeout Duration `yaml:"default_timeout"`
	// WorkDir selects where jobs run: "project" (the manifest's directory) or "isolated".
	WorkDir WorkDirMode `yaml:"workdir"`
}

// RetryConfig holds the backoff applied between attempts of a retried job.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay Duration         `yaml:"initial_delay"`
	MaxDelay     Duration         `yaml:"max_delay"`
}

// ArtifactsConfig selects the bundle backend and default retention.
type ArtifactsConfig struct {
	Backend         StorageBackend `yaml:"backend"`
	Path            string         `yaml:"path"`
	DefaultExpireIn string         `yaml:"default_expire_in"`
	MinIO           MinIOConfig    `yaml:"minio"`
}

// MinIOConfig configures the S3 compatible bundle backend.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type CacheConfig struct {
	Path         string `yaml:"path"`
	KeepVersions int    `yaml:"keep_versions"`
}

// EventsConfig selects the event store driver.
type EventsConfig struct {
	Driver EventsDriver `yaml:"driver"`
	DSN    string       `yaml:"dsn"`
}

// NATSConfig enables publishing of run events. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Stream        string `yaml:"stream"`
}

// DaemonConfig configures the long-running service.
type DaemonConfig struct {
	Listen        string           `yaml:"listen"`
	Watch         bool             `yaml:"watch"`
	Supersede     bool             `yaml:"supersede"`
	Workers       int              `yaml:"workers"`
	QueueSize     int              `yaml:"queue_size"`
	PruneInterval Duration         `yaml:"prune_interval"`
	Schedules     []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig triggers a run of ref on a cron expression.
type ScheduleConfig struct {
	Name      string            `yaml:"name"`
	Cron      string            `yaml:"cron"`
	Ref       string            `yaml:"ref"`
	Variables map[string]string `yaml:"variables"`
}

type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, expands, defaults and validates a configuration file.
// A missing file at the default path yields the default configuration.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); uerr != nil {
			return nil, errors.WrapError(uerr, errors.CategoryConfig, "failed to parse config").
				WithContext("path", path).Build()
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config").
			WithContext("path", path).Build()
	}
	return Finalize(cfg)
}

// Finalize applies defaults and validates cfg. Load calls it; tests and
// embedders building a Config in code call it directly.
func Finalize(cfg *Config) (*Config, error) {
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg, err := Finalize(&Config{})
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Init writes an example configuration file.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.ConflictError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).Build()
	}
	example := Config{
		Version:   "1",
		Workspace: WorkspaceConfig{DataDir: ".pipewright", Manifest: ".pipewright.yml"},
		Executor:  ExecutorConfig{Concurrency: 4, Shell: "sh", DefaultTimeout: Duration(DefaultJobTimeout), WorkDir: WorkDirProject},
		Retry:     RetryConfig{Backoff: RetryBackoffExponential, InitialDelay: Duration(DefaultRetryInitial), MaxDelay: Duration(DefaultRetryMax)},
		Artifacts: ArtifactsConfig{Backend: StorageFS, DefaultExpireIn: DefaultExpireIn},
		Cache:     CacheConfig{KeepVersions: DefaultKeepVersions},
		Events:    EventsConfig{Driver: EventsSQLite},
		Daemon: DaemonConfig{
			Listen:        ":8080",
			Watch:         true,
			Supersede:     true,
			Workers:       2,
			QueueSize:     100,
			PruneInterval: Duration(DefaultPruneInterval),
			Schedules:     []ScheduleConfig{{Name: "nightly", Cron: "0 2 * * *", Ref: "main"}},
		},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
	}
	data, err := yaml.Marshal(&example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to write config").
			WithContext("path", path).Build()
	}
	return nil
}
