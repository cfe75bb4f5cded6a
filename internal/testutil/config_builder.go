// Package testutil holds test fixtures shared across packages: a fluent
// configuration builder, project scaffolding and git repositories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pipewright/internal/config"
)

// ConfigBuilder provides a fluent interface for creating test configurations.
// Every build gets its own data directory and runs jobs in isolated dirs.
type ConfigBuilder struct {
	config *config.Config
	t      testing.TB
}

func NewConfigBuilder(t testing.TB) *ConfigBuilder {
	t.Helper()
	return &ConfigBuilder{
		config: &config.Config{
			Workspace: config.WorkspaceConfig{Name: "demo", DataDir: t.TempDir()},
			Executor:  config.ExecutorConfig{WorkDir: config.WorkDirIsolated},
			Daemon:    config.DaemonConfig{Listen: "127.0.0.1:0"},
		},
		t: t,
	}
}

func (cb *ConfigBuilder) WithWorkspace(name string) *ConfigBuilder {
	cb.config.Workspace.Name = name
	return cb
}

func (cb *ConfigBuilder) WithDataDir(dir string) *ConfigBuilder {
	cb.config.Workspace.DataDir = dir
	return cb
}

func (cb *ConfigBuilder) WithConcurrency(n int) *ConfigBuilder {
	cb.config.Executor.Concurrency = n
	return cb
}

// WithSchedule adds a cron schedule for ref.
func (cb *ConfigBuilder) WithSchedule(name, cron, ref string) *ConfigBuilder {
	cb.config.Daemon.Schedules = append(cb.config.Daemon.Schedules, config.ScheduleConfig{Name: name, Cron: cron, Ref: ref})
	return cb
}

func (cb *ConfigBuilder) WithSupersede() *ConfigBuilder {
	cb.config.Daemon.Supersede = true
	return cb
}

func (cb *ConfigBuilder) WithEvents(driver config.EventsDriver, dsn string) *ConfigBuilder {
	cb.config.Events = config.EventsConfig{Driver: driver, DSN: dsn}
	return cb
}

// Build applies defaults and validation; it fails the test on error.
func (cb *ConfigBuilder) Build() *config.Config {
	cb.t.Helper()
	cfg, err := config.Finalize(cb.config)
	require.NoError(cb.t, err)
	return cfg
}

// BuildAndSave writes the configuration as YAML to path before
// finalizing it, so the file holds only what the test set.
func (cb *ConfigBuilder) BuildAndSave(path string) *config.Config {
	cb.t.Helper()
	data, err := yaml.Marshal(cb.config)
	require.NoError(cb.t, err)
	require.NoError(cb.t, os.WriteFile(path, data, 0o600))
	return cb.Build()
}

// WriteManifest writes src as the default manifest in dir and returns its path.
func WriteManifest(t testing.TB, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, ".pipewright.yml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}
