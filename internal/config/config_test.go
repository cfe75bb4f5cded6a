package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipewright.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "workspace:\n  name: demo\n  data_dir: /tmp/pw\n"))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Workspace.Name)
	assert.Equal(t, "sh", cfg.Executor.Shell)
	assert.Positive(t, cfg.Executor.Concurrency)
	assert.Equal(t, DefaultJobTimeout, cfg.Executor.DefaultTimeout.Std())
	assert.Equal(t, WorkDirProject, cfg.Executor.WorkDir)
	assert.Equal(t, RetryBackoffExponential, cfg.Retry.Backoff)
	assert.Equal(t, StorageFS, cfg.Artifacts.Backend)
	assert.Equal(t, filepath.Join("/tmp/pw", "artifacts"), cfg.Artifacts.Path)
	assert.Equal(t, filepath.Join("/tmp/pw", "events.db"), cfg.Events.DSN)
	assert.Equal(t, DefaultKeepVersions, cfg.Cache.KeepVersions)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PW_TEST_BUCKET", "ci-bundles")
	cfg, err := Load(writeConfig(t, `
artifacts:
  backend: S3
  minio:
    endpoint: localhost:9000
    access_key: a
    secret_key: b
    bucket: ${PW_TEST_BUCKET}
retry:
  backoff: Linear
  initial_delay: 5s
  max_delay: 1s
`))
	require.NoError(t, err)
	assert.Equal(t, StorageMinIO, cfg.Artifacts.Backend)
	assert.Equal(t, "ci-bundles", cfg.Artifacts.MinIO.Bucket)
	assert.Equal(t, RetryBackoffLinear, cfg.Retry.Backoff)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay.Std(), "initial delay is capped by max delay")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad backoff", "retry:\n  backoff: random\n", "invalid retry configuration"},
		{"bad duration", "executor:\n  default_timeout: forever\n", "failed to parse config"},
		{"minio without endpoint", "artifacts:\n  backend: minio\n", "artifacts.minio.endpoint"},
		{"bad expire", "artifacts:\n  default_expire_in: soon\n", "default_expire_in"},
		{"postgres without dsn", "events:\n  driver: postgres\n", "events.dsn"},
		{"bad cron", "daemon:\n  schedules:\n    - name: n\n      cron: '* *'\n", "must have 5 fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestInitRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipewright.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Executor.Concurrency)
	require.Len(t, cfg.Daemon.Schedules, 1)
	assert.Equal(t, "nightly", cfg.Daemon.Schedules[0].Name)

	err = Init(path, false)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))
	require.NoError(t, Init(path, true))
}
