package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/retry"
)

func spec(t *testing.T, script ...string) JobSpec {
	t.Helper()
	dir := t.TempDir()
	return JobSpec{
		RunID:     "run-1",
		Job:       "unit",
		Stage:     "test",
		Attempt:   1,
		Script:    script,
		Variables: map[string]string{"GREETING": "hello"},
		WorkDir:   dir,
		LogPath:   filepath.Join(dir, "job.log"),
	}
}

func TestLocalSuccessWritesLogAndEnv(t *testing.T) {
	s := spec(t, `echo "$GREETING from $PIPEWRIGHT_JOB_NAME"`, "echo attempt=$PIPEWRIGHT_JOB_ATTEMPT > out.txt")
	res := NewLocal("sh", nil).Execute(t.Context(), s)

	require.Equal(t, StatusSuccess, res.Status, "err: %v", res.Err)
	assert.Equal(t, s.WorkDir, res.OutputDir)

	log, err := os.ReadFile(s.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "hello from unit")

	out, err := os.ReadFile(filepath.Join(s.WorkDir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "attempt=1\n", string(out))
}

func TestLocalScriptFailureStopsAtFailingLine(t *testing.T) {
	s := spec(t, "exit 3", "touch never")
	res := NewLocal("sh", nil).Execute(t.Context(), s)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, retry.ScriptFailure, res.Class)
	assert.Equal(t, 3, res.ExitCode)
	assert.NoFileExists(t, filepath.Join(s.WorkDir, "never"))
}

func TestLocalTimeout(t *testing.T) {
	s := spec(t, "sleep 5")
	s.Timeout = 50 * time.Millisecond
	l := NewLocal("sh", nil)
	l.waitDelay = 100 * time.Millisecond

	res := l.Execute(t.Context(), s)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, retry.JobExecutionTimeout, res.Class)
}

func TestLocalCanceled(t *testing.T) {
	s := spec(t, "sleep 5")
	ctx, cancel := context.WithCancel(t.Context())
	l := NewLocal("sh", nil)
	l.waitDelay = 100 * time.Millisecond

	time.AfterFunc(50*time.Millisecond, cancel)
	res := l.Execute(ctx, s)
	assert.Equal(t, StatusCanceled, res.Status)
}

func TestLocalEnvironmentUnavailable(t *testing.T) {
	s := spec(t, "true")
	res := NewLocal("definitely-not-a-shell-xyz", nil).Execute(t.Context(), s)
	assert.Equal(t, retry.EnvironmentUnavailable, res.Class)

	s.WorkDir = filepath.Join(s.WorkDir, "missing")
	res = NewLocal("sh", nil).Execute(t.Context(), s)
	assert.Equal(t, retry.EnvironmentUnavailable, res.Class)
}

func TestEnvironmentPredefinedWins(t *testing.T) {
	env := Environment(JobSpec{RunID: "r", Variables: map[string]string{"PIPEWRIGHT_RUN_ID": "spoofed"}})
	last := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "PIPEWRIGHT_RUN_ID=") {
			last = kv
		}
	}
	assert.Equal(t, "PIPEWRIGHT_RUN_ID=r", last, "later entries win in exec environments")
}
