package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/retry"
)

// Local runs each script line with "<shell> -c" on the host.
type Local struct {
	shell     string
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewLocal creates a local executor. An empty shell means "sh".
func NewLocal(shell string, logger *slog.Logger) *Local {
	if shell == "" {
		shell = "sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{shell: shell, waitDelay: 5 * time.Second, logger: logger}
}

func (l *Local) Execute(ctx context.Context, spec JobSpec) Result {
	start := time.Now()
	res := l.execute(ctx, spec)
	res.Duration = time.Since(start)
	if res.OutputDir == "" {
		res.OutputDir = spec.WorkDir
	}
	return res
}

func (l *Local) execute(ctx context.Context, spec JobSpec) Result {
	shell, err := exec.LookPath(l.shell)
	if err != nil {
		return Failed(retry.EnvironmentUnavailable, fmt.Errorf("shell %q not found: %w", l.shell, err))
	}
	if fi, err := os.Stat(spec.WorkDir); err != nil || !fi.IsDir() {
		return Failed(retry.EnvironmentUnavailable, fmt.Errorf("work dir %q unavailable", spec.WorkDir))
	}

	var out io.Writer = io.Discard
	if spec.LogPath != "" {
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Failed(retry.EnvironmentUnavailable, fmt.Errorf("open job log: %w", err))
		}
		defer f.Close()
		out = f
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	env := Environment(spec)
	for i, line := range spec.Script {
		_, _ = fmt.Fprintf(out, "$ %s\n", line)
		cmd := exec.CommandContext(runCtx, shell, "-c", line)
		cmd.Dir = spec.WorkDir
		cmd.Env = env
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.WaitDelay = l.waitDelay

		err := cmd.Run()
		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			return Result{Status: StatusCanceled, Err: ctx.Err()}
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return Failed(retry.JobExecutionTimeout, fmt.Errorf("timed out after %s", spec.Timeout))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			l.logger.Debug("Script line failed",
				logfields.RunID(spec.RunID), logfields.Job(spec.Job),
				slog.Int("line", i+1), slog.Int("exit_code", exitErr.ExitCode()))
			r := Failed(retry.ScriptFailure, fmt.Errorf("command %d exited with %d", i+1, exitErr.ExitCode()))
			r.ExitCode = exitErr.ExitCode()
			return r
		}
		return Failed(retry.ExecutorError, fmt.Errorf("start command %d: %w", i+1, err))
	}
	return Result{Status: StatusSuccess}
}

// Environment is the process environment plus job variables plus the
// predefined PIPEWRIGHT_* variables, which cannot be overridden.
func Environment(spec JobSpec) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(spec.Variables)) {
		env = append(env, k+"="+spec.Variables[k])
	}
	predefined := [][2]string{
		{"CI", "true"},
		{"PIPEWRIGHT", "true"},
		{"PIPEWRIGHT_RUN_ID", spec.RunID},
		{"PIPEWRIGHT_JOB_NAME", spec.Job},
		{"PIPEWRIGHT_JOB_STAGE", spec.Stage},
		{"PIPEWRIGHT_JOB_ATTEMPT", strconv.Itoa(spec.Attempt)},
		{"PIPEWRIGHT_WORKSPACE", spec.Workspace},
		{"PIPEWRIGHT_REF", spec.Ref},
		{"PIPEWRIGHT_REF_KIND", spec.Kind},
		{"PIPEWRIGHT_COMMIT", spec.Commit},
		{"PIPEWRIGHT_PROJECT_DIR", spec.WorkDir},
		{"PIPEWRIGHT_CACHE_DIR", spec.CacheDir},
		{"PIPEWRIGHT_ARTIFACTS_DIR", spec.ArtifactsDir},
	}
	for _, kv := range predefined {
		env = append(env, kv[0]+"="+kv[1])
	}
	return env
}
