// Package executor defines the contract between the scheduler and whatever
// actually runs a job's script, plus a local shell implementation.
package executor

import (
	"context"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/retry"
)

// JobSpec is everything an executor needs to run one attempt of a job.
// Image and Tags are passed through untouched; the local executor ignores them.
type JobSpec struct {
	RunID     string
	Job       string
	Stage     string
	Attempt   int
	Workspace string
	Ref       string
	Kind      string
	Commit    string

	Script    []string
	Image     string
	Tags      []string
	Variables map[string]string
	Timeout   time.Duration

	WorkDir      string // where the script runs and artifact paths are resolved
	CacheDir     string
	ArtifactsDir string // read-only bundles of upstream jobs
	LogPath      string // job output is appended here when set
}

// Status is the terminal status of one attempt.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusCanceled Status = "canceled"
)

// Result reports one attempt. Class is set when Status is StatusFailure.
// OutputDir overrides WorkDir as the root for artifact capture.
type Result struct {
	Status    Status
	Class     retry.FailureClass
	ExitCode  int
	Err       error
	OutputDir string
	Duration  time.Duration
}

// Executor runs one attempt of a job. Execute must return promptly after ctx
// is canceled, reporting StatusCanceled.
type Executor interface {
	Execute(ctx context.Context, spec JobSpec) Result
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, spec JobSpec) Result

func (f Func) Execute(ctx context.Context, spec JobSpec) Result { return f(ctx, spec) }

// Failed builds a failure result.
func Failed(class retry.FailureClass, err error) Result {
	return Result{Status: StatusFailure, Class: class, Err: err}
}
