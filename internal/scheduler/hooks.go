package scheduler

import (
	"context"

	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
)

// Hooks run around each job. Prepare is called before every attempt and
// builds the executor spec; an error counts as an environment_unavailable
// failure of that attempt. Finish is called once the job is terminal (never
// for canceled jobs) and returns the IDs of captured artifact bundles.
type Hooks interface {
	Prepare(ctx context.Context, run RunInfo, node *graph.Node, attempt int) (executor.JobSpec, error)
	Finish(ctx context.Context, run RunInfo, node *graph.Node, spec executor.JobSpec, res executor.Result) ([]string, error)
}

// BasicHooks runs every job in one directory and keeps no artifacts.
type BasicHooks struct {
	WorkDir string
}

func (h BasicHooks) Prepare(_ context.Context, run RunInfo, node *graph.Node, attempt int) (executor.JobSpec, error) {
	return SpecFor(run, node, attempt, h.WorkDir), nil
}

func (BasicHooks) Finish(context.Context, RunInfo, *graph.Node, executor.JobSpec, executor.Result) ([]string, error) {
	return nil, nil
}

// SpecFor fills the job-derived fields of an executor spec.
func SpecFor(run RunInfo, node *graph.Node, attempt int, workDir string) executor.JobSpec {
	job := node.Job
	return executor.JobSpec{
		RunID:     run.ID,
		Job:       job.Name,
		Stage:     job.Stage,
		Attempt:   attempt,
		Workspace: run.Context.Workspace,
		Ref:       run.Context.Ref,
		Kind:      string(run.Context.Kind),
		Commit:    run.Context.Commit,
		Script:    job.Script,
		Image:     job.Image,
		Tags:      job.Tags,
		Variables: job.Variables,
		Timeout:   job.Timeout,
		WorkDir:   workDir,
	}
}
