package scheduler

import (
	"time"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// RunInfo identifies a run handed to the scheduler.
type RunInfo struct {
	ID        string             `json:"run_id"`
	Context   trigger.RunContext `json:"context"`
	StartedAt time.Time          `json:"started_at"`
}

// JobResult is the recorded state of one job.
type JobResult struct {
	Name         string             `json:"name"`
	Stage        string             `json:"stage"`
	State        State              `json:"state"`
	Attempts     int                `json:"attempts"`
	FailureClass retry.FailureClass `json:"failure_class,omitempty"`
	Error        string             `json:"error,omitempty"`
	Bundles      []string           `json:"bundles,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}

// Duration is zero until the job finished.
func (j JobResult) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// Outcome is the final report of a run. Jobs are in topological order.
type Outcome struct {
	RunID        string             `json:"run_id"`
	Status       RunStatus          `json:"status"`
	Context      trigger.RunContext `json:"context"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	Jobs         []JobResult        `json:"jobs"`
	Excluded     []graph.Excluded   `json:"excluded,omitempty"`
}

// Job returns the result of one job.
func (o *Outcome) Job(name string) (JobResult, bool) {
	for _, j := range o.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}

// NonSucceeded lists every job that did not succeed.
func (o *Outcome) NonSucceeded() []JobResult {
	var out []JobResult
	for _, j := range o.Jobs {
		if j.State != StateSucceeded {
			out = append(out, j)
		}
	}
	return out
}

func (o *Outcome) Duration() time.Duration { return o.FinishedAt.Sub(o.StartedAt) }

// decideStatus: succeeded iff every job succeeded; canceled if canceled
// externally and nothing failed; failed otherwise.
func decideStatus(jobs []JobResult, canceled bool) RunStatus {
	allOK, anyFailed := true, false
	for _, j := range jobs {
		if j.State != StateSucceeded {
			allOK = false
		}
		if j.State == StateFailed {
			anyFailed = true
		}
	}
	switch {
	case allOK:
		return RunSucceeded
	case canceled && !anyFailed:
		return RunCanceled
	default:
		return RunFailed
	}
}
