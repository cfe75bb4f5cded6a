package scheduler

// State is the lifecycle state of a job within a run.
type State string

const (
	StatePending   State = "pending"
	StateBlocked   State = "blocked"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
	// StateExcluded marks jobs that never entered the run.
	StateExcluded State = "excluded"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled, StateExcluded:
		return true
	}
	return false
}

// waiting reports whether a job has not been dispatched yet.
func (s State) waiting() bool {
	return s == StatePending || s == StateBlocked || s == StateReady
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)
