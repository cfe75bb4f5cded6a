package retry

// FailureClass labels why an attempt failed.
type FailureClass string

// Infrastructure classes: the environment failed the job.
const (
	EnvironmentUnavailable FailureClass = "environment_unavailable"
	ExecutorError          FailureClass = "executor_error"
	APIFailure             FailureClass = "api_failure"
)

// Job classes: the job itself failed. These are never retried.
const (
	ScriptFailure       FailureClass = "script_failure"
	JobExecutionTimeout FailureClass = "job_execution_timeout"
	ValidationFailure   FailureClass = "validation_failure"
	UnknownFailure      FailureClass = "unknown_failure"
)

// InfrastructureClasses lists every retryable class in a stable order.
func InfrastructureClasses() []FailureClass {
	return []FailureClass{EnvironmentUnavailable, ExecutorError, APIFailure}
}

func (c FailureClass) IsInfrastructure() bool {
	switch c {
	case EnvironmentUnavailable, ExecutorError, APIFailure:
		return true
	}
	return false
}

func (c FailureClass) IsJob() bool {
	switch c {
	case ScriptFailure, JobExecutionTimeout, ValidationFailure, UnknownFailure:
		return true
	}
	return false
}

// Known reports whether c is one of the defined classes.
func (c FailureClass) Known() bool { return c.IsInfrastructure() || c.IsJob() }
