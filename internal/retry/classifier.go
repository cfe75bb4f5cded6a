package retry

// Signal describes one failed attempt. Attempt is 1-based.
type Signal struct {
	Class   FailureClass
	Attempt int
}

// Decision is the classifier's verdict on a failed attempt.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionTerminal Decision = "terminal"
)

// Classify decides whether a failed attempt is retried. Only infrastructure
// classes listed in the policy are retried, and only while attempts remain.
// Unknown classes are treated as unknown_failure.
func Classify(sig Signal, p Policy) Decision {
	class := sig.Class
	if !class.Known() {
		class = UnknownFailure
	}
	if !class.IsInfrastructure() {
		return DecisionTerminal
	}
	if !p.Retries(class) {
		return DecisionTerminal
	}
	if sig.Attempt >= p.MaxAttempts() {
		return DecisionTerminal
	}
	return DecisionRetry
}
