package retry

import (
	"fmt"
	"slices"
)

// Policy is a job's retry declaration. Max counts retries, so a job runs at
// most Max+1 times.
type Policy struct {
	Max  int
	When []FailureClass
}

// NoRetry is the default policy.
func NoRetry() Policy { return Policy{} }

// Retries reports whether class is listed in the policy.
func (p Policy) Retries(class FailureClass) bool {
	return slices.Contains(p.When, class)
}

// MaxAttempts is the upper bound on executions of the job.
func (p Policy) MaxAttempts() int { return p.Max + 1 }

// NewPolicy builds a policy from a manifest retry declaration. An empty when
// list means "always". Job classes are accepted but reported as warnings
// since they never trigger a retry.
func NewPolicy(maxRetries int, when []string) (Policy, []string, error) {
	if maxRetries < 0 {
		return Policy{}, nil, fmt.Errorf("retry max must not be negative, got %d", maxRetries)
	}
	if len(when) == 0 {
		when = []string{"always"}
	}
	var (
		classes  []FailureClass
		warnings []string
	)
	add := func(c FailureClass) {
		if !slices.Contains(classes, c) {
			classes = append(classes, c)
		}
	}
	for _, w := range when {
		switch w {
		case "always", "infrastructure":
			for _, c := range InfrastructureClasses() {
				add(c)
			}
			continue
		}
		c := FailureClass(w)
		switch {
		case c.IsInfrastructure():
			add(c)
		case c.IsJob():
			warnings = append(warnings, fmt.Sprintf("retry.when %q is a job failure class and is never retried", w))
		default:
			return Policy{}, nil, fmt.Errorf("unknown retry.when value %q", w)
		}
	}
	if maxRetries == 0 {
		classes = nil
	}
	return Policy{Max: maxRetries, When: classes}, warnings, nil
}
