package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/config"
)

func TestNewPolicy(t *testing.T) {
	p, warnings, err := NewPolicy(2, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, InfrastructureClasses(), p.When)
	assert.Equal(t, 3, p.MaxAttempts())

	p, warnings, err = NewPolicy(1, []string{"api_failure", "script_failure"})
	require.NoError(t, err)
	assert.Equal(t, []FailureClass{APIFailure}, p.When)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "script_failure")

	_, _, err = NewPolicy(-1, nil)
	assert.Error(t, err)
	_, _, err = NewPolicy(1, []string{"sometimes"})
	assert.Error(t, err)
}

func TestClassifyJobClassesAreTerminal(t *testing.T) {
	p, _, err := NewPolicy(5, []string{"always"})
	require.NoError(t, err)
	for _, c := range []FailureClass{ScriptFailure, JobExecutionTimeout, ValidationFailure, UnknownFailure, "weird"} {
		assert.Equal(t, DecisionTerminal, Classify(Signal{Class: c, Attempt: 1}, p), c)
	}
}

func TestClassifyInfrastructureRespectsMaxAndWhen(t *testing.T) {
	p, _, err := NewPolicy(2, []string{"executor_error"})
	require.NoError(t, err)

	assert.Equal(t, DecisionRetry, Classify(Signal{Class: ExecutorError, Attempt: 1}, p))
	assert.Equal(t, DecisionRetry, Classify(Signal{Class: ExecutorError, Attempt: 2}, p))
	assert.Equal(t, DecisionTerminal, Classify(Signal{Class: ExecutorError, Attempt: 3}, p))
	assert.Equal(t, DecisionTerminal, Classify(Signal{Class: APIFailure, Attempt: 1}, p), "class not listed")
	assert.Equal(t, DecisionTerminal, Classify(Signal{Class: ExecutorError, Attempt: 1}, NoRetry()))
}

// Every attempt sequence admitted by Classify is bounded by max+1.
func TestClassifyBoundsAttempts(t *testing.T) {
	for maxRetries := 0; maxRetries <= 4; maxRetries++ {
		p, _, err := NewPolicy(maxRetries, nil)
		require.NoError(t, err)
		attempts := 1
		for Classify(Signal{Class: EnvironmentUnavailable, Attempt: attempts}, p) == DecisionRetry {
			attempts++
		}
		assert.Equal(t, maxRetries+1, attempts)
	}
}

func TestBackoffDelay(t *testing.T) {
	fixed := NewBackoff(config.RetryConfig{Backoff: config.RetryBackoffFixed, InitialDelay: config.Duration(100 * time.Millisecond), MaxDelay: config.Duration(time.Second)})
	assert.Equal(t, 100*time.Millisecond, fixed.Delay(3))

	linear := NewBackoff(config.RetryConfig{Backoff: config.RetryBackoffLinear, InitialDelay: config.Duration(100 * time.Millisecond), MaxDelay: config.Duration(250 * time.Millisecond)})
	assert.Equal(t, 200*time.Millisecond, linear.Delay(2))
	assert.Equal(t, 250*time.Millisecond, linear.Delay(3))

	exp := NewBackoff(config.RetryConfig{Backoff: config.RetryBackoffExponential, InitialDelay: config.Duration(time.Second), MaxDelay: config.Duration(5 * time.Second)})
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 4*time.Second, exp.Delay(3))
	assert.Equal(t, 5*time.Second, exp.Delay(4))
	assert.Equal(t, 5*time.Second, exp.Delay(100))

	assert.Zero(t, NoBackoff().Delay(1))
	assert.Zero(t, exp.Delay(0))
}
