package retry

import (
	"time"

	"git.home.luguber.info/inful/pipewright/internal/config"
)

// Backoff computes the delay before the next attempt of a retried job.
// It is immutable after construction.
type Backoff struct {
	Mode    config.RetryBackoffMode // fixed|linear|exponential
	Initial time.Duration           // base delay
	Max     time.Duration           // cap for growth
}

// DefaultBackoff returns exponential backoff starting at 2s, capped at 1m.
func DefaultBackoff() Backoff {
	return Backoff{Mode: config.RetryBackoffExponential, Initial: config.DefaultRetryInitial, Max: config.DefaultRetryMax}
}

// NoBackoff retries immediately. Used by tests and dry runs.
func NoBackoff() Backoff {
	return Backoff{Mode: config.RetryBackoffFixed}
}

// NewBackoff builds a backoff from config values; zero values fall back to defaults.
func NewBackoff(cfg config.RetryConfig) Backoff {
	b := DefaultBackoff()
	switch cfg.Backoff {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		b.Mode = cfg.Backoff
	}
	if cfg.InitialDelay > 0 {
		b.Initial = cfg.InitialDelay.Std()
	}
	if cfg.MaxDelay > 0 {
		b.Max = cfg.MaxDelay.Std()
	}
	if b.Initial > b.Max {
		b.Initial = b.Max
	}
	return b
}

// Delay returns the backoff delay for the given retry number (1-based: first retry => 1).
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 || b.Initial <= 0 {
		return 0
	}
	var d time.Duration
	switch b.Mode {
	case config.RetryBackoffFixed:
		return b.Initial
	case config.RetryBackoffExponential:
		if retryCount > 32 {
			return b.Max
		}
		d = b.Initial * (1 << (retryCount - 1))
	default:
		d = time.Duration(retryCount) * b.Initial
	}
	if b.Max > 0 && (d > b.Max || d <= 0) {
		return b.Max
	}
	return d
}
