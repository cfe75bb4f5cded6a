package metrics

import "time"

// Recorder defines the metrics hooks of the engine. Implementations must
// be safe for concurrent use.
type Recorder interface {
	ObserveJobDuration(job, state string, d time.Duration)
	IncJobResult(job, state string)
	IncJobRetry(job, failureClass string)
	AddRunningJobs(delta int)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(status string)
	IncCacheResult(hit bool)
	IncBundles(job string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveJobDuration(string, string, time.Duration) {}
func (NoopRecorder) IncJobResult(string, string)                      {}
func (NoopRecorder) IncJobRetry(string, string)                       {}
func (NoopRecorder) AddRunningJobs(int)                               {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                 {}
func (NoopRecorder) IncRunOutcome(string)                             {}
func (NoopRecorder) IncCacheResult(bool)                              {}
func (NoopRecorder) IncBundles(string)                                {}
