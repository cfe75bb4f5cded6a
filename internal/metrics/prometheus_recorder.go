package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pipewright"

// jobBuckets cover quick lint jobs up to hour-long builds.
var jobBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	jobDuration *prom.HistogramVec
	jobResults  *prom.CounterVec
	jobRetries  *prom.CounterVec
	runningJobs prom.Gauge
	runDuration prom.Histogram
	runOutcomes *prom.CounterVec
	cacheLookup *prom.CounterVec
	bundles     *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		jobDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of finished jobs by final state",
			Buckets:   jobBuckets,
		}, []string{"job", "state"}),
		jobResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_results_total",
			Help:      "Job terminal states",
		}, []string{"job", "state"}),
		jobRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Job retries by failure class",
		}, []string{"job", "failure_class"}),
		runningJobs: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running_jobs",
			Help:      "Jobs currently executing",
		}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   jobBuckets,
		}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),
		cacheLookup: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache restores by result",
		}, []string{"result"}),
		bundles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bundles_total",
			Help:      "Artifact bundles captured",
		}, []string{"job"}),
	}
	reg.MustRegister(pr.jobDuration, pr.jobResults, pr.jobRetries, pr.runningJobs,
		pr.runDuration, pr.runOutcomes, pr.cacheLookup, pr.bundles)
	return pr
}

func (p *PrometheusRecorder) ObserveJobDuration(job, state string, d time.Duration) {
	p.jobDuration.WithLabelValues(job, state).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobResult(job, state string) {
	p.jobResults.WithLabelValues(job, state).Inc()
}

func (p *PrometheusRecorder) IncJobRetry(job, failureClass string) {
	p.jobRetries.WithLabelValues(job, failureClass).Inc()
}

func (p *PrometheusRecorder) AddRunningJobs(delta int) { p.runningJobs.Add(float64(delta)) }

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(status string) {
	p.runOutcomes.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncCacheResult(hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheLookup.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncBundles(job string) { p.bundles.WithLabelValues(job).Inc() }

// RegisterQueueDepth exposes a run queue length sampled at scrape time.
func RegisterQueueDepth(reg prom.Registerer, depth func() int) {
	reg.MustRegister(prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queued_runs",
		Help:      "Runs waiting in the run queue",
	}, func() float64 { return float64(depth()) }))
}
