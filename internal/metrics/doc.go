// Package metrics records pipeline run metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never need nil checks:
//
//	obs := metrics.NewObserver(metrics.NewPrometheusRecorder(reg))
//	engine := pipeline.New(cfg, pipeline.WithListener(obs))
//
// Observer turns scheduler notifications into recorder calls. The daemon
// serves the registry on /metrics through HTTPHandler.
package metrics
