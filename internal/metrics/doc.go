// Package metrics records task and stage metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	runner := pipeline.NewRunner(registry, pipeline.WithRecorder(metrics.NoopRecorder{}))
//
// When the development server exposes /metrics, the CLI swaps in a
// PrometheusRecorder backed by its own registry and serves it with HTTPHandler.
package metrics
