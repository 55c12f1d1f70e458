package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	taskDuration   *prom.HistogramVec
	taskResults    *prom.CounterVec
	runDuration    prom.Histogram
	runOutcome     *prom.CounterVec
	filesProcessed *prom.CounterVec
	bytesWritten   *prom.CounterVec
	reloads        prom.Counter
	retries        *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "assetbuilder",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual tasks",
			Buckets:   prom.DefBuckets,
		}, []string{"task"}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "task_results_total",
			Help:      "Task result counts by outcome",
		}, []string{"task", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "assetbuilder",
			Name:      "run_duration_seconds",
			Help:      "Total duration of a task run",
			Buckets:   prom.DefBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "run_outcomes_total",
			Help:      "Task runs by final status",
		}, []string{"outcome"}),
		filesProcessed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "files_processed_total",
			Help:      "Files processed per stage",
		}, []string{"stage"}),
		bytesWritten: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "bytes_written_total",
			Help:      "Bytes written per stage",
		}, []string{"stage"}),
		reloads: prom.NewCounter(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "livereload_broadcasts_total",
			Help:      "Reload notifications sent to browsers",
		}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuilder",
			Name:      "retries_total",
			Help:      "Retried operations after transient failures",
		}, []string{"operation"}),
	}
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.runDuration, pr.runOutcome,
		pr.filesProcessed, pr.bytesWritten, pr.reloads, pr.retries)
	return pr
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(task string, result ResultLabel) {
	p.taskResults.WithLabelValues(task, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome ResultLabel) {
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddFilesProcessed(stage string, n int) {
	p.filesProcessed.WithLabelValues(stage).Add(float64(n))
}

func (p *PrometheusRecorder) AddBytesWritten(stage string, n int64) {
	p.bytesWritten.WithLabelValues(stage).Add(float64(n))
}

func (p *PrometheusRecorder) IncReloadBroadcast() { p.reloads.Inc() }

func (p *PrometheusRecorder) IncRetry(operation string) {
	p.retries.WithLabelValues(operation).Inc()
}
