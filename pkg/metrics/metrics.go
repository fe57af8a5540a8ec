// Package metrics exposes upgrade runs and reindex jobs as Prometheus metrics.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/kubeflow/upgrade-manager/pkg/jobs"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

var (
	_ upgrade.Observer = (*Metrics)(nil)
	_ jobs.JobObserver = (*Metrics)(nil)
	_ prom.Collector   = (*Metrics)(nil)
)

// Metrics collects upgrade and reindex metrics. Register it on a registry
// or push it to a gateway.
type Metrics struct {
	tasks          *prom.CounterVec
	taskDuration   *prom.HistogramVec
	warnings       prom.Counter
	runs           *prom.CounterVec
	lastRun        *prom.GaugeVec
	reindexJobs    *prom.CounterVec
	reindexSeconds prom.Histogram
}

// New returns a Metrics whose metric names start with namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "upgrade_manager"
	}
	return &Metrics{
		tasks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of upgrade tasks handled, by status.",
		}, []string{"status"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Histogram of upgrade task execution time (seconds).",
			Buckets:   prom.DefBuckets,
		}, []string{"status"}),
		warnings: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "validation_warnings_total",
			Help:      "Total number of non-fatal validation warnings raised by upgrade tasks.",
		}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of upgrade runs, by pass and outcome.",
		}, []string{"pass", "outcome"}),
		lastRun: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last upgrade run of each pass finished.",
		}, []string{"pass"}),
		reindexJobs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_attempts_total",
			Help:      "Total number of reindex job attempts, by resulting job state.",
		}, []string{"state"}),
		reindexSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "reindex_duration_seconds",
			Help:      "Histogram of reindex attempt duration (seconds).",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) collectors() []prom.Collector {
	return []prom.Collector{m.tasks, m.taskDuration, m.warnings, m.runs, m.lastRun, m.reindexJobs, m.reindexSeconds}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prom.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prom.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// TaskFinished implements upgrade.Observer.
func (m *Metrics) TaskFinished(result upgrade.TaskResult) {
	status := string(result.Status)
	m.tasks.WithLabelValues(status).Inc()
	if result.Status != upgrade.TaskSkipped {
		m.taskDuration.WithLabelValues(status).Observe(result.Duration.Seconds())
	}
	m.warnings.Add(float64(len(result.Warnings)))
}

// RunFinished implements upgrade.Observer.
func (m *Metrics) RunFinished(report *upgrade.Report) {
	m.runs.WithLabelValues(report.Pass, string(report.Outcome)).Inc()
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	m.lastRun.WithLabelValues(report.Pass).Set(float64(finished.Unix()))
}

// JobFinished implements jobs.JobObserver.
func (m *Metrics) JobFinished(state jobs.JobState, d time.Duration) {
	m.reindexJobs.WithLabelValues(string(state)).Inc()
	m.reindexSeconds.Observe(d.Seconds())
}

// Push sends the current values to a Prometheus push gateway, for one-shot
// CLI runs that are gone before a scrape.
// pushBase is the gateway URL, e.g. http://pushgateway:9091
func (m *Metrics) Push(pushBase, job string) error {
	return push.New(pushBase, job).
		Collector(m).
		Push()
}
