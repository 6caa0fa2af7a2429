package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics provides observability for the orphan blob collector.
type GCMetrics interface {
	// RecordRun records one collection pass.
	RecordRun(scanned, orphans, deleted, failures int, duration time.Duration)
}

type gcMetrics struct {
	runs     prometheus.Counter
	scanned  prometheus.Gauge
	orphans  prometheus.Gauge
	deleted  prometheus.Counter
	failures prometheus.Counter
	duration prometheus.Histogram
}

// NewGCMetrics creates a Prometheus-backed GCMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewGCMetrics() GCMetrics {
	if !IsEnabled() {
		return nil
	}
	return newGCMetrics(GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_gc_runs_total",
			Help: "Total number of orphan collection passes",
		}),
		scanned: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dittodrive_gc_last_scanned_blobs",
			Help: "Number of blobs listed by the last collection pass",
		}),
		orphans: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dittodrive_gc_last_orphans",
			Help: "Number of unreferenced blobs found by the last collection pass",
		}),
		deleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_gc_deleted_blobs_total",
			Help: "Total number of orphan blobs deleted",
		}),
		failures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_gc_delete_failures_total",
			Help: "Total number of orphan blob deletes that failed",
		}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dittodrive_gc_run_duration_seconds",
			Help:    "Duration of orphan collection passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms .. ~164s
		}),
	}
}

func (m *gcMetrics) RecordRun(scanned, orphans, deleted, failures int, duration time.Duration) {
	m.runs.Inc()
	m.scanned.Set(float64(scanned))
	m.orphans.Set(float64(orphans))
	m.deleted.Add(float64(deleted))
	m.failures.Add(float64(failures))
	m.duration.Observe(duration.Seconds())
}
