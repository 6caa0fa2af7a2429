package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HierarchyMetrics provides observability for hierarchy service operations.
//
// This interface is optional - a nil HierarchyMetrics passed to the
// hierarchy service disables collection.
type HierarchyMetrics interface {
	// RecordOperation records a completed operation (e.g. "CreateContainer",
	// "Move") with its duration and outcome.
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordSubtreeDelete records the size of a deleted subtree and the
	// number of blob deletes that failed.
	RecordSubtreeDelete(nodes, blocks, blobFailures int)
}

type hierarchyMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	nodesDeleted      prometheus.Counter
	blobsDeleted      prometheus.Counter
	blobFailures      prometheus.Counter
}

// NewHierarchyMetrics creates a Prometheus-backed HierarchyMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewHierarchyMetrics() HierarchyMetrics {
	if !IsEnabled() {
		return nil
	}
	return newHierarchyMetrics(GetRegistry())
}

func newHierarchyMetrics(reg prometheus.Registerer) *hierarchyMetrics {
	return &hierarchyMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_hierarchy_operations_total",
				Help: "Total number of hierarchy operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrive_hierarchy_operation_duration_seconds",
				Help: "Duration of hierarchy operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"operation"},
		),
		nodesDeleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_hierarchy_nodes_deleted_total",
			Help: "Total number of node rows removed by subtree deletes",
		}),
		blobsDeleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_hierarchy_blob_deletes_total",
			Help: "Total number of blob deletes issued by subtree deletes",
		}),
		blobFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_hierarchy_blob_delete_failures_total",
			Help: "Total number of blob deletes that failed and left an orphan",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *hierarchyMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *hierarchyMetrics) RecordSubtreeDelete(nodes, blocks, blobFailures int) {
	m.nodesDeleted.Add(float64(nodes))
	m.blobsDeleted.Add(float64(blocks))
	m.blobFailures.Add(float64(blobFailures))
}
