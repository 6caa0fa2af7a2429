// Package metrics exposes Prometheus metrics for the hierarchy, the upload
// pipeline and the orphan collector.
//
// Metrics are opt-in. Until InitRegistry is called every constructor returns
// nil, and every consumer treats a nil metrics value as "do not record":
//
//	metrics.InitRegistry()
//	svc := hierarchy.New(store, blobs, hierarchy.Options{
//		Metrics: metrics.NewHierarchyMetrics(),
//	})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every metric name.
const namespace = "dittodrive"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry, with Go runtime and
// process collectors attached. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
