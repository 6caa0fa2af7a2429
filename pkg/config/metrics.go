package config

import (
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Hierarchy, Upload and GC are nil when metrics are disabled; every
	// consumer treats nil as "do not record"
	Hierarchy metrics.HierarchyMetrics
	Upload    metrics.UploadMetrics
	GC        metrics.GCMetrics
}

// InitializeMetrics creates and initializes all metrics components based on
// configuration. health backs the /healthz endpoint and may be nil.
func InitializeMetrics(cfg *Config, health metrics.HealthFunc) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port:   cfg.Metrics.Port,
			Health: health,
		}),
		Hierarchy: metrics.NewHierarchyMetrics(),
		Upload:    metrics.NewUploadMetrics(),
		GC:        metrics.NewGCMetrics(),
	}
}
