package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UploadMetrics provides observability for the chunked upload pipeline.
type UploadMetrics interface {
	// RecordChunk records one received chunk.
	RecordChunk(bytes int, err error)

	// RecordMerge records a completed merge of all chunks into one blob.
	RecordMerge(size uint64, duration time.Duration, err error)

	// RecordPromotion records the outcome of turning an upload into a node.
	RecordPromotion(err error)

	// RecordAbandon records an abandoned upload, by reason ("client", "sweep").
	RecordAbandon(reason string)

	// RecordThrottled records a chunk delayed by the rate limiter.
	RecordThrottled()
}

type uploadMetrics struct {
	chunksTotal    *prometheus.CounterVec
	chunkBytes     prometheus.Counter
	merges         *prometheus.CounterVec
	mergeDuration  prometheus.Histogram
	mergedBytes    prometheus.Histogram
	promotions     *prometheus.CounterVec
	abandons       *prometheus.CounterVec
	throttledTotal prometheus.Counter
}

// NewUploadMetrics creates a Prometheus-backed UploadMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() UploadMetrics {
	if !IsEnabled() {
		return nil
	}
	return newUploadMetrics(GetRegistry())
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	return &uploadMetrics{
		chunksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_chunks_total",
				Help: "Total number of upload chunks received by status",
			},
			[]string{"status"},
		),
		chunkBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_upload_chunk_bytes_total",
			Help: "Total bytes received in upload chunks",
		}),
		merges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_merges_total",
				Help: "Total number of chunk merges by status",
			},
			[]string{"status"},
		),
		mergeDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dittodrive_upload_merge_duration_seconds",
			Help:    "Duration of chunk merges in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
		mergedBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dittodrive_upload_merged_bytes",
			Help:    "Size of merged upload blobs in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB .. ~256MB
		}),
		promotions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_promotions_total",
				Help: "Total number of uploads promoted to nodes by status",
			},
			[]string{"status"},
		),
		abandons: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrive_upload_abandons_total",
				Help: "Total number of abandoned uploads by reason",
			},
			[]string{"reason"},
		),
		throttledTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dittodrive_upload_throttled_total",
			Help: "Total number of chunks delayed by the ingest rate limiter",
		}),
	}
}

func (m *uploadMetrics) RecordChunk(bytes int, err error) {
	m.chunksTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.chunkBytes.Add(float64(bytes))
	}
}

func (m *uploadMetrics) RecordMerge(size uint64, duration time.Duration, err error) {
	m.merges.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	m.mergeDuration.Observe(duration.Seconds())
	m.mergedBytes.Observe(float64(size))
}

func (m *uploadMetrics) RecordPromotion(err error) {
	m.promotions.WithLabelValues(status(err)).Inc()
}

func (m *uploadMetrics) RecordAbandon(reason string) {
	m.abandons.WithLabelValues(reason).Inc()
}

func (m *uploadMetrics) RecordThrottled() {
	m.throttledTotal.Inc()
}
