package prometheus

import (
	"time"

	"github.com/marmos91/dittomedia/pkg/metrics"
	"github.com/marmos91/dittomedia/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	chunks     *prometheus.CounterVec
	chunkBytes prometheus.Counter
	merges     *prometheus.HistogramVec
	expired    *prometheus.CounterVec
}

// NewUploadMetrics creates chunked upload metrics, or nil when disabled.
func NewUploadMetrics() upload.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newUploadMetrics(metrics.GetRegistry())
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	return &uploadMetrics{
		chunks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "upload",
				Name:      "chunks_total",
				Help:      "Total number of chunk writes by outcome (stored, replayed, rejected)",
			},
			[]string{"outcome"},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "upload",
				Name:      "chunk_bytes_total",
				Help:      "Total bytes of stored chunks",
			},
		),
		merges: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "upload",
				Name:      "merge_duration_seconds",
				Help:      "Duration of chunk merges by outcome",
				Buckets:   []float64{0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"outcome"},
		),
		expired: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "upload",
				Name:      "expired_sessions_total",
				Help:      "Expired sessions processed by sweeps, by result",
			},
			[]string{"result"},
		),
	}
}

func (m *uploadMetrics) RecordChunk(outcome string, bytes int64) {
	m.chunks.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.chunkBytes.Add(float64(bytes))
	}
}

func (m *uploadMetrics) ObserveMerge(outcome string, duration time.Duration) {
	m.merges.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *uploadMetrics) RecordExpired(removed, failed int) {
	m.expired.WithLabelValues("removed").Add(float64(removed))
	m.expired.WithLabelValues("failed").Add(float64(failed))
}
