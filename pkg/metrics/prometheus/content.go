package prometheus

import (
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// contentMetrics is the Prometheus implementation of content.Metrics.
type contentMetrics struct {
	puts     *prometheus.CounterVec
	putBytes *prometheus.CounterVec
	releases *prometheus.CounterVec
	swept    *prometheus.CounterVec
}

// NewContentMetrics creates deduplication metrics, or nil when disabled.
func NewContentMetrics() content.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newContentMetrics(metrics.GetRegistry())
}

func newContentMetrics(reg prometheus.Registerer) *contentMetrics {
	return &contentMetrics{
		puts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "content",
				Name:      "puts_total",
				Help:      "Total number of content puts by outcome (stored or deduplicated)",
			},
			[]string{"outcome"},
		),
		putBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "content",
				Name:      "put_bytes_total",
				Help:      "Total bytes of content put, by outcome. Deduplicated bytes were not uploaded",
			},
			[]string{"outcome"},
		),
		releases: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "content",
				Name:      "releases_total",
				Help:      "Total number of reference releases by outcome",
			},
			[]string{"outcome"},
		),
		swept: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "content",
				Name:      "swept_items_total",
				Help:      "Items processed by content sweeps, by sweep kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

func (m *contentMetrics) RecordPut(outcome string, bytes int64) {
	m.puts.WithLabelValues(outcome).Inc()
	m.putBytes.WithLabelValues(outcome).Add(float64(bytes))
}

func (m *contentMetrics) RecordRelease(outcome string) {
	m.releases.WithLabelValues(outcome).Inc()
}

func (m *contentMetrics) RecordSweep(kind string, removed, failed int) {
	m.swept.WithLabelValues(kind, "removed").Add(float64(removed))
	m.swept.WithLabelValues(kind, "failed").Add(float64(failed))
}
