package prometheus

import (
	"github.com/marmos91/dittomedia/pkg/gc"
	"github.com/marmos91/dittomedia/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gcMetrics is the Prometheus implementation of gc.Metrics.
type gcMetrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	items    *prometheus.CounterVec
	lastRun  prometheus.Gauge
}

// NewGCMetrics creates maintenance run metrics, or nil when disabled.
func NewGCMetrics() gc.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newGCMetrics(metrics.GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Total number of maintenance runs by status",
			},
			[]string{"status"},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "gc",
				Name:      "run_duration_seconds",
				Help:      "Duration of maintenance runs",
				Buckets:   []float64{0.1, 1, 10, 60, 300, 900},
			},
		),
		items: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "gc",
				Name:      "items_total",
				Help:      "Items handled by maintenance runs, by phase",
			},
			[]string{"phase"},
		),
		lastRun: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "gc",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last maintenance run ended",
			},
		),
	}
}

func (m *gcMetrics) ObserveRun(stats *gc.Stats, err error) {
	s := "success"
	if err != nil {
		s = "error"
	}
	m.runs.WithLabelValues(s).Inc()
	m.duration.Observe(stats.Duration().Seconds())
	m.items.WithLabelValues("expired_sessions").Add(float64(stats.ExpiredSessions))
	m.items.WithLabelValues("unreferenced").Add(float64(stats.Unreferenced))
	m.items.WithLabelValues("pending_deleted").Add(float64(stats.PendingDeleted))
	m.items.WithLabelValues("failed").Add(float64(stats.Failed))
	m.lastRun.Set(float64(stats.EndTime.Unix()))
}
