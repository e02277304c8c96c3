// Package prometheus implements the component Metrics interfaces on top of
// the global registry of pkg/metrics.
//
// Every constructor returns nil when metrics are disabled; components treat
// a nil Metrics as a no-op.
package prometheus

import (
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/metrics"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storageMetrics is the Prometheus implementation of storage.Metrics.
type storageMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewStorageMetrics creates backend call metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() storage.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newStorageMetrics(metrics.GetRegistry())
}

func newStorageMetrics(reg prometheus.Registerer) *storageMetrics {
	return &storageMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of storage backend calls by driver, operation and status",
			},
			[]string{"driver", "operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage backend calls",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"driver", "operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "storage",
				Name:      "bytes_total",
				Help:      "Total bytes moved by uploads and downloads",
			},
			[]string{"driver", "operation"},
		),
	}
}

func (m *storageMetrics) ObserveOperation(driver, operation string, duration time.Duration, err error) {
	m.operations.WithLabelValues(driver, operation, status(err)).Inc()
	m.duration.WithLabelValues(driver, operation).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordBytes(driver, operation string, bytes int64) {
	if bytes > 0 {
		m.bytes.WithLabelValues(driver, operation).Add(float64(bytes))
	}
}

// status maps an error to a low-cardinality label: "success" or the
// lowercase error code.
func status(err error) string {
	if err == nil {
		return "success"
	}
	if code := media.CodeOf(err); code != 0 {
		return code.String()
	}
	return "error"
}
