package storage

import "time"

// Metrics provides observability for backend operations.
//
// This is optional. A nil Metrics passed to Instrument falls back to a
// no-op implementation.
//
// Example implementations:
//   - Prometheus metrics (pkg/metrics)
//   - In-memory counters for testing
type Metrics interface {
	// ObserveOperation records one backend call with its duration and outcome
	ObserveOperation(driver, operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by upload/download
	RecordBytes(driver, operation string, bytes int64)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(driver, operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(driver, operation string, bytes int64)                            {}
