// Package metrics owns the Prometheus registry and the metrics HTTP server
// of dittomedia.
//
// Metrics are optional. Components accept a nil Metrics and fall back to
// no-op implementations, and the constructors in pkg/metrics/prometheus
// return nil until InitRegistry has been called, so a process with metrics
// disabled pays nothing for them.
//
// Usage:
//
//	metrics.InitRegistry()
//
//	backendMetrics := prometheus.NewStorageMetrics()
//	store := content.New(catalog, registry, content.Config{Metrics: prometheus.NewContentMetrics()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every dittomedia metric name.
const Namespace = "dittomedia"

var (
	// registry is written once by InitRegistry and read-only afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry with the Go
// runtime and process collectors.
//
// It's safe to call multiple times; subsequent calls are ignored. Until it
// is called GetRegistry returns nil and metrics stay disabled.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when
// InitRegistry has not been called.
//
// Thread safety:
// The sync.Once in InitRegistry orders the write before any read that
// observes a non-nil registry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
