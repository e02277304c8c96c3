package config

import (
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/gc"
	"github.com/marmos91/dittomedia/pkg/metrics"
	promMetrics "github.com/marmos91/dittomedia/pkg/metrics/prometheus"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/upload"
)

// MetricsResult contains all metrics-related components created from configuration.
//
// Component metrics are nil when metrics are disabled; every component
// treats nil as "no metrics".
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	Storage storage.Metrics
	Content content.Metrics
	Upload  upload.Metrics
	GC      gc.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns nil metrics (components fall back to no-op implementations)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:     cfg.Metrics.Port,
		Registry: metrics.GetRegistry(),
	})

	return &MetricsResult{
		Server:  server,
		Storage: promMetrics.NewStorageMetrics(),
		Content: promMetrics.NewContentMetrics(),
		Upload:  promMetrics.NewUploadMetrics(),
		GC:      promMetrics.NewGCMetrics(),
	}
}
