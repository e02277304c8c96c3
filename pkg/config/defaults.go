package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomedia/pkg/gc"
	"github.com/marmos91/dittomedia/pkg/metrics"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/marmos91/dittomedia/pkg/storage/local"
	"github.com/marmos91/dittomedia/pkg/upload"
)

// DefaultDataDir is the parent of every on-disk default path.
var DefaultDataDir = filepath.Join("/tmp", "dittomedia")

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Driver-specific option defaults are handled by the drivers themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyCatalogDefaults(&cfg.Catalog)
	applyStorageDefaults(&cfg.Storage)
	applyUploadsDefaults(&cfg.Uploads)
	applyGCDefaults(&cfg.GC)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = metrics.DefaultPort
	}
}

// applyCatalogDefaults sets catalog defaults.
func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.SQLite == nil {
		cfg.SQLite = make(map[string]any)
	}
	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}

	// Apply path defaults for the embedded types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(DefaultDataDir, "catalog")
	}
	if _, ok := cfg.SQLite["path"]; !ok {
		cfg.SQLite["path"] = filepath.Join(DefaultDataDir, "catalog.db")
	}
}

// applyStorageDefaults sets storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.FallbackDir == "" {
		cfg.FallbackDir = filepath.Join(DefaultDataDir, registry.DefaultFallbackDir)
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = local.DefaultBaseURL
	}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.Name == "" {
			b.Name = b.ID
		}
		b.Driver = strings.ToLower(b.Driver)
		if b.Options == nil {
			b.Options = make(map[string]any)
		}
	}
}

// applyUploadsDefaults sets chunked upload defaults.
func applyUploadsDefaults(cfg *UploadsConfig) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(DefaultDataDir, "chunks")
	}
	if cfg.DefaultChunkSize == 0 {
		cfg.DefaultChunkSize = upload.DefaultChunkSize
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = upload.DefaultMaxChunkSize
	}
	if cfg.DefaultExpiry == 0 {
		cfg.DefaultExpiry = upload.DefaultExpiry
	}
	// MaxDeclaredSize defaults to 0 (unlimited)
}

// applyGCDefaults sets maintenance collector defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = gc.DefaultTimeout
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Scheduler == "" {
		cfg.Scheduler = "ticker"
	}
	cfg.Scheduler = strings.ToLower(cfg.Scheduler)

	if cfg.Asynq.RedisAddr == "" {
		cfg.Asynq.RedisAddr = "127.0.0.1:6379"
	}
	if cfg.Asynq.Cron == "" {
		cfg.Asynq.Cron = gc.DefaultCron
	}
	if cfg.Asynq.Concurrency == 0 {
		cfg.Asynq.Concurrency = 1
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Unlike a config loaded from an empty file, the default config persists the
// catalog in badger and declares a local backend as the system default, so
// files survive restarts and the generated config file documents the
// backend format.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Catalog: CatalogConfig{
			Type: "badger",
		},
		Storage: StorageConfig{
			KeyPrefix: "media",
			Backends: []BackendConfig{
				{
					ID:      "local",
					Name:    "Local disk",
					Driver:  local.DriverName,
					Default: true,
					Options: map[string]any{
						"root":     filepath.Join(DefaultDataDir, "media"),
						"base_url": "/media",
					},
				},
			},
		},
		GC: GCConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
