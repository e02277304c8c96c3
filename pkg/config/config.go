package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoMedia configuration.
//
// This structure captures all configurable aspects of the media storage
// subsystem including:
//   - Logging configuration
//   - Metrics exposition
//   - Catalog selection and configuration (type-specific)
//   - Storage backends (driver-specific options)
//   - Chunked upload limits
//   - Background maintenance scheduling
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOMEDIA_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each storage driver defines its own option struct. Backends carry their
// options as a free-form map that the driver factory decodes, so adding a
// driver never changes this struct.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Catalog specifies where file records, sessions and storage configs live
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`

	// Storage lists the storage backends and the builtin fallback
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Uploads bounds chunked upload sessions
	Uploads UploadsConfig `mapstructure:"uploads" yaml:"uploads"`

	// GC schedules the background maintenance collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// CatalogConfig specifies catalog configuration.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific configuration section is used.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: memory, badger, sqlite, postgres
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger sqlite postgres"`

	// Badger contains BadgerDB-specific configuration (db_path, cache sizes)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// SQLite contains SQLite-specific configuration (path, busy_timeout)
	SQLite map[string]any `mapstructure:"sqlite" yaml:"sqlite,omitempty"`

	// Postgres contains PostgreSQL-specific configuration (dsn, max_open_conns)
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// StorageConfig lists the configured storage backends.
type StorageConfig struct {
	// KeyPrefix is prepended to every remote key written by the content store
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// FallbackDir is the root of the builtin local backend used when no
	// system default backend is configured
	FallbackDir string `mapstructure:"fallback_dir" yaml:"fallback_dir" validate:"required"`

	// FallbackURL is the static URL prefix of the builtin local backend
	FallbackURL string `mapstructure:"fallback_url" yaml:"fallback_url"`

	// Backends are upserted into the catalog at startup
	Backends []BackendConfig `mapstructure:"backends" yaml:"backends" validate:"dive"`
}

// BackendConfig describes one storage backend.
type BackendConfig struct {
	// ID is the stable identifier recorded on every file stored in the backend
	ID string `mapstructure:"id" yaml:"id" validate:"required"`

	Name string `mapstructure:"name" yaml:"name"`

	// Driver selects the implementation: local, memory, s3, minio, oss
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required"`

	// Default marks the default backend of its scope (system or tenant)
	Default bool `mapstructure:"default" yaml:"default"`

	// Tenant scopes the backend to a tenant (empty = system scope)
	Tenant string `mapstructure:"tenant" yaml:"tenant,omitempty"`

	// CDNDomain is preferred over the backend's native URL when set
	CDNDomain string `mapstructure:"cdn_domain" yaml:"cdn_domain,omitempty"`

	// RateLimit throttles calls to the backend (zero disables throttling)
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`

	// Options are driver specific and decoded by the driver factory
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// RateLimitConfig is a token bucket setting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// UploadsConfig bounds chunked upload sessions.
type UploadsConfig struct {
	// TempDir holds one scratch directory per session
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir" validate:"required"`

	// DefaultChunkSize applies when a client does not choose one
	DefaultChunkSize int64 `mapstructure:"default_chunk_size" yaml:"default_chunk_size" validate:"gt=0"`

	// MaxChunkSize is the largest chunk size a session may use
	MaxChunkSize int64 `mapstructure:"max_chunk_size" yaml:"max_chunk_size" validate:"gtefield=DefaultChunkSize"`

	// MaxDeclaredSize rejects larger uploads (0 = unlimited)
	MaxDeclaredSize int64 `mapstructure:"max_declared_size" yaml:"max_declared_size" validate:"gte=0"`

	// DefaultExpiry is how long a session accepts chunks
	DefaultExpiry time.Duration `mapstructure:"default_expiry" yaml:"default_expiry" validate:"gt=0"`
}

// GCConfig schedules the maintenance collector.
type GCConfig struct {
	// Enabled starts the scheduler with the serve command
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between ticker runs
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// Timeout bounds a single run
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// BatchSize is the page size of every sweep
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0"`

	// Scheduler selects the in-process ticker or asynq (one run per cron
	// tick across a fleet)
	Scheduler string `mapstructure:"scheduler" yaml:"scheduler" validate:"required,oneof=ticker asynq"`

	// Asynq is only used when Scheduler = "asynq"
	Asynq AsynqConfig `mapstructure:"asynq" yaml:"asynq"`
}

// AsynqConfig configures the asynq scheduler and worker.
type AsynqConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
	Cron          string `mapstructure:"cron" yaml:"cron"`
	Concurrency   int    `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMEDIA_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOMEDIA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMEDIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about, so scalar keys
	// that may be absent from the file are bound explicitly.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittomedia/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the settings that can be supplied through the environment
// without appearing in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"metrics.enabled",
	"metrics.port",
	"catalog.type",
	"storage.key_prefix",
	"storage.fallback_dir",
	"storage.fallback_url",
	"uploads.temp_dir",
	"uploads.max_declared_size",
	"gc.enabled",
	"gc.interval",
	"gc.scheduler",
	"gc.asynq.redis_addr",
	"gc.asynq.redis_password",
	"shutdown_timeout",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is treated like a missing
		// default file.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomedia")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomedia")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
