package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

catalog:
  type: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Uploads.DefaultChunkSize != 2<<20 {
		t.Errorf("Expected default chunk size 2MiB, got %d", cfg.Uploads.DefaultChunkSize)
	}
	if cfg.GC.Scheduler != "ticker" {
		t.Errorf("Expected default scheduler 'ticker', got %q", cfg.GC.Scheduler)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A non-existent explicit path must not fall back to the user's config
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Catalog.Type != "memory" {
		t.Errorf("Expected default catalog type 'memory', got %q", cfg.Catalog.Type)
	}
	if len(cfg.Storage.Backends) != 0 {
		t.Errorf("Expected no backends, got %d", len(cfg.Storage.Backends))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[catalog]
type = "memory"

[[storage.backends]]
id = "archive"
driver = "memory"
default = true

[storage.backends.options]
bucket = "archive"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if len(cfg.Storage.Backends) != 1 || cfg.Storage.Backends[0].ID != "archive" {
		t.Fatalf("Expected one 'archive' backend, got %+v", cfg.Storage.Backends)
	}
}

func TestLoad_Backends(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
storage:
  key_prefix: media
  backends:
    - id: main
      driver: S3
      default: true
      cdn_domain: cdn.example.com
      rate_limit:
        requests_per_second: 50
        burst: 10
      options:
        region: eu-west-1
        bucket: media-main
    - id: acme
      driver: memory
      tenant: acme
      default: true

gc:
  interval: 15m
  batch_size: 250
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Storage.Backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(cfg.Storage.Backends))
	}

	primary := cfg.Storage.Backends[0]
	if primary.Driver != "s3" {
		t.Errorf("Expected driver normalized to 's3', got %q", primary.Driver)
	}
	if primary.Name != "main" {
		t.Errorf("Expected name to default to id, got %q", primary.Name)
	}
	if primary.RateLimit.RequestsPerSecond != 50 || primary.RateLimit.Burst != 10 {
		t.Errorf("Unexpected rate limit %+v", primary.RateLimit)
	}
	if primary.Options["bucket"] != "media-main" {
		t.Errorf("Expected bucket option 'media-main', got %v", primary.Options["bucket"])
	}
	if cfg.Storage.Backends[1].Tenant != "acme" {
		t.Errorf("Expected tenant 'acme', got %q", cfg.Storage.Backends[1].Tenant)
	}

	if cfg.GC.Interval != 15*time.Minute {
		t.Errorf("Expected gc interval 15m, got %v", cfg.GC.Interval)
	}
	if cfg.GC.BatchSize != 250 {
		t.Errorf("Expected gc batch size 250, got %d", cfg.GC.BatchSize)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
storage:
  backends:
    - id: a
      driver: ftp
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown driver")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Catalog.Type != "badger" {
		t.Errorf("Expected default catalog type 'badger', got %q", cfg.Catalog.Type)
	}
	if len(cfg.Storage.Backends) != 1 {
		t.Fatalf("Expected 1 default backend, got %d", len(cfg.Storage.Backends))
	}
	if b := cfg.Storage.Backends[0]; b.Driver != "local" || !b.Default {
		t.Errorf("Expected a default local backend, got %+v", b)
	}
	if !cfg.GC.Enabled {
		t.Error("Expected maintenance enabled by default")
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh config home")
	}

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if dir := GetConfigDir(); dir != filepath.Join(xdg, "dittomedia") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "dittomedia"), dir)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOMEDIA_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOMEDIA_METRICS_PORT", "9191")
	t.Setenv("DITTOMEDIA_UPLOADS_TEMP_DIR", "/var/tmp/chunks")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

metrics:
  enabled: true
  port: 9090
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected port 9191 from env var, got %d", cfg.Metrics.Port)
	}
	// Keys absent from the file are bound explicitly
	if cfg.Uploads.TempDir != "/var/tmp/chunks" {
		t.Errorf("Expected temp dir from env var, got %q", cfg.Uploads.TempDir)
	}
}
