package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configHeader opens every generated config file.
const configHeader = `# DittoMedia Configuration File
#
# Generated by "dittomedia init". Every value below is a default and can be
# overridden with an environment variable: DITTOMEDIA_<SECTION>_<KEY>,
# for example DITTOMEDIA_LOGGING_LEVEL=DEBUG.

`

// sectionComments documents the top-level sections of a generated file.
var sectionComments = map[string]string{
	"logging":          "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"metrics":          "Prometheus metrics served on /metrics",
	"catalog":          "Catalog of file records, upload sessions and storage configs\ntype: memory, badger, sqlite or postgres (postgres.dsn required)",
	"storage":          "Storage backends. Drivers: local, memory, s3, minio, oss\nThe builtin local backend under fallback_dir is used when no system default backend exists",
	"uploads":          "Chunked upload sessions",
	"gc":               "Background maintenance: expired sessions, unreferenced files, failed deletions\nscheduler: ticker (in-process) or asynq (one run per cron tick across processes)",
	"shutdown_timeout": "Maximum time to wait for graceful shutdown",
}

// InitConfig writes the default configuration to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists (and force is false) or cannot be written
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return configHeader + buf.String(), nil
}
