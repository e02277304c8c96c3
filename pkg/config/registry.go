package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// InitializeRegistry creates the storage registry from configuration.
//
// This function:
//  1. Creates the registry with the builtin fallback settings
//  2. Registers the bundled drivers
//  3. Upserts every configured backend into the catalog
//  4. Checks every persisted configuration names a registered driver
//
// Backends persisted earlier (for example through an admin surface) that no
// longer appear in the file are kept: the file adds and updates, it never
// deletes.
//
// Parameters:
//   - ctx: Context for catalog operations
//   - cfg: Loaded configuration
//   - configs: Catalog holding storage configurations
//   - m: Storage metrics (nil disables them)
//
// Returns:
//   - *registry.Registry: Ready to resolve backends
//   - error: If a backend cannot be persisted or names an unknown driver
func InitializeRegistry(ctx context.Context, cfg *Config, configs catalog.ConfigCatalog, m storage.Metrics) (*registry.Registry, error) {
	reg := registry.New(configs, registry.Config{
		FallbackDir: cfg.Storage.FallbackDir,
		FallbackURL: cfg.Storage.FallbackURL,
		Metrics:     m,
	})

	if err := RegisterDrivers(reg); err != nil {
		return nil, err
	}

	if err := syncBackends(ctx, configs, cfg.Storage.Backends); err != nil {
		return nil, err
	}

	if err := reg.ValidateConfigs(ctx); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	return reg, nil
}

// syncBackends upserts the configured backends into the catalog.
func syncBackends(ctx context.Context, configs catalog.ConfigCatalog, backends []BackendConfig) error {
	for _, b := range backends {
		if err := configs.PutStorageConfig(ctx, StorageConfigFor(b)); err != nil {
			return fmt.Errorf("failed to persist storage backend %q: %w", b.ID, err)
		}

		scope := "system"
		if b.Tenant != "" {
			scope = "tenant " + b.Tenant
		}
		logger.Info("Storage backend %q: driver=%s default=%t scope=%s", b.ID, b.Driver, b.Default, scope)
	}
	return nil
}

// StorageConfigFor converts a backend entry of the config file into the
// persisted form the registry resolves.
func StorageConfigFor(b BackendConfig) *media.StorageConfig {
	return &media.StorageConfig{
		ID:        b.ID,
		Name:      b.Name,
		Driver:    b.Driver,
		Options:   b.Options,
		CDNDomain: b.CDNDomain,
		IsDefault: b.Default,
		TenantID:  b.Tenant,
		RateLimit: media.RateLimit{
			RequestsPerSecond: b.RateLimit.RequestsPerSecond,
			Burst:             b.RateLimit.Burst,
		},
	}
}
