package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/storage/local"
	"github.com/marmos91/dittomedia/pkg/storage/memory"
	"github.com/marmos91/dittomedia/pkg/storage/minio"
	"github.com/marmos91/dittomedia/pkg/storage/oss"
	"github.com/marmos91/dittomedia/pkg/storage/s3"
	"github.com/mitchellh/mapstructure"
)

// Drivers lists the bundled storage drivers in registration order.
var Drivers = []string{
	local.DriverName,
	memory.DriverName,
	s3.DriverName,
	minio.DriverName,
	oss.DriverName,
}

// factories maps every bundled driver to its registry factory.
var factories = map[string]registry.Factory{
	local.DriverName:  createLocalBackend,
	memory.DriverName: createMemoryBackend,
	s3.DriverName:     createS3Backend,
	minio.DriverName:  createMinioBackend,
	oss.DriverName:    createOSSBackend,
}

// RegisterDrivers registers the bundled drivers on reg.
//
// Each factory decodes the persisted options map into the driver's typed
// configuration with mapstructure, validates it with the driver's struct
// tags, and applies the config-level CDN domain.
func RegisterDrivers(reg *registry.Registry) error {
	for _, name := range Drivers {
		if err := reg.RegisterDriver(name, factories[name]); err != nil {
			return fmt.Errorf("register driver %s: %w", name, err)
		}
	}
	return nil
}

// createLocalBackend creates a local filesystem backend.
func createLocalBackend(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	var opts local.Config
	if err := decodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	if cfg.CDNDomain != "" {
		opts.CDNDomain = cfg.CDNDomain
	}

	store, err := local.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend: %w", err)
	}
	return store, nil
}

// createMemoryBackend creates an in-memory backend. Its content does not
// survive a restart or an Invalidate of the config.
func createMemoryBackend(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts memory.Config
	if err := decodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	if cfg.CDNDomain != "" {
		opts.CDNDomain = cfg.CDNDomain
	}

	return memory.New(opts), nil
}

// createS3Backend creates an Amazon S3 (or S3 compatible) backend.
func createS3Backend(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	var opts s3.Config
	if err := decodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	if cfg.CDNDomain != "" {
		opts.CDNDomain = cfg.CDNDomain
	}

	store, err := s3.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}
	return store, nil
}

// createMinioBackend creates a MinIO backend.
func createMinioBackend(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	var opts minio.Config
	if err := decodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	if cfg.CDNDomain != "" {
		opts.CDNDomain = cfg.CDNDomain
	}

	store, err := minio.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO backend: %w", err)
	}
	return store, nil
}

// createOSSBackend creates an OSS backend.
func createOSSBackend(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	var opts oss.Config
	if err := decodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	if cfg.CDNDomain != "" {
		opts.CDNDomain = cfg.CDNDomain
	}

	store, err := oss.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS backend: %w", err)
	}
	return store, nil
}

// decodeOptions decodes cfg.Options into out and validates the result.
//
// Unknown keys are rejected so a misspelled option fails at startup rather
// than silently falling back to a default. Values are weakly typed because
// options round-trip through the catalog as JSON.
func decodeOptions(cfg *media.StorageConfig, out any) error {
	if err := decode(cfg.Options, out); err != nil {
		return media.Validationf(cfg.ID, "invalid %s options: %v", cfg.Driver, err)
	}
	if err := validate.Struct(out); err != nil {
		return media.Validationf(cfg.ID, "invalid %s options: %v", cfg.Driver, formatValidationError(err))
	}
	return nil
}

// decode runs mapstructure with duration parsing and strict keys.
func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
