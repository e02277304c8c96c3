// Package registry resolves persisted storage configurations to live
// storage backends.
//
// The Registry is owned by the application's composition root and passed to
// the components that need it. Drivers are registered once at startup as
// name → Factory mappings; every persisted StorageConfig names one of them.
// Instances are built on first use and cached by configuration id for the
// lifetime of the process. Invalidate must be called after configuration
// edits so the next Resolve rebuilds the instance.
//
// When no system default configuration exists, Resolve falls back to a
// baked-in local filesystem backend with the reserved id BuiltinLocalID.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/storage/local"
	"golang.org/x/sync/singleflight"
)

// BuiltinLocalID is the id of the fallback local backend.
const BuiltinLocalID = "builtin-local"

// DefaultFallbackDir is the root of the fallback backend when none is configured.
const DefaultFallbackDir = "uploads"

// Factory builds a backend from a persisted configuration.
//
// Factories decode cfg.Options into their driver's typed configuration and
// must return a validation error for unusable options.
type Factory func(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error)

// Config configures a Registry.
type Config struct {
	// FallbackDir is the root of the builtin local backend
	FallbackDir string

	// FallbackURL is the static URL prefix of the builtin local backend
	FallbackURL string

	// Metrics receives per-operation observations of every resolved backend
	Metrics storage.Metrics
}

// Registry resolves storage configurations to cached backend instances.
//
// Thread Safety:
// Safe for concurrent use. Concurrent first resolutions of the same id share
// one construction.
type Registry struct {
	configs catalog.ConfigCatalog
	cfg     Config

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]storage.Backend
	fallback  storage.Backend

	// generations counts Invalidate calls per id; a build started under an
	// older generation is returned to its callers but not cached.
	generations map[string]uint64
	epoch       uint64

	builds singleflight.Group
}

// New creates a registry reading configurations from configs.
//
// The returned registry has no drivers; register them with RegisterDriver
// before resolving (pkg/config registers the bundled drivers).
func New(configs catalog.ConfigCatalog, cfg Config) *Registry {
	if cfg.FallbackDir == "" {
		cfg.FallbackDir = DefaultFallbackDir
	}
	return &Registry{
		configs:     configs,
		cfg:         cfg,
		factories:   make(map[string]Factory),
		instances:   make(map[string]storage.Backend),
		generations: make(map[string]uint64),
	}
}

// RegisterDriver adds a driver. Names are unique.
func (r *Registry) RegisterDriver(name string, factory Factory) error {
	if name == "" {
		return media.Validation("cannot register driver with empty name", "")
	}
	if factory == nil {
		return media.Validation("cannot register nil driver factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return media.Conflictf(name, "driver %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) factory(driver string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[driver]
	if !ok {
		return nil, media.Validationf(driver, "unknown storage driver %q", driver)
	}
	return f, nil
}

// ValidateConfigs checks that every persisted configuration names a
// registered driver. Run at startup so a bad configuration fails fast
// instead of on first use.
func (r *Registry) ValidateConfigs(ctx context.Context) error {
	configs, err := r.configs.ListStorageConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list storage configs: %w", err)
	}

	var errs []error
	for _, cfg := range configs {
		if _, err := r.factory(cfg.Driver); err != nil {
			errs = append(errs, fmt.Errorf("storage config %q: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the backend of configID, or of the system default when
// configID is empty.
//
// Parameters:
//   - ctx: Context for catalog lookups and backend construction
//   - configID: StorageConfig id, "" for the system default
//
// Returns:
//   - storage.Backend: Cached (or newly built) instance
//   - error: media.ErrNotFound for an unknown id, media.ErrValidation for
//     an unknown driver, or the driver's construction error
func (r *Registry) Resolve(ctx context.Context, configID string) (storage.Backend, error) {
	_, backend, err := r.Target(ctx, configID, "")
	return backend, err
}

// ResolveForTenant returns the tenant's default backend, falling back to
// the system default when the tenant has none.
func (r *Registry) ResolveForTenant(ctx context.Context, tenantID string) (storage.Backend, error) {
	_, backend, err := r.Target(ctx, "", tenantID)
	return backend, err
}

// Target resolves the backend for a write and reports the concrete
// configuration id that owns it.
//
// Resolution order: explicit configID, then the tenant default, then the
// system default, then the builtin local backend.
func (r *Registry) Target(ctx context.Context, configID, tenantID string) (string, storage.Backend, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	if configID == BuiltinLocalID {
		b, err := r.builtin(ctx)
		return BuiltinLocalID, b, err
	}

	if configID != "" {
		if b := r.cached(configID); b != nil {
			return configID, b, nil
		}
		gen := r.generation(configID)
		cfg, err := r.configs.GetStorageConfig(ctx, configID)
		if err != nil {
			return "", nil, err
		}
		b, err := r.instance(ctx, cfg, gen)
		return configID, b, err
	}

	if tenantID != "" {
		cfg, err := r.configs.GetTenantStorageConfig(ctx, tenantID)
		switch {
		case err == nil:
			b, err := r.instance(ctx, cfg, r.generation(cfg.ID))
			return cfg.ID, b, err
		case !media.IsNotFound(err):
			return "", nil, err
		}
		logger.Debug("tenant %q has no storage config, using system default", tenantID)
	}

	cfg, err := r.configs.GetDefaultStorageConfig(ctx)
	if err != nil {
		if !media.IsNotFound(err) {
			return "", nil, err
		}
		b, err := r.builtin(ctx)
		return BuiltinLocalID, b, err
	}
	b, err := r.instance(ctx, cfg, r.generation(cfg.ID))
	return cfg.ID, b, err
}

// generation returns the invalidation count covering id.
func (r *Registry) generation(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch + r.generations[id]
}

func (r *Registry) cached(id string) storage.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[id]
}

// instance returns the cached backend of cfg, building it on a miss. gen is
// the generation of cfg.ID observed before cfg was read; the built instance
// is only cached while it is still current.
func (r *Registry) instance(ctx context.Context, cfg *media.StorageConfig, gen uint64) (storage.Backend, error) {
	if b := r.cached(cfg.ID); b != nil {
		return b, nil
	}

	v, err, _ := r.builds.Do(cfg.ID, func() (any, error) {
		if b := r.cached(cfg.ID); b != nil {
			return b, nil
		}

		b, err := r.build(ctx, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		current := r.epoch + r.generations[cfg.ID]
		if current == gen {
			r.instances[cfg.ID] = b
		}
		r.mu.Unlock()

		if current != gen {
			logger.Debug("Storage config %q invalidated during build, not caching", cfg.ID)
			return b, nil
		}
		logger.Info("Storage backend %q ready (driver=%s)", cfg.ID, cfg.Driver)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(storage.Backend), nil
}

// build constructs and decorates a backend without caching it.
func (r *Registry) build(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
	factory, err := r.factory(cfg.Driver)
	if err != nil {
		return nil, err
	}

	b, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend %q: %w", cfg.Driver, cfg.ID, err)
	}
	if b == nil {
		return nil, media.Validationf(cfg.ID, "driver %q returned no backend", cfg.Driver)
	}

	b = storage.RateLimit(b, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	return storage.Instrument(b, r.cfg.Metrics), nil
}

func (r *Registry) builtin(ctx context.Context) (storage.Backend, error) {
	r.mu.RLock()
	b := r.fallback
	r.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	v, err, _ := r.builds.Do(BuiltinLocalID, func() (any, error) {
		r.mu.RLock()
		existing := r.fallback
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		store, err := local.New(ctx, local.Config{Root: r.cfg.FallbackDir, BaseURL: r.cfg.FallbackURL})
		if err != nil {
			return nil, fmt.Errorf("create builtin local backend: %w", err)
		}
		b := storage.Instrument(store, r.cfg.Metrics)

		r.mu.Lock()
		r.fallback = b
		r.mu.Unlock()

		logger.Info("No default storage config, using builtin local backend at %s", store.Root())
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(storage.Backend), nil
}

// Invalidate drops the cached instance of configID, or every cached
// instance when configID is empty. Dropped instances are closed when they
// hold resources. A build of configID already in flight still answers its
// callers but is not cached, so the next Resolve reads the new config.
func (r *Registry) Invalidate(configID string) {
	r.mu.Lock()
	var dropped []storage.Backend
	if configID == "" {
		r.epoch++
		for _, b := range r.instances {
			dropped = append(dropped, b)
		}
		r.instances = make(map[string]storage.Backend)
	} else {
		r.generations[configID]++
		if b, ok := r.instances[configID]; ok {
			dropped = append(dropped, b)
			delete(r.instances, configID)
		}
	}
	r.mu.Unlock()

	for _, b := range dropped {
		closeBackend(b)
	}
}

// Close drops and closes every cached instance.
func (r *Registry) Close() error {
	r.Invalidate("")
	return nil
}

// closeBackend closes the innermost backend when it implements io.Closer.
func closeBackend(b storage.Backend) {
	if c, ok := storage.Innermost(b).(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close storage backend %s: %v", b.Driver(), err)
		}
	}
}
