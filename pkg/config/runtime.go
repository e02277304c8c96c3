package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/gc"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/marmos91/dittomedia/pkg/upload"
)

// Runtime is the wired media subsystem built from a Config.
//
// It is the composition root: the catalog, the registry, the content store,
// the upload coordinator and the maintenance collector share one catalog
// and one registry, and Close releases them in reverse order.
type Runtime struct {
	Config    *Config
	Catalog   catalog.Catalog
	Registry  *registry.Registry
	Content   *content.Store
	Uploads   *upload.Coordinator
	Collector *gc.Collector
	Metrics   *MetricsResult
}

// ConfigureLogging applies the logging section to the process logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	return nil
}

// Build wires every component described by cfg.
//
// Metrics must be created by the caller (InitializeMetrics) so that one
// process never registers the Prometheus families twice. A nil m disables
// metrics.
//
// Parameters:
//   - ctx: Context for catalog and registry initialization
//   - cfg: Loaded and validated configuration
//   - m: Metrics created by InitializeMetrics, or nil
//
// Returns:
//   - *Runtime: Ready to serve; call Close when done
//   - error: If any component cannot be created (already created ones are closed)
func Build(ctx context.Context, cfg *Config, m *MetricsResult) (*Runtime, error) {
	if m == nil {
		m = &MetricsResult{}
	}
	rt := &Runtime{Config: cfg, Metrics: m}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	var err error

	// ========================================================================
	// Step 1: Catalog
	// ========================================================================

	rt.Catalog, err = CreateCatalog(ctx, &cfg.Catalog)
	if err != nil {
		return fail(err)
	}
	logger.Info("Catalog ready: type=%s", cfg.Catalog.Type)

	// ========================================================================
	// Step 2: Storage registry
	// ========================================================================

	rt.Registry, err = InitializeRegistry(ctx, cfg, rt.Catalog, m.Storage)
	if err != nil {
		return fail(err)
	}

	// ========================================================================
	// Step 3: Content store and upload coordinator
	// ========================================================================

	rt.Content = content.New(rt.Catalog, rt.Registry, content.Config{
		KeyPrefix: cfg.Storage.KeyPrefix,
		BatchSize: cfg.GC.BatchSize,
		Metrics:   m.Content,
	})

	rt.Uploads, err = upload.New(rt.Catalog, rt.Content, upload.Config{
		TempDir:          cfg.Uploads.TempDir,
		DefaultChunkSize: cfg.Uploads.DefaultChunkSize,
		MaxChunkSize:     cfg.Uploads.MaxChunkSize,
		MaxDeclaredSize:  cfg.Uploads.MaxDeclaredSize,
		DefaultExpiry:    cfg.Uploads.DefaultExpiry,
		SweepBatchSize:   cfg.GC.BatchSize,
		Metrics:          m.Upload,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create upload coordinator: %w", err))
	}

	// ========================================================================
	// Step 4: Maintenance collector
	// ========================================================================

	rt.Collector, err = gc.NewCollector(rt.Uploads, rt.Content, gc.Config{
		Enabled:  cfg.GC.Enabled && cfg.GC.Scheduler == "ticker",
		Interval: cfg.GC.Interval,
		Timeout:  cfg.GC.Timeout,
		Metrics:  m.GC,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create maintenance collector: %w", err))
	}

	return rt, nil
}

// StartMaintenance starts the configured maintenance scheduler.
//
// With the ticker scheduler the collector runs in-process; with asynq a
// worker and a scheduler are started against Redis so that a fleet of
// processes runs one maintenance pass per cron tick.
//
// The returned stop function is safe to call when maintenance is disabled.
func (rt *Runtime) StartMaintenance() (stop func(ctx context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !rt.Config.GC.Enabled {
		logger.Info("Maintenance disabled")
		return noop, nil
	}

	switch rt.Config.GC.Scheduler {
	case "asynq":
		runner := gc.NewAsynqRunner(rt.Collector, gc.AsynqConfig{
			RedisAddr:     rt.Config.GC.Asynq.RedisAddr,
			RedisPassword: rt.Config.GC.Asynq.RedisPassword,
			RedisDB:       rt.Config.GC.Asynq.RedisDB,
			Cron:          rt.Config.GC.Asynq.Cron,
			Concurrency:   rt.Config.GC.Asynq.Concurrency,
			Timeout:       rt.Config.GC.Timeout,
		})
		if err := runner.Start(); err != nil {
			return nil, err
		}
		return func(context.Context) error {
			runner.Shutdown()
			return nil
		}, nil

	default:
		rt.Collector.Start()
		return rt.Collector.Stop, nil
	}
}

// Close releases the registry's backends and the catalog.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Registry != nil {
		errs = append(errs, rt.Registry.Close())
	}
	if rt.Catalog != nil {
		if err := rt.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}
