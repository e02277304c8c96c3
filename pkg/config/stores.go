package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/catalog/badger"
	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/catalog/sqlstore"
)

// sqliteOptions represents SQLite catalog configuration loaded from YAML files.
type sqliteOptions struct {
	Path        string        `mapstructure:"path" validate:"required"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// postgresOptions represents PostgreSQL catalog configuration loaded from YAML files.
type postgresOptions struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// CreateCatalog creates a catalog based on configuration.
//
// This factory function uses the Type field to determine which implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the implementation's constructor.
//
// Supported types:
//   - "memory": Uses pkg/catalog/memory (volatile, for tests and trials)
//   - "badger": Uses pkg/catalog/badger (embedded key-value store)
//   - "sqlite": Uses pkg/catalog/sqlstore with modernc.org/sqlite
//   - "postgres": Uses pkg/catalog/sqlstore with pgx
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Catalog configuration
//
// Returns:
//   - catalog.Catalog: Initialized catalog, to be closed by the caller
//   - error: Configuration or initialization error
func CreateCatalog(ctx context.Context, cfg *CatalogConfig) (catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return catalogmemory.New(), nil
	case "badger":
		return createBadgerCatalog(ctx, cfg.Badger)
	case "sqlite":
		return createSQLiteCatalog(ctx, cfg.SQLite)
	case "postgres":
		return createPostgresCatalog(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown catalog type: %q", cfg.Type)
	}
}

// createBadgerCatalog creates a BadgerDB catalog.
func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	var badgerCfg badger.Config
	if err := decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := badger.New(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalog: %w", err)
	}
	return store, nil
}

// createSQLiteCatalog creates a SQLite catalog, creating its parent
// directory when needed.
func createSQLiteCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	var opts sqliteOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}
	if err := validate.Struct(&opts); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", formatValidationError(err))
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	store, err := sqlstore.New(ctx, sqlstore.Config{
		Driver:      sqlstore.DriverSQLite,
		DSN:         opts.Path,
		BusyTimeout: opts.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite catalog: %w", err)
	}
	return store, nil
}

// createPostgresCatalog creates a PostgreSQL catalog.
func createPostgresCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	var opts postgresOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	if err := validate.Struct(&opts); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", formatValidationError(err))
	}

	store, err := sqlstore.New(ctx, sqlstore.Config{
		Driver:       sqlstore.DriverPostgres,
		DSN:          opts.DSN,
		MaxOpenConns: opts.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres catalog: %w", err)
	}
	return store, nil
}
