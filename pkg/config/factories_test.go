package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *catalogmemory.Catalog) {
	t.Helper()
	configs := catalogmemory.New()
	reg := registry.New(configs, registry.Config{FallbackDir: t.TempDir()})
	require.NoError(t, RegisterDrivers(reg))
	t.Cleanup(func() { _ = reg.Close() })
	return reg, configs
}

func TestRegisterDrivers(t *testing.T) {
	reg, _ := newTestRegistry(t)

	assert.ElementsMatch(t, Drivers, reg.Drivers())
	assert.ElementsMatch(t, []string{"local", "memory", "s3", "minio", "oss"}, Drivers)
}

func TestFactories_Local(t *testing.T) {
	ctx := context.Background()
	reg, configs := newTestRegistry(t)
	root := filepath.Join(t.TempDir(), "media")

	require.NoError(t, configs.PutStorageConfig(ctx, &media.StorageConfig{
		ID:      "disk",
		Driver:  "local",
		Options: map[string]any{"root": root, "base_url": "/files"},
	}))

	backend, err := reg.Resolve(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, "local", backend.Driver())

	url, err := backend.URL(ctx, "a/b.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "/files/a/b.png", url)

	_, err = os.Stat(root)
	assert.NoError(t, err, "local backend creates its root")
}

func TestFactories_MemoryWithCDN(t *testing.T) {
	ctx := context.Background()
	reg, configs := newTestRegistry(t)

	require.NoError(t, configs.PutStorageConfig(ctx, &media.StorageConfig{
		ID:        "mem",
		Driver:    "memory",
		CDNDomain: "cdn.example.com",
		Options:   map[string]any{"bucket": "assets"},
	}))

	backend, err := reg.Resolve(ctx, "mem")
	require.NoError(t, err)

	url, err := backend.URL(ctx, "x.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.txt", url)
}

func TestFactories_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  *media.StorageConfig
	}{
		{
			name: "unknown option key",
			cfg:  &media.StorageConfig{ID: "typo", Driver: "memory", Options: map[string]any{"buckett": "x"}},
		},
		{
			name: "local without root",
			cfg:  &media.StorageConfig{ID: "noroot", Driver: "local", Options: map[string]any{}},
		},
		{
			name: "s3 without bucket",
			cfg:  &media.StorageConfig{ID: "nobucket", Driver: "s3", Options: map[string]any{"region": "eu-west-1"}},
		},
		{
			name: "s3 invalid endpoint",
			cfg: &media.StorageConfig{ID: "badurl", Driver: "s3", Options: map[string]any{
				"region":   "eu-west-1",
				"bucket":   "b",
				"endpoint": "not a url",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg, configs := newTestRegistry(t)
			require.NoError(t, configs.PutStorageConfig(ctx, tt.cfg))

			_, err := reg.Resolve(ctx, tt.cfg.ID)
			require.Error(t, err)
			assert.ErrorIs(t, err, media.ErrValidation)
		})
	}
}

func TestDecode_WeakTyping(t *testing.T) {
	var out struct {
		Retries int    `mapstructure:"retries"`
		Flag    bool   `mapstructure:"flag"`
		Name    string `mapstructure:"name"`
	}

	// JSON round-trips turn integers into float64
	err := decode(map[string]any{"retries": float64(3), "flag": "true", "name": "x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Retries)
	assert.True(t, out.Flag)
	assert.Equal(t, "x", out.Name)
}

func TestCreateCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		c, err := CreateCatalog(ctx, &CatalogConfig{Type: "memory"})
		require.NoError(t, err)
		assert.NoError(t, c.Close())
	})

	t.Run("badger", func(t *testing.T) {
		c, err := CreateCatalog(ctx, &CatalogConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "catalog")},
		})
		require.NoError(t, err)
		assert.NoError(t, c.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "catalog.db")
		c, err := CreateCatalog(ctx, &CatalogConfig{
			Type:   "sqlite",
			SQLite: map[string]any{"path": path, "busy_timeout": "2s"},
		})
		require.NoError(t, err)
		assert.NoError(t, c.Close())

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := CreateCatalog(ctx, &CatalogConfig{Type: "sqlite", SQLite: map[string]any{}})
		assert.Error(t, err)
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := CreateCatalog(ctx, &CatalogConfig{Type: "postgres", Postgres: map[string]any{}})
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := CreateCatalog(ctx, &CatalogConfig{Type: "mysql"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown catalog type")
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := CreateCatalog(cctx, &CatalogConfig{Type: "memory"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInitializeRegistry(t *testing.T) {
	ctx := context.Background()
	configs := catalogmemory.New()

	cfg := GetDefaultConfig()
	cfg.Storage.FallbackDir = t.TempDir()
	cfg.Storage.Backends = []BackendConfig{
		{ID: "main", Name: "Main", Driver: "memory", Default: true, Options: map[string]any{"bucket": "main"}},
		{ID: "acme", Name: "Acme", Driver: "memory", Default: true, Tenant: "acme", Options: map[string]any{}},
	}

	reg, err := InitializeRegistry(ctx, cfg, configs, nil)
	require.NoError(t, err)
	defer reg.Close()

	id, backend, err := reg.Target(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "main", id)
	assert.Equal(t, "memory", backend.Driver())

	id, _, err = reg.Target(ctx, "", "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	id, _, err = reg.Target(ctx, "", "other")
	require.NoError(t, err)
	assert.Equal(t, "main", id, "tenant without a default falls back to the system default")

	stored, err := configs.GetStorageConfig(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", stored.TenantID)
	assert.True(t, stored.IsDefault)
}

func TestInitializeRegistry_NoBackendsUsesBuiltin(t *testing.T) {
	ctx := context.Background()

	cfg := GetDefaultConfig()
	cfg.Storage.FallbackDir = t.TempDir()
	cfg.Storage.Backends = nil

	reg, err := InitializeRegistry(ctx, cfg, catalogmemory.New(), nil)
	require.NoError(t, err)
	defer reg.Close()

	id, backend, err := reg.Target(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, registry.BuiltinLocalID, id)
	assert.Equal(t, "local", backend.Driver())
}

func TestStorageConfigFor(t *testing.T) {
	sc := StorageConfigFor(BackendConfig{
		ID:        "edge",
		Name:      "Edge",
		Driver:    "minio",
		Tenant:    "t1",
		Default:   true,
		CDNDomain: "cdn.example.com",
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 5},
		Options:   map[string]any{"bucket": "edge"},
	})

	assert.Equal(t, "edge", sc.ID)
	assert.Equal(t, "Edge", sc.Name)
	assert.Equal(t, "minio", sc.Driver)
	assert.Equal(t, "t1", sc.TenantID)
	assert.True(t, sc.IsDefault)
	assert.Equal(t, "cdn.example.com", sc.CDNDomain)
	assert.Equal(t, 20.0, sc.RateLimit.RequestsPerSecond)
	assert.Equal(t, 5, sc.RateLimit.Burst)
	assert.Equal(t, "edge", sc.Options["bucket"])
}
