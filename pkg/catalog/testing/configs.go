package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConfigTests covers storage configuration persistence and default
// selection per scope.
func (suite *CatalogTestSuite) RunConfigTests(t *testing.T) {
	t.Run("RoundTrip", suite.testConfigRoundTrip)
	t.Run("DefaultPerScope", suite.testDefaultPerScope)
	t.Run("UpdateKeepsCreatedAt", suite.testConfigUpdateKeepsCreatedAt)
	t.Run("Delete", suite.testConfigDelete)
}

func (suite *CatalogTestSuite) testConfigRoundTrip(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	cfg := &media.StorageConfig{
		ID:     "s3-main",
		Name:   "Main bucket",
		Driver: "s3",
		Options: map[string]any{
			"bucket": "media",
			"region": "eu-west-1",
		},
		CDNDomain: "cdn.example.com",
		RateLimit: media.RateLimit{RequestsPerSecond: 50, Burst: 100},
	}
	require.NoError(t, c.PutStorageConfig(ctx, cfg))

	got, err := c.GetStorageConfig(ctx, "s3-main")
	require.NoError(t, err)
	assert.Equal(t, "Main bucket", got.Name)
	assert.Equal(t, "s3", got.Driver)
	assert.Equal(t, "media", got.Options["bucket"])
	assert.Equal(t, "eu-west-1", got.Options["region"])
	assert.Equal(t, "cdn.example.com", got.CDNDomain)
	assert.Equal(t, 50.0, got.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, got.RateLimit.Burst)

	_, err = c.GetStorageConfig(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *CatalogTestSuite) testDefaultPerScope(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	_, err := c.GetDefaultStorageConfig(ctx)
	assert.ErrorIs(t, err, media.ErrNotFound)

	put := func(id, tenant string, isDefault bool) {
		require.NoError(t, c.PutStorageConfig(ctx, &media.StorageConfig{
			ID: id, Name: id, Driver: "local", TenantID: tenant, IsDefault: isDefault,
			Options: map[string]any{"root": "/srv/" + id},
		}))
	}

	put("a", "", true)
	put("t1", "tenant-1", true)
	put("b", "", true)

	sys, err := c.GetDefaultStorageConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", sys.ID)

	a, err := c.GetStorageConfig(ctx, "a")
	require.NoError(t, err)
	assert.False(t, a.IsDefault, "previous default in the same scope is cleared")

	tenant, err := c.GetTenantStorageConfig(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID, "tenant defaults are independent of the system default")

	_, err = c.GetTenantStorageConfig(ctx, "tenant-2")
	assert.ErrorIs(t, err, media.ErrNotFound)

	all, err := c.ListStorageConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "t1", all[2].ID)
}

func (suite *CatalogTestSuite) testConfigUpdateKeepsCreatedAt(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	cfg := &media.StorageConfig{ID: "x", Name: "first", Driver: "memory"}
	require.NoError(t, c.PutStorageConfig(ctx, cfg))
	first, err := c.GetStorageConfig(ctx, "x")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	cfg.Name = "second"
	require.NoError(t, c.PutStorageConfig(ctx, cfg))

	second, err := c.GetStorageConfig(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "second", second.Name)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func (suite *CatalogTestSuite) testConfigDelete(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	require.NoError(t, c.PutStorageConfig(ctx, &media.StorageConfig{ID: "x", Driver: "memory", IsDefault: true}))
	require.NoError(t, c.DeleteStorageConfig(ctx, "x"))

	_, err := c.GetStorageConfig(ctx, "x")
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = c.GetDefaultStorageConfig(ctx)
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.ErrorIs(t, c.DeleteStorageConfig(ctx, "x"), media.ErrNotFound)
}
