package testing

import (
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRefCountTests covers increments, decrements and the zero floor.
func (suite *CatalogTestSuite) RunRefCountTests(t *testing.T) {
	t.Run("IncrementReturnsRecord", suite.testIncrementReturnsRecord)
	t.Run("DecrementFloorsAtZero", suite.testDecrementFloorsAtZero)
	t.Run("IncrementFromZero", suite.testIncrementFromZero)
}

func (suite *CatalogTestSuite) testIncrementReturnsRecord(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(1)
	require.NoError(t, c.CreateFile(ctx, rec))

	updated, err := c.IncrementRef(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.RefCount)
	assert.Equal(t, rec.ContentHash, updated.ContentHash)

	got, err := c.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.RefCount)
}

func (suite *CatalogTestSuite) testDecrementFloorsAtZero(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(1)
	require.NoError(t, c.CreateFile(ctx, rec))

	remaining, changed, err := c.DecrementRef(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(0), remaining)

	remaining, changed, err = c.DecrementRef(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, changed, "decrement at zero is a no-op")
	assert.Equal(t, int64(0), remaining)

	got, err := c.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RefCount)
}

func (suite *CatalogTestSuite) testIncrementFromZero(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(0)
	require.NoError(t, c.CreateFile(ctx, rec))

	updated, err := c.IncrementRef(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.RefCount)

	_, err = c.ClaimUnreferenced(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrConflict, "revived record cannot be claimed")
}
