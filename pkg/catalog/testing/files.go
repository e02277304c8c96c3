package testing

import (
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFileTests covers record creation, lookup and deletion.
func (suite *CatalogTestSuite) RunFileTests(t *testing.T) {
	t.Run("CreateAndGet", suite.testCreateAndGet)
	t.Run("DuplicateHashConflicts", suite.testDuplicateHashConflicts)
	t.Run("DuplicateIDConflicts", suite.testDuplicateIDConflicts)
	t.Run("NotFound", suite.testFileNotFound)
	t.Run("DeleteFile", suite.testDeleteFile)
	t.Run("ListUnreferenced", suite.testListUnreferenced)
}

func (suite *CatalogTestSuite) testCreateAndGet(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(1)

	require.NoError(t, c.CreateFile(ctx, rec))

	got, err := c.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Equal(t, rec.StoragePath, got.StoragePath)
	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, rec.OriginalName, got.OriginalName)
	assert.Equal(t, rec.SizeBytes, got.SizeBytes)
	assert.Equal(t, rec.MimeType, got.MimeType)
	assert.Equal(t, media.KindImage, got.Kind)
	require.NotNil(t, got.Width)
	require.NotNil(t, got.Height)
	assert.Equal(t, 640, *got.Width)
	assert.Equal(t, 480, *got.Height)
	assert.Equal(t, int64(1), got.RefCount)
	assert.False(t, got.CreatedAt.IsZero())

	byHash, err := c.GetFileByHash(ctx, rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byHash.ID)
}

func (suite *CatalogTestSuite) testDuplicateHashConflicts(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	first := newFile(1)
	require.NoError(t, c.CreateFile(ctx, first))

	second := newFile(1)
	second.ContentHash = first.ContentHash
	err := c.CreateFile(ctx, second)
	assert.ErrorIs(t, err, media.ErrConflict)

	_, err = c.GetFile(ctx, second.ID)
	assert.ErrorIs(t, err, media.ErrNotFound, "loser must not leave a row")
}

func (suite *CatalogTestSuite) testDuplicateIDConflicts(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	first := newFile(1)
	require.NoError(t, c.CreateFile(ctx, first))

	second := newFile(1)
	second.ID = first.ID
	assert.ErrorIs(t, c.CreateFile(ctx, second), media.ErrConflict)
}

func (suite *CatalogTestSuite) testFileNotFound(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	_, err := c.GetFile(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = c.GetFileByHash(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = c.IncrementRef(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, _, err = c.DecrementRef(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.ErrorIs(t, c.DeleteFile(ctx, "missing"), media.ErrNotFound)
}

func (suite *CatalogTestSuite) testDeleteFile(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(3)
	require.NoError(t, c.CreateFile(ctx, rec))

	require.NoError(t, c.DeleteFile(ctx, rec.ID))

	_, err := c.GetFile(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = c.GetFileByHash(ctx, rec.ContentHash)
	assert.ErrorIs(t, err, media.ErrNotFound)

	// The hash is free again
	again := newFile(1)
	again.ContentHash = rec.ContentHash
	assert.NoError(t, c.CreateFile(ctx, again))
}

func (suite *CatalogTestSuite) testListUnreferenced(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	zeroA := newFile(0)
	zeroB := newFile(0)
	live := newFile(2)
	for _, rec := range []*media.FileRecord{zeroA, live, zeroB} {
		require.NoError(t, c.CreateFile(ctx, rec))
	}

	got, err := c.ListUnreferenced(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{zeroA.ID, zeroB.ID}, ids)

	limited, err := c.ListUnreferenced(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
