package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunChunkTests covers idempotent chunk recording.
func (suite *CatalogTestSuite) RunChunkTests(t *testing.T) {
	t.Run("PutChunkIsIdempotent", suite.testPutChunkIsIdempotent)
	t.Run("ListChunksAscending", suite.testListChunksAscending)
	t.Run("PutChunkMissingSession", suite.testPutChunkMissingSession)
}

func (suite *CatalogTestSuite) testPutChunkIsIdempotent(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	first, created, err := c.PutChunk(ctx, newChunk(s.ID, 3, "original"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "original", first.Hash)

	again, created, err := c.PutChunk(ctx, newChunk(s.ID, 3, "retry"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "original", again.Hash, "existing record is returned unchanged")

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)

	chunk, err := c.GetChunk(ctx, s.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), chunk.SizeBytes)
	assert.Equal(t, media.ChunkUploaded, chunk.Status)
}

func (suite *CatalogTestSuite) testListChunksAscending(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	for _, idx := range []int{4, 0, 2, 10, 1} {
		_, _, err := c.PutChunk(ctx, newChunk(s.ID, idx, ""))
		require.NoError(t, err)
	}

	chunks, err := c.ListChunks(ctx, s.ID)
	require.NoError(t, err)
	indices := make([]int, 0, len(chunks))
	for _, ch := range chunks {
		indices = append(indices, ch.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 4, 10}, indices)

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.UploadedChunks)
}

func (suite *CatalogTestSuite) testPutChunkMissingSession(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	_, _, err := c.PutChunk(ctx, newChunk("missing", 0, ""))
	assert.ErrorIs(t, err, media.ErrNotFound)

	_, err = c.GetChunk(ctx, "missing", 0)
	assert.ErrorIs(t, err, media.ErrNotFound)
}
