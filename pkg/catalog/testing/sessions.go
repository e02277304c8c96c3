package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionTests covers the session state machine and expiry listing.
func (suite *CatalogTestSuite) RunSessionTests(t *testing.T) {
	t.Run("CreateAndGet", suite.testSessionCreateAndGet)
	t.Run("StateMachine", suite.testSessionStateMachine)
	t.Run("FailAndRetry", suite.testSessionFailAndRetry)
	t.Run("ListExpired", suite.testListExpiredSessions)
	t.Run("Delete", suite.testDeleteSession)
}

func (suite *CatalogTestSuite) testSessionCreateAndGet(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	s.TenantID = "tenant-a"
	s.TargetBackendID = "cfg-1"

	require.NoError(t, c.CreateSession(ctx, s))
	assert.ErrorIs(t, c.CreateSession(ctx, s), media.ErrConflict)

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.FileName, got.FileName)
	assert.Equal(t, s.DeclaredSize, got.DeclaredSize)
	assert.Equal(t, s.ChunkSize, got.ChunkSize)
	assert.Equal(t, 5, got.TotalChunks)
	assert.Equal(t, 0, got.UploadedChunks)
	assert.Equal(t, media.SessionUploading, got.Status)
	assert.Equal(t, s.TempDirectory, got.TempDirectory)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.Equal(t, "cfg-1", got.TargetBackendID)
	assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)

	_, err = c.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *CatalogTestSuite) testSessionStateMachine(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	merging, err := c.TransitionSession(ctx, s.ID, media.SessionMerging, media.SessionUploading, media.SessionFailed)
	require.NoError(t, err)
	assert.Equal(t, media.SessionMerging, merging.Status)

	_, err = c.TransitionSession(ctx, s.ID, media.SessionMerging, media.SessionUploading, media.SessionFailed)
	assert.ErrorIs(t, err, media.ErrConflict, "a second merge must not start")

	require.NoError(t, c.CompleteSession(ctx, s.ID, "file-1"))

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionCompleted, got.Status)
	assert.Equal(t, "file-1", got.FileID)

	assert.ErrorIs(t, c.FailSession(ctx, s.ID, "late failure"), media.ErrConflict)
	assert.ErrorIs(t, c.CompleteSession(ctx, s.ID, "file-2"), media.ErrConflict)

	_, err = c.TransitionSession(ctx, "missing", media.SessionMerging, media.SessionUploading)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *CatalogTestSuite) testSessionFailAndRetry(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	_, err := c.TransitionSession(ctx, s.ID, media.SessionMerging, media.SessionUploading)
	require.NoError(t, err)
	require.NoError(t, c.FailSession(ctx, s.ID, "size mismatch"))

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionFailed, got.Status)
	assert.Equal(t, "size mismatch", got.ErrorMessage)

	_, err = c.TransitionSession(ctx, s.ID, media.SessionMerging, media.SessionUploading, media.SessionFailed)
	require.NoError(t, err, "failed sessions can be merged again")
	require.NoError(t, c.CompleteSession(ctx, s.ID, "file-1"))

	got, err = c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)
}

func (suite *CatalogTestSuite) testListExpiredSessions(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	now := time.Now()

	expired := newSession(now.Add(-time.Hour))
	expiredFailed := newSession(now.Add(-2 * time.Hour))
	expiredCompleted := newSession(now.Add(-time.Hour))
	live := newSession(now.Add(time.Hour))
	for _, s := range []*media.ChunkUploadSession{expired, expiredFailed, expiredCompleted, live} {
		require.NoError(t, c.CreateSession(ctx, s))
	}

	_, err := c.TransitionSession(ctx, expiredCompleted.ID, media.SessionMerging, media.SessionUploading)
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(ctx, expiredCompleted.ID, "file"))
	require.NoError(t, c.FailSession(ctx, expiredFailed.ID, "boom"))

	got, err := c.ListExpiredSessions(ctx, now, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{expired.ID, expiredFailed.ID}, ids)

	limited, err := c.ListExpiredSessions(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func (suite *CatalogTestSuite) testDeleteSession(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))
	_, _, err := c.PutChunk(ctx, newChunk(s.ID, 0, "h0"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteSession(ctx, s.ID))

	_, err = c.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = c.GetChunk(ctx, s.ID, 0)
	assert.ErrorIs(t, err, media.ErrNotFound)
	chunks, err := c.ListChunks(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, c.DeleteSession(ctx, s.ID), media.ErrNotFound)
}
