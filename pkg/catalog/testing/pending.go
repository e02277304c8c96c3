package testing

import (
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPendingDeletionTests covers the claim and journal lifecycle.
func (suite *CatalogTestSuite) RunPendingDeletionTests(t *testing.T) {
	t.Run("ClaimJournalsBytes", suite.testClaimJournalsBytes)
	t.Run("ClaimReferencedConflicts", suite.testClaimReferencedConflicts)
	t.Run("ClaimMissing", suite.testClaimMissing)
	t.Run("AttemptsAndResolve", suite.testAttemptsAndResolve)
}

func (suite *CatalogTestSuite) testClaimJournalsBytes(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(0)
	require.NoError(t, c.CreateFile(ctx, rec))

	pd, err := c.ClaimUnreferenced(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, pd.FileID)
	assert.Equal(t, rec.StoragePath, pd.StoragePath)
	assert.Equal(t, rec.ContentHash, pd.ContentHash)
	assert.False(t, pd.QueuedAt.IsZero())

	_, err = c.GetFile(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)

	pending, err := c.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].FileID)

	// A new upload of the same content may proceed while the old bytes are
	// waiting to be removed
	fresh := newFile(1)
	fresh.ContentHash = rec.ContentHash
	assert.NoError(t, c.CreateFile(ctx, fresh))
}

func (suite *CatalogTestSuite) testClaimReferencedConflicts(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(1)
	require.NoError(t, c.CreateFile(ctx, rec))

	_, err := c.ClaimUnreferenced(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrConflict)

	_, err = c.GetFile(ctx, rec.ID)
	assert.NoError(t, err)

	pending, err := c.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func (suite *CatalogTestSuite) testClaimMissing(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)

	_, err := c.ClaimUnreferenced(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *CatalogTestSuite) testAttemptsAndResolve(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(0)
	require.NoError(t, c.CreateFile(ctx, rec))
	_, err := c.ClaimUnreferenced(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, c.RecordDeletionAttempt(ctx, rec.ID, "access denied"))
	require.NoError(t, c.RecordDeletionAttempt(ctx, rec.ID, "timeout"))

	pending, err := c.ListPendingDeletions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].LastError)

	require.NoError(t, c.ResolvePendingDeletion(ctx, rec.ID))
	require.NoError(t, c.ResolvePendingDeletion(ctx, rec.ID), "resolve is idempotent")

	pending, err = c.ListPendingDeletions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, c.RecordDeletionAttempt(ctx, rec.ID, "x"), media.ErrNotFound)
}
