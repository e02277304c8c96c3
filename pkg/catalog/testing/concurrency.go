package testing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConcurrencyTests hammers the atomic operations the dedup engine and
// the upload coordinator rely on.
func (suite *CatalogTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("ConcurrentRefCounting", suite.testConcurrentRefCounting)
	t.Run("ConcurrentCreateSameHash", suite.testConcurrentCreateSameHash)
	t.Run("ConcurrentPutChunk", suite.testConcurrentPutChunk)
	t.Run("ConcurrentTransition", suite.testConcurrentTransition)
}

const workers = 20

func (suite *CatalogTestSuite) testConcurrentRefCounting(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	rec := newFile(1)
	require.NoError(t, c.CreateFile(ctx, rec))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.IncrementRef(ctx, rec.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := c.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, int64(workers+1), got.RefCount)

	// Release one more time than there are references: exactly one caller
	// observes the transition to zero and one observes a no-op
	var reachedZero, noops, changes atomic.Int32
	for range workers + 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remaining, changed, err := c.DecrementRef(ctx, rec.ID)
			assert.NoError(t, err)
			switch {
			case !changed:
				noops.Add(1)
			case remaining == 0:
				reachedZero.Add(1)
				changes.Add(1)
			default:
				changes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), reachedZero.Load())
	assert.Equal(t, int32(workers+1), changes.Load())
	assert.Equal(t, int32(1), noops.Load())

	got, err = c.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RefCount)
}

func (suite *CatalogTestSuite) testConcurrentCreateSameHash(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	hash := "shared-" + newFile(0).ID

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newFile(1)
			rec.ContentHash = hash
			err := c.CreateFile(ctx, rec)
			switch {
			case err == nil:
				wins.Add(1)
			case media.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func (suite *CatalogTestSuite) testConcurrentPutChunk(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	var created atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.PutChunk(ctx, newChunk(s.ID, 2, "h"))
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)
}

func (suite *CatalogTestSuite) testConcurrentTransition(t *testing.T) {
	ctx := testContext(t)
	c := suite.newCatalog(t)
	s := newSession(time.Now().Add(time.Hour))
	require.NoError(t, c.CreateSession(ctx, s))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.TransitionSession(ctx, s.ID, media.SessionMerging, media.SessionUploading, media.SessionFailed)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, media.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
