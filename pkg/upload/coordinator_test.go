package upload

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

type fixture struct {
	coord   *Coordinator
	catalog *catalogmemory.Catalog
	store   *content.Store
	clock   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{catalog: catalogmemory.New(), clock: time.Now()}

	reg := registry.New(f.catalog, registry.Config{FallbackDir: t.TempDir()})
	t.Cleanup(func() { _ = reg.Close() })
	f.store = content.New(f.catalog, reg, content.Config{})

	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	coord, err := New(f.catalog, f.store, cfg)
	require.NoError(t, err)
	coord.now = func() time.Time { return f.clock }
	f.coord = coord
	return f
}

func payload(size int, seed int64) []byte {
	b := make([]byte, size)
	_, _ = rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func chunkOf(data []byte, chunkSize, index int) []byte {
	start := index * chunkSize
	return data[start:min(start+chunkSize, len(data))]
}

func (f *fixture) init(t *testing.T, name string, size, chunkSize int64) *media.ChunkUploadSession {
	t.Helper()
	sess, err := f.coord.InitSession(context.Background(), InitOptions{FileName: name, DeclaredSize: size, ChunkSize: chunkSize})
	require.NoError(t, err)
	return sess
}

func (f *fixture) send(t *testing.T, sess *media.ChunkUploadSession, data []byte, indices ...int) {
	t.Helper()
	for _, i := range indices {
		_, err := f.coord.PutChunk(context.Background(), sess.ID, i, bytes.NewReader(chunkOf(data, int(sess.ChunkSize), i)), "")
		require.NoError(t, err, "chunk %d", i)
	}
}

func (f *fixture) download(t *testing.T, fileID string) []byte {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out")
	_, err := f.store.Download(context.Background(), fileID, out)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}

func chunkFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "chunk-*"))
	require.NoError(t, err)
	return matches
}

func TestInitSession(t *testing.T) {
	f := newFixture(t, Config{MaxChunkSize: 4 * mib, MaxDeclaredSize: 100 * mib})

	sess := f.init(t, "movie.mp4", 5*mib+1, mib)
	assert.Equal(t, media.SessionUploading, sess.Status)
	assert.Equal(t, 6, sess.TotalChunks)
	assert.Equal(t, 0, sess.UploadedChunks)
	assert.Equal(t, filepath.Join(f.coord.TempRoot(), sess.ID), sess.TempDirectory)
	assert.DirExists(t, sess.TempDirectory)
	assert.Equal(t, f.clock.Add(DefaultExpiry), sess.ExpiresAt)

	defaults := f.init(t, "small.bin", 10, 0)
	assert.Equal(t, DefaultChunkSize, defaults.ChunkSize)
	assert.Equal(t, 1, defaults.TotalChunks)
	assert.NotEqual(t, sess.TempDirectory, defaults.TempDirectory)

	tests := []struct {
		name string
		opts InitOptions
	}{
		{"missing name", InitOptions{DeclaredSize: 10}},
		{"zero size", InitOptions{FileName: "a", DeclaredSize: 0}},
		{"negative chunk size", InitOptions{FileName: "a", DeclaredSize: 10, ChunkSize: -1}},
		{"chunk size over max", InitOptions{FileName: "a", DeclaredSize: 10, ChunkSize: 5 * mib}},
		{"declared size over max", InitOptions{FileName: "a", DeclaredSize: 101 * mib}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.InitSession(context.Background(), tt.opts)
			assert.ErrorIs(t, err, media.ErrValidation)
		})
	}
}

func TestFiveMegabyteUploadWithRetries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(5*mib, 1)

	sess := f.init(t, "report.bin", 5*mib, mib)
	require.Equal(t, 5, sess.TotalChunks)

	f.send(t, sess, data, 0, 1, 2, 0, 1, 2, 3, 4)

	p, err := f.coord.Progress(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.UploadedChunks)
	assert.Equal(t, 5, p.TotalChunks)
	assert.Equal(t, 100.0, p.PercentComplete)

	complete, err := f.coord.IsComplete(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, complete)

	rec, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5*mib), rec.SizeBytes)
	assert.Equal(t, int64(1), rec.RefCount)
	assert.Equal(t, "report.bin", rec.OriginalName)
	assert.Equal(t, media.HashBytes(data), rec.ContentHash)

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionCompleted, got.Status)
	assert.Equal(t, rec.ID, got.FileID)
	assert.NoDirExists(t, sess.TempDirectory)

	assert.Equal(t, data, f.download(t, rec.ID))
}

func TestMergeReassemblesOutOfOrderChunks(t *testing.T) {
	f := newFixture(t, Config{})
	data := payload(10_000_000, 2)

	sess := f.init(t, "big.dat", 10_000_000, 2_000_000)
	require.Equal(t, 5, sess.TotalChunks)
	f.send(t, sess, data, 4, 3, 2, 1, 0)

	rec, err := f.coord.Merge(context.Background(), sess.ID, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), rec.SizeBytes)
	assert.Equal(t, data, f.download(t, rec.ID))
}

func TestMergeRejectsIncompleteUpload(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(5*mib, 3)

	sess := f.init(t, "partial.bin", 5*mib, mib)
	f.send(t, sess, data, 0, 1, 2, 4)

	complete, err := f.coord.IsComplete(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrValidation)
	assert.Contains(t, err.Error(), "first missing index 3")

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionUploading, got.Status, "an incomplete upload can still receive chunks")
	assert.NoFileExists(t, filepath.Join(sess.TempDirectory, assembledName))

	f.send(t, sess, data, 3)
	_, err = f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.NoError(t, err)
}

func TestPutChunkIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(4*mib, 4)
	sess := f.init(t, "a.bin", 4*mib, mib)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]*media.ChunkRecord, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.coord.PutChunk(ctx, sess.ID, 3, bytes.NewReader(chunkOf(data, mib, 3)), "")
			if assert.NoError(t, err) {
				results[i] = rec
			}
		}(i)
	}
	wg.Wait()

	for _, rec := range results {
		require.NotNil(t, rec)
		assert.Equal(t, results[0].StoredPath, rec.StoredPath)
	}
	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)
	assert.Len(t, chunkFiles(t, sess.TempDirectory), 1)

	chunks, err := f.coord.ListChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].Index)
	assert.Equal(t, int64(mib), chunks[0].SizeBytes)
	assert.Equal(t, media.HashBytes(chunkOf(data, mib, 3)), chunks[0].Hash)
	assert.Equal(t, media.ChunkUploaded, chunks[0].Status)
}

func TestPutChunkValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sess := f.init(t, "v.bin", 10, 4)

	tests := []struct {
		name  string
		index int
		data  []byte
		hash  string
	}{
		{"negative index", -1, []byte("abcd"), ""},
		{"index past end", 3, []byte("ab"), ""},
		{"oversized chunk", 0, []byte("abcde"), ""},
		{"oversized last chunk", 2, []byte("abc"), ""},
		{"empty chunk", 1, nil, ""},
		{"truncated chunk", 1, []byte("ef"), ""},
		{"truncated last chunk", 2, []byte("i"), ""},
		{"hash mismatch", 0, []byte("abcd"), media.HashBytes([]byte("dcba"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.PutChunk(ctx, sess.ID, tt.index, bytes.NewReader(tt.data), tt.hash)
			assert.ErrorIs(t, err, media.ErrValidation)
		})
	}

	assert.Empty(t, chunkFiles(t, sess.TempDirectory), "rejected chunks leave no files")
	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UploadedChunks)

	rec, err := f.coord.PutChunk(ctx, sess.ID, 0, bytes.NewReader([]byte("abcd")), strings.ToUpper(media.HashBytes([]byte("abcd"))))
	require.NoError(t, err)
	assert.Equal(t, media.ChunkVerified, rec.Status)

	_, err = f.coord.PutChunk(ctx, "missing", 0, bytes.NewReader([]byte("a")), "")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestPutChunkRejectsExpiredSession(t *testing.T) {
	f := newFixture(t, Config{})
	sess, err := f.coord.InitSession(context.Background(), InitOptions{FileName: "e", DeclaredSize: 4, Expiry: time.Minute})
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Minute)
	_, err = f.coord.PutChunk(context.Background(), sess.ID, 0, bytes.NewReader([]byte("abcd")), "")
	assert.ErrorIs(t, err, media.ErrValidation)
}

func TestPutChunkAfterMergeIsConflict(t *testing.T) {
	f := newFixture(t, Config{})
	sess := f.init(t, "c", 4, 4)
	f.send(t, sess, []byte("abcd"), 0)
	_, err := f.coord.Merge(context.Background(), sess.ID, MergeOptions{})
	require.NoError(t, err)

	_, err = f.coord.PutChunk(context.Background(), sess.ID, 0, bytes.NewReader([]byte("abcd")), "")
	assert.ErrorIs(t, err, media.ErrConflict)

	_, err = f.coord.Merge(context.Background(), sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrConflict)
}

// blockingStore holds the first Put until released.
type blockingStore struct {
	next    ContentStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) Put(ctx context.Context, localPath string, opts content.PutOptions) (*media.FileRecord, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.next.Put(ctx, localPath, opts)
}

func TestConcurrentMergeFailsFast(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(3*mib, 5)
	sess := f.init(t, "m.bin", 3*mib, mib)
	f.send(t, sess, data, 0, 1, 2)

	blocker := &blockingStore{next: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	f.coord.content = blocker

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
		done <- err
	}()
	<-blocker.entered

	_, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrConflict)

	close(blocker.release)
	require.NoError(t, <-done)

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionCompleted, got.Status)
}

type failingStore struct{ err error }

func (s failingStore) Put(context.Context, string, content.PutOptions) (*media.FileRecord, error) {
	return nil, s.err
}

func TestFailedMergeKeepsFilesAndCanBeRetried(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(2*mib, 6)
	sess := f.init(t, "retry.bin", 2*mib, mib)
	f.send(t, sess, data, 0, 1)

	f.coord.content = failingStore{err: media.BackendError("s3", "upload", "k", errors.New("quota exceeded"))}
	_, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrBackend)

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "quota exceeded")
	assert.Len(t, chunkFiles(t, sess.TempDirectory), 2)
	assert.FileExists(t, filepath.Join(sess.TempDirectory, assembledName))

	f.coord.content = f.store
	rec, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, data, f.download(t, rec.ID))

	got, err = f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestMergeReportsMissingChunkFile(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sess := f.init(t, "lost.bin", 8, 4)
	f.send(t, sess, []byte("abcdefgh"), 0, 1)

	chunks, err := f.coord.ListChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(chunks[1].StoredPath))

	_, err = f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrConsistency)

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionFailed, got.Status)
	assert.FileExists(t, chunks[0].StoredPath)
}

func TestPutChunkRejectsTruncatedChunk(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := []byte("abcdefghij")
	sess := f.init(t, "short.bin", 10, 4)

	_, err := f.coord.PutChunk(ctx, sess.ID, 0, bytes.NewReader([]byte("abc")), "")
	require.ErrorIs(t, err, media.ErrValidation)
	assert.Contains(t, err.Error(), "truncated")

	_, err = f.coord.PutChunk(ctx, sess.ID, 2, bytes.NewReader([]byte("i")), "")
	require.ErrorIs(t, err, media.ErrValidation)

	assert.Empty(t, chunkFiles(t, sess.TempDirectory), "truncated chunks leave no files")
	_, err = f.catalog.GetChunk(ctx, sess.ID, 0)
	assert.ErrorIs(t, err, media.ErrNotFound)

	got, err := f.coord.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionUploading, got.Status)
	assert.Equal(t, 0, got.UploadedChunks)

	// Resending the full chunks completes the upload
	f.send(t, sess, data, 0, 1, 2)
	rec, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.SizeBytes)
	assert.Equal(t, data, f.download(t, rec.ID))
}

func TestMergeRejectsChunkFileAlteredOnDisk(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sess := f.init(t, "altered.bin", 10, 4)
	f.send(t, sess, []byte("abcdefghij"), 0, 1, 2)

	chunks, err := f.coord.ListChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(chunks[2].StoredPath, 1))

	_, err = f.coord.Merge(ctx, sess.ID, MergeOptions{})
	assert.ErrorIs(t, err, media.ErrValidation)
	assert.Contains(t, err.Error(), "assembled size 9 does not match declared size 10")
}

func TestChunkedUploadsDeduplicate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := payload(3*mib, 7)

	var ids []string
	for _, name := range []string{"first.bin", "second.bin"} {
		sess := f.init(t, name, 3*mib, mib)
		f.send(t, sess, data, 2, 0, 1)
		rec, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	assert.Equal(t, ids[0], ids[1])
	rec, err := f.store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.RefCount)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sess := f.init(t, "c.bin", 8, 4)
	f.send(t, sess, []byte("abcdefgh"), 0)

	ok, err := f.coord.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoDirExists(t, sess.TempDirectory)

	_, err = f.coord.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = f.catalog.GetChunk(ctx, sess.ID, 0)
	assert.ErrorIs(t, err, media.ErrNotFound)

	_, err = f.coord.PutChunk(ctx, sess.ID, 1, bytes.NewReader([]byte("efgh")), "")
	assert.ErrorIs(t, err, media.ErrNotFound)

	ok, err = f.coord.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, Config{SweepBatchSize: 7})
	ctx := context.Background()

	create := func(expiry time.Duration) *media.ChunkUploadSession {
		sess, err := f.coord.InitSession(ctx, InitOptions{FileName: "s.bin", DeclaredSize: 4, ChunkSize: 4, Expiry: expiry})
		require.NoError(t, err)
		return sess
	}

	var expired, kept []*media.ChunkUploadSession
	for i := 0; i < 30; i++ {
		sess := create(time.Hour)
		if i%3 == 0 {
			f.send(t, sess, []byte("abcd"), 0)
		}
		expired = append(expired, sess)
	}
	for i := 0; i < 10; i++ {
		sess := create(time.Hour)
		f.send(t, sess, []byte("done"), 0)
		_, err := f.coord.Merge(ctx, sess.ID, MergeOptions{})
		require.NoError(t, err)
		kept = append(kept, sess)
	}
	for i := 0; i < 60; i++ {
		kept = append(kept, create(48*time.Hour))
	}

	f.clock = f.clock.Add(2 * time.Hour)
	res, err := f.coord.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 30)
	assert.Empty(t, res.Failed)

	for _, sess := range expired {
		_, err := f.coord.Get(ctx, sess.ID)
		assert.ErrorIs(t, err, media.ErrNotFound)
		assert.NoDirExists(t, sess.TempDirectory)
	}
	for _, sess := range kept {
		_, err := f.coord.Get(ctx, sess.ID)
		assert.NoError(t, err)
	}

	again, err := f.coord.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Removed)
}

func TestSweepExpiredContinuesPastFailures(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	good, err := f.coord.InitSession(ctx, InitOptions{FileName: "g", DeclaredSize: 4, Expiry: time.Minute})
	require.NoError(t, err)
	bad, err := f.coord.InitSession(ctx, InitOptions{FileName: "b", DeclaredSize: 4, Expiry: time.Minute})
	require.NoError(t, err)

	// A session pointing outside the temp root is refused by Cancel.
	outside := t.TempDir()
	require.NoError(t, f.catalog.DeleteSession(ctx, bad.ID))
	bad.TempDirectory = outside
	require.NoError(t, f.catalog.CreateSession(ctx, bad))

	f.clock = f.clock.Add(time.Hour)
	res, err := f.coord.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, res.Removed)
	require.Contains(t, res.Failed, bad.ID)
	assert.ErrorIs(t, res.Failed[bad.ID], media.ErrConsistency)
	assert.DirExists(t, outside)
}

func TestKeyLocksAreReleased(t *testing.T) {
	l := newKeyLocks()
	unlock := l.lock("a")
	unlock()
	l.lock("b")()
	assert.Empty(t, l.locks)
}
