package content

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver serves a fixed set of backends; "" maps to "main".
type staticResolver struct {
	backends map[string]storage.Backend
}

func (r *staticResolver) Target(ctx context.Context, configID, tenantID string) (string, storage.Backend, error) {
	if configID == "" {
		configID = "main"
	}
	b, err := r.Resolve(ctx, configID)
	return configID, b, err
}

func (r *staticResolver) Resolve(_ context.Context, configID string) (storage.Backend, error) {
	if configID == "" {
		configID = "main"
	}
	b, ok := r.backends[configID]
	if !ok {
		return nil, media.NotFound("storage config not found", configID)
	}
	return b, nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	puts     map[string]int
	releases map[string]int
}

func (m *recordingMetrics) RecordPut(outcome string, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts[outcome]++
}

func (m *recordingMetrics) RecordRelease(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[outcome]++
}

func (m *recordingMetrics) RecordSweep(string, int, int) {}

type fixture struct {
	store   *Store
	catalog *catalogmemory.Catalog
	main    *memory.Store
	archive *memory.Store
	metrics *recordingMetrics
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: catalogmemory.New(),
		main:    memory.New(memory.Config{Bucket: "main"}),
		archive: memory.New(memory.Config{Bucket: "archive"}),
		metrics: &recordingMetrics{puts: map[string]int{}, releases: map[string]int{}},
		dir:     t.TempDir(),
	}
	resolver := &staticResolver{backends: map[string]storage.Backend{"main": f.main, "archive": f.archive}}
	f.store = New(f.catalog, resolver, Config{Metrics: f.metrics})
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func (f *fixture) put(t *testing.T, name string, data []byte) *media.FileRecord {
	t.Helper()
	rec, err := f.store.Put(context.Background(), f.write(t, name, data), PutOptions{OriginalName: name})
	require.NoError(t, err)
	return rec
}

func TestPutStoresNewContent(t *testing.T) {
	f := newFixture(t)
	data := []byte("hello, media")

	rec := f.put(t, "Greeting.TXT", data)

	assert.Equal(t, media.HashBytes(data), rec.ContentHash)
	assert.Equal(t, int64(len(data)), rec.SizeBytes)
	assert.Equal(t, int64(1), rec.RefCount)
	assert.Equal(t, "main", rec.StorageBackendID)
	assert.Equal(t, "Greeting.TXT", rec.OriginalName)
	assert.Equal(t, media.KindDocument, rec.Kind)
	assert.True(t, strings.HasSuffix(rec.StoragePath, rec.ID+".txt"), rec.StoragePath)
	assert.Equal(t, "memory://main/"+rec.StoragePath, rec.URL)

	ok, err := f.main.Exists(context.Background(), rec.StoragePath)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.metrics.puts[PutStored])
}

func TestPutDeduplicatesIdenticalContent(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte("same bytes "), 1000)

	a := f.put(t, "a.bin", data)
	b, err := f.store.Put(context.Background(), f.write(t, "b.bin", data), PutOptions{
		OriginalName:    "b.bin",
		TargetBackendID: "archive",
	})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, int64(2), b.RefCount)
	assert.Equal(t, "main", b.StorageBackendID, "existing copy wins over the requested backend")
	assert.Equal(t, 1, f.main.Len())
	assert.Equal(t, 0, f.archive.Len())
	assert.Equal(t, 1, f.metrics.puts[PutDeduplicated])
}

func TestPutHonoursTargetBackend(t *testing.T) {
	f := newFixture(t)

	rec, err := f.store.Put(context.Background(), f.write(t, "x.bin", []byte("x")), PutOptions{TargetBackendID: "archive"})
	require.NoError(t, err)
	assert.Equal(t, "archive", rec.StorageBackendID)
	assert.Equal(t, 1, f.archive.Len())
}

func TestConcurrentPutsOfSameContentCreateOneRecord(t *testing.T) {
	f := newFixture(t)
	data := []byte("raced content")
	const workers = 20

	paths := make([]string, workers)
	for i := range paths {
		paths[i] = f.write(t, "copy-"+string(rune('a'+i))+".dat", data)
	}

	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.store.Put(context.Background(), paths[i], PutOptions{})
			if assert.NoError(t, err) {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	rec, err := f.catalog.GetFile(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(workers), rec.RefCount)
	assert.Equal(t, 1, f.main.Len(), "losing uploads are removed")
}

func TestPutUploadFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	data := []byte("doomed")
	f.main.FailNext(storage.OpUpload, 1)

	_, err := f.store.Put(context.Background(), f.write(t, "d.bin", data), PutOptions{})
	assert.ErrorIs(t, err, media.ErrBackend)

	_, err = f.catalog.GetFileByHash(context.Background(), media.HashBytes(data))
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.Equal(t, 0, f.main.Len())
}

func TestPutMissingFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Put(context.Background(), filepath.Join(f.dir, "nope"), PutOptions{})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestPutProbesImageDimensions(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 16))))
	rec := f.put(t, "pixel.png", buf.Bytes())

	assert.Equal(t, media.KindImage, rec.Kind)
	assert.Equal(t, "image/png", rec.MimeType)
	require.NotNil(t, rec.Width)
	require.NotNil(t, rec.Height)
	assert.Equal(t, 32, *rec.Width)
	assert.Equal(t, 16, *rec.Height)
}

func TestReleaseDecrementsThenDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("shared")

	rec := f.put(t, "a", data)
	f.put(t, "b", data)

	deleted, err := f.store.Release(ctx, rec.ID, false)
	require.NoError(t, err)
	assert.False(t, deleted)
	got, err := f.catalog.GetFile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RefCount)
	assert.Equal(t, 1, f.main.Len())

	deleted, err = f.store.Release(ctx, rec.ID, false)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.catalog.GetFile(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.Equal(t, 0, f.main.Len())

	pending, err := f.catalog.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReleaseAtZeroIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.catalog.CreateFile(ctx, &media.FileRecord{
		ID: "zero", ContentHash: "h0", StoragePath: "2026/01/01/zero.bin", StorageBackendID: "main", RefCount: 0,
	}))

	deleted, err := f.store.Release(ctx, "zero", false)
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err := f.catalog.GetFile(ctx, "zero")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RefCount)
	assert.Equal(t, 1, f.metrics.releases[ReleaseNoop])
}

func TestReleaseUnknownFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Release(context.Background(), "missing", false)
	assert.ErrorIs(t, err, media.ErrNotFound)
	_, err = f.store.Release(context.Background(), "missing", true)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestConcurrentReleasesDeleteExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("contended")
	const owners = 10

	var rec *media.FileRecord
	for i := 0; i < owners; i++ {
		rec = f.put(t, "owner", data)
	}
	require.Equal(t, int64(owners), rec.RefCount)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deletes int
	)
	for i := 0; i < owners+3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deleted, err := f.store.Release(ctx, rec.ID, false)
			if err != nil {
				assert.ErrorIs(t, err, media.ErrNotFound, "late releases find the record gone")
				return
			}
			if deleted {
				mu.Lock()
				deletes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, deletes)
	assert.Equal(t, 0, f.main.Len())
	_, err := f.catalog.GetFile(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestReleaseDefersFailedDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.put(t, "a", []byte("sticky"))

	f.main.FailNext(storage.OpDelete, 1)
	deleted, err := f.store.Release(ctx, rec.ID, false)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, f.main.Len())
	assert.Equal(t, 1, f.metrics.releases[ReleaseDeferred])

	pending, err := f.catalog.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].FileID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "injected failure")

	res, err := f.store.RetryPendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, res.Removed)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, f.main.Len())

	pending, err = f.catalog.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPutAfterClaimUploadsFreshCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("reborn")
	first := f.put(t, "a", data)

	f.main.FailNext(storage.OpDelete, 1)
	_, err := f.store.Release(ctx, first.ID, false)
	require.NoError(t, err)

	second := f.put(t, "b", data)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.StoragePath, second.StoragePath)
	assert.Equal(t, int64(1), second.RefCount)

	_, err = f.store.RetryPendingDeletions(ctx)
	require.NoError(t, err)

	ok, err := f.main.Exists(ctx, second.StoragePath)
	require.NoError(t, err)
	assert.True(t, ok, "retrying the old deletion never touches the new copy")
}

func TestForceRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("forced")
	rec := f.put(t, "a", data)
	f.put(t, "b", data)

	f.main.FailNext(storage.OpDelete, 1)
	deleted, err := f.store.Release(ctx, rec.ID, true)
	assert.ErrorIs(t, err, media.ErrBackend)
	assert.False(t, deleted)
	got, err := f.catalog.GetFile(ctx, rec.ID)
	require.NoError(t, err, "the record stays until the bytes are confirmed gone")
	assert.Equal(t, int64(2), got.RefCount)

	deleted, err = f.store.Release(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, f.main.Len())
	_, err = f.catalog.GetFile(ctx, rec.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestSweepUnreferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept := f.put(t, "kept", []byte("kept"))
	var orphans []*media.FileRecord
	for _, name := range []string{"o1", "o2", "o3"} {
		rec := f.put(t, name, []byte(name))
		_, _, err := f.catalog.DecrementRef(ctx, rec.ID)
		require.NoError(t, err)
		orphans = append(orphans, rec)
	}
	require.Equal(t, 4, f.main.Len())

	res, err := f.store.SweepUnreferenced(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, f.main.Len())

	for _, rec := range orphans {
		_, err := f.catalog.GetFile(ctx, rec.ID)
		assert.ErrorIs(t, err, media.ErrNotFound)
	}
	_, err = f.catalog.GetFile(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestSweepReportsPerItemFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.put(t, "a", []byte("a"))
	b := f.put(t, "b", []byte("b"))
	for _, id := range []string{a.ID, b.ID} {
		_, _, err := f.catalog.DecrementRef(ctx, id)
		require.NoError(t, err)
	}

	f.main.FailNext(storage.OpDelete, 1)
	res, err := f.store.SweepUnreferenced(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 1)
	assert.Len(t, res.Failed, 1)
	assert.Equal(t, 1, f.main.Len())

	pending, err := f.catalog.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the failed item stays journaled")

	retry, err := f.store.RetryPendingDeletions(ctx)
	require.NoError(t, err)
	assert.Len(t, retry.Removed, 1)
	assert.Equal(t, 0, f.main.Len())
}

func TestURLAndDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("downloadable")
	rec := f.put(t, "doc.pdf", data)

	url, err := f.store.URL(ctx, rec.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, rec.URL, url)

	out := filepath.Join(f.dir, "out", "doc.pdf")
	got, err := f.store.Download(ctx, rec.ID, out)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, content)

	require.NoError(t, f.main.Delete(ctx, rec.StoragePath))
	_, err = f.store.Download(ctx, rec.ID, out)
	assert.ErrorIs(t, err, media.ErrConsistency)

	_, err = f.store.Download(ctx, "missing", out)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestRemoteKey(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 30, 0, 0, time.FixedZone("X", 3*3600))

	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{"extension kept lowercase", "", "Photo.JPG", "2026/10/18/id.jpg"},
		{"prefix", "media/", "a.png", "media/2026/10/18/id.png"},
		{"no extension", "", "README", "2026/10/18/id"},
		{"unsafe extension dropped", "", "x.p h p", "2026/10/18/id"},
		{"path hint", "", "/tmp/upload/clip.mp4", "2026/10/18/id.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoteKey(tt.prefix, now, "id", tt.file))
		})
	}
}
