package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/marmos91/dittomedia/pkg/storage/local"
	"github.com/marmos91/dittomedia/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg     *Registry
	catalog *catalogmemory.Catalog
	builds  atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{catalog: catalogmemory.New()}
	f.reg = New(f.catalog, Config{FallbackDir: t.TempDir(), FallbackURL: "/uploads"})
	require.NoError(t, f.reg.RegisterDriver(memory.DriverName, func(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
		f.builds.Add(1)
		bucket, _ := cfg.Options["bucket"].(string)
		return memory.New(memory.Config{Bucket: bucket, CDNDomain: cfg.CDNDomain}), nil
	}))
	t.Cleanup(func() { _ = f.reg.Close() })
	return f
}

func (f *fixture) put(t *testing.T, cfg *media.StorageConfig) {
	t.Helper()
	require.NoError(t, f.catalog.PutStorageConfig(context.Background(), cfg))
}

func TestResolveFallsBackToBuiltinLocal(t *testing.T) {
	f := newFixture(t)

	id, b, err := f.reg.Target(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, BuiltinLocalID, id)
	assert.Equal(t, local.DriverName, b.Driver())

	again, err := f.reg.Resolve(context.Background(), BuiltinLocalID)
	require.NoError(t, err)
	assert.Same(t, b, again)
}

func TestResolveUsesSystemDefault(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "main", Driver: memory.DriverName, IsDefault: true})

	id, b, err := f.reg.Target(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "main", id)
	assert.Equal(t, memory.DriverName, b.Driver())
}

func TestResolveCachesByID(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "a", Driver: memory.DriverName})
	ctx := context.Background()

	first, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	second, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.builds.Load())

	f.reg.Invalidate("a")
	third, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), f.builds.Load())
}

func TestInvalidateAll(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "a", Driver: memory.DriverName})
	f.put(t, &media.StorageConfig{ID: "b", Driver: memory.DriverName})
	ctx := context.Background()

	_, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	_, err = f.reg.Resolve(ctx, "b")
	require.NoError(t, err)

	f.reg.Invalidate("")
	_, err = f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	_, err = f.reg.Resolve(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.builds.Load())
}

func TestConcurrentResolveBuildsOnce(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "a", Driver: memory.DriverName})

	var wg sync.WaitGroup
	results := make([]storage.Backend, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.reg.Resolve(context.Background(), "a")
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.builds.Load())
	for _, b := range results {
		assert.Same(t, results[0], b)
	}
}

func bucketOf(t *testing.T, b storage.Backend) string {
	t.Helper()
	named, ok := storage.Innermost(b).(storage.BucketNamer)
	require.True(t, ok)
	return named.Bucket()
}

func TestInvalidateDuringBuildIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	require.NoError(t, f.reg.RegisterDriver("slow", func(ctx context.Context, cfg *media.StorageConfig) (storage.Backend, error) {
		f.builds.Add(1)
		once.Do(func() {
			close(entered)
			<-release
		})
		bucket, _ := cfg.Options["bucket"].(string)
		return memory.New(memory.Config{Bucket: bucket}), nil
	}))
	f.put(t, &media.StorageConfig{ID: "a", Driver: "slow", Options: map[string]any{"bucket": "old"}})

	type result struct {
		b   storage.Backend
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := f.reg.Resolve(ctx, "a")
		done <- result{b, err}
	}()

	<-entered
	f.put(t, &media.StorageConfig{ID: "a", Driver: "slow", Options: map[string]any{"bucket": "new"}})
	f.reg.Invalidate("a")
	close(release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "old", bucketOf(t, first.b), "the in-flight caller still gets its build")

	second, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", bucketOf(t, second))
	assert.Equal(t, int32(2), f.builds.Load())

	third, err := f.reg.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, second, third)
}

func TestResolveUnknownConfig(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestResolveUnknownDriver(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "ftp", Driver: "ftp"})

	_, err := f.reg.Resolve(context.Background(), "ftp")
	assert.ErrorIs(t, err, media.ErrValidation)
}

func TestResolveForTenant(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "sys", Driver: memory.DriverName, IsDefault: true,
		Options: map[string]any{"bucket": "system"}})
	f.put(t, &media.StorageConfig{ID: "t1", Driver: memory.DriverName, IsDefault: true, TenantID: "tenant-1",
		Options: map[string]any{"bucket": "tenant"}})
	ctx := context.Background()

	b, err := f.reg.ResolveForTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant", storage.Innermost(b).(storage.BucketNamer).Bucket())

	b, err = f.reg.ResolveForTenant(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, "system", storage.Innermost(b).(storage.BucketNamer).Bucket())

	id, _, err := f.reg.Target(ctx, "sys", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "sys", id, "an explicit config wins over the tenant default")
}

func TestResolvedBackendsAreDecorated(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "limited", Driver: memory.DriverName,
		RateLimit: media.RateLimit{RequestsPerSecond: 1000, Burst: 10}})

	b, err := f.reg.Resolve(context.Background(), "limited")
	require.NoError(t, err)

	_, isMemory := b.(*memory.Store)
	assert.False(t, isMemory)
	_, isMemory = storage.Innermost(b).(*memory.Store)
	assert.True(t, isMemory)
}

func TestRegisterDriverRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.reg.RegisterDriver("", nil), media.ErrValidation)
	assert.ErrorIs(t, f.reg.RegisterDriver("x", nil), media.ErrValidation)
	assert.ErrorIs(t, f.reg.RegisterDriver(memory.DriverName, func(context.Context, *media.StorageConfig) (storage.Backend, error) {
		return nil, nil
	}), media.ErrConflict)
	assert.Equal(t, []string{memory.DriverName}, f.reg.Drivers())
}

func TestFactoryReturningNilIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.RegisterDriver("broken", func(context.Context, *media.StorageConfig) (storage.Backend, error) {
		return nil, nil
	}))
	f.put(t, &media.StorageConfig{ID: "b", Driver: "broken"})

	_, err := f.reg.Resolve(context.Background(), "b")
	assert.ErrorIs(t, err, media.ErrValidation)
}

func TestValidateConfigs(t *testing.T) {
	f := newFixture(t)
	f.put(t, &media.StorageConfig{ID: "ok", Driver: memory.DriverName})
	require.NoError(t, f.reg.ValidateConfigs(context.Background()))

	f.put(t, &media.StorageConfig{ID: "bad", Driver: "gcs"})
	err := f.reg.ValidateConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestConnection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.RegisterDriver("unreachable", func(context.Context, *media.StorageConfig) (storage.Backend, error) {
		return nil, media.BackendError("unreachable", "connect", "", errors.New("dial tcp: connection refused"))
	}))
	ctx := context.Background()

	ok := f.reg.TestConnection(ctx, memory.DriverName, map[string]any{"bucket": "probe"})
	assert.True(t, ok.Success)
	assert.Equal(t, memory.DriverName, ok.Provider)
	assert.Equal(t, "probe", ok.Bucket)

	bad := f.reg.TestConnection(ctx, "unreachable", nil)
	assert.False(t, bad.Success)
	assert.Contains(t, bad.Message, "connection refused")

	unknown := f.reg.TestConnection(ctx, "nope", nil)
	assert.False(t, unknown.Success)

	_, err := f.reg.Resolve(ctx, "connection-test")
	assert.ErrorIs(t, err, media.ErrNotFound, "test instances are never cached or persisted")
	assert.Equal(t, int32(1), f.builds.Load())
}
