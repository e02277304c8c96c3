package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRuntimeConfig returns a config backed entirely by memory and temp dirs.
func testRuntimeConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Catalog.Type = "memory"
	cfg.Storage.FallbackDir = filepath.Join(t.TempDir(), "fallback")
	cfg.Storage.Backends = []BackendConfig{
		{ID: "mem", Name: "Memory", Driver: "memory", Default: true, Options: map[string]any{}},
	}
	cfg.Uploads.TempDir = filepath.Join(t.TempDir(), "chunks")
	cfg.Uploads.DefaultChunkSize = 4
	cfg.GC.Enabled = false
	return cfg
}

func TestBuild_PutAndRelease(t *testing.T) {
	ctx := context.Background()

	rt, err := Build(ctx, testRuntimeConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	src := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello runtime"), 0o644))

	first, err := rt.Content.Put(ctx, src, content.PutOptions{OriginalName: "hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "mem", first.StorageBackendID)
	assert.EqualValues(t, 1, first.RefCount)

	second, err := rt.Content.Put(ctx, src, content.PutOptions{OriginalName: "copy.txt"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "identical bytes are deduplicated")
	assert.EqualValues(t, 2, second.RefCount)

	deleted, err := rt.Content.Release(ctx, first.ID, false)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = rt.Content.Release(ctx, first.ID, false)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = rt.Content.Get(ctx, first.ID)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestBuild_ChunkedUpload(t *testing.T) {
	ctx := context.Background()

	rt, err := Build(ctx, testRuntimeConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	data := []byte("0123456789")
	sess, err := rt.Uploads.InitSession(ctx, upload.InitOptions{FileName: "digits.txt", DeclaredSize: int64(len(data))})
	require.NoError(t, err)
	require.Equal(t, 3, sess.TotalChunks)

	// Chunks may arrive in any order
	for _, index := range []int{2, 0, 1} {
		start := index * 4
		end := min(start+4, len(data))
		_, err := rt.Uploads.PutChunk(ctx, sess.ID, index, bytes.NewReader(data[start:end]), "")
		require.NoError(t, err)
	}

	rec, err := rt.Uploads.Merge(ctx, sess.ID, upload.MergeOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, len(data), rec.SizeBytes)

	out := filepath.Join(t.TempDir(), "out.txt")
	_, err = rt.Content.Download(ctx, rec.ID, out)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBuild_InvalidCatalog(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.Catalog.Type = "mysql"

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestStartMaintenance_Disabled(t *testing.T) {
	rt, err := Build(context.Background(), testRuntimeConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	stop, err := rt.StartMaintenance()
	require.NoError(t, err)
	assert.NoError(t, stop(context.Background()))
}

func TestStartMaintenance_Ticker(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.GC.Enabled = true
	cfg.GC.Scheduler = "ticker"

	rt, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer rt.Close()

	stop, err := rt.StartMaintenance()
	require.NoError(t, err)
	assert.NoError(t, stop(context.Background()))
}

func TestRuntime_SweepNow(t *testing.T) {
	rt, err := Build(context.Background(), testRuntimeConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	stats, err := rt.Collector.RunNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
}
