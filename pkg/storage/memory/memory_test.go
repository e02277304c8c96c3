package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	storagetesting "github.com/marmos91/dittomedia/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &storagetesting.BackendTestSuite{
		NewBackend: func(t *testing.T) storage.Backend {
			return New(Config{})
		},
	}
	suite.Run(t)
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	s := New(Config{Bucket: "faults"})

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	s.FailNext(storage.OpUpload, 1)
	_, err := s.Upload(ctx, src, "k", storage.UploadOptions{})
	assert.ErrorIs(t, err, media.ErrBackend)
	assert.Equal(t, 0, s.Len())

	_, err = s.Upload(ctx, src, "k", storage.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s.FailNext(storage.OpDelete, 1)
	res, err := s.BatchDelete(ctx, []string{"k", "other"})
	require.NoError(t, err)
	assert.Contains(t, res.Failed, "k")
	assert.Equal(t, []string{"other"}, res.Succeeded)
}

func TestURLPrefersCDN(t *testing.T) {
	ctx := context.Background()

	plain := New(Config{Bucket: "media"})
	u, err := plain.URL(ctx, "2026/01/a b.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://media/2026/01/a%20b.png", u)

	cdn := New(Config{Bucket: "media", CDNDomain: "cdn.example.com"})
	u, err = cdn.URL(ctx, "x.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.png", u)
	assert.Equal(t, "media", cdn.Bucket())
}
