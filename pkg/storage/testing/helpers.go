package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}

// generateTestKey returns a key unique to this run, under a per-test prefix.
func generateTestKey(name string) string {
	return "conformance/" + uuid.NewString() + "/" + name
}

// writeTempFile writes data to a fresh local file and returns its path.
func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src-"+uuid.NewString())
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// mustUpload uploads data under key and fails the test if it errors.
func mustUpload(t *testing.T, b storage.Backend, key string, data []byte) *storage.UploadResult {
	t.Helper()
	res, err := b.Upload(testContext(), writeTempFile(t, data), key, storage.UploadOptions{})
	require.NoError(t, err, "Upload should succeed")
	require.NotNil(t, res)
	return res
}

// mustDownload downloads key and returns its bytes.
func mustDownload(t *testing.T, b storage.Backend, key string) []byte {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "nested", "dir", "out.bin")
	found, err := b.Download(testContext(), key, dst)
	require.NoError(t, err, "Download should succeed")
	require.True(t, found, "Download should find %s", key)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	return data
}

// assertExists checks the existence of key.
func assertExists(t *testing.T, b storage.Backend, key string, expected bool) {
	t.Helper()
	exists, err := b.Exists(testContext(), key)
	require.NoError(t, err, "Exists should not error")
	assert.Equal(t, expected, exists, "existence mismatch for %s", key)
}
