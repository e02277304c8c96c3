package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes upload/download/exists/delete tests.
func (suite *BackendTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Upload_ThenExists", suite.testUploadThenExists)
	t.Run("Upload_ThenDownload", suite.testUploadThenDownload)
	t.Run("Upload_Overwrites", suite.testUploadOverwrites)
	t.Run("Upload_Empty", suite.testUploadEmpty)
	t.Run("Upload_Large", suite.testUploadLarge)
	t.Run("Upload_MissingSource", suite.testUploadMissingSource)
	t.Run("Upload_InvalidKey", suite.testUploadInvalidKey)
	t.Run("Download_NotFound", suite.testDownloadNotFound)
	t.Run("Delete_ThenExists", suite.testDeleteThenExists)
	t.Run("Delete_NeverExisted", suite.testDeleteNeverExisted)
	t.Run("Exists_NotFound", suite.testExistsNotFound)
}

// ============================================================================
// Upload / Download
// ============================================================================

func (suite *BackendTestSuite) testUploadThenExists(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("exists.bin")

	res := mustUpload(t, b, key, []byte("Hello, World!"))
	assert.Equal(t, key, res.Path)
	assert.Equal(t, int64(13), res.SizeBytes)
	assert.NotEmpty(t, res.URL)

	assertExists(t, b, key, true)
}

func (suite *BackendTestSuite) testUploadThenDownload(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("roundtrip.bin")
	data := generateTestData(64 * 1024)

	mustUpload(t, b, key, data)
	assert.Equal(t, data, mustDownload(t, b, key))
}

func (suite *BackendTestSuite) testUploadOverwrites(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("overwrite.txt")

	mustUpload(t, b, key, []byte("first version, longer"))
	mustUpload(t, b, key, []byte("second"))

	assert.Equal(t, []byte("second"), mustDownload(t, b, key))
}

func (suite *BackendTestSuite) testUploadEmpty(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("empty")

	res := mustUpload(t, b, key, []byte{})
	assert.Equal(t, int64(0), res.SizeBytes)
	assert.Empty(t, mustDownload(t, b, key))
}

func (suite *BackendTestSuite) testUploadLarge(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("large.bin")
	data := generateTestData(3*1024*1024 + 17)

	res := mustUpload(t, b, key, data)
	assert.Equal(t, int64(len(data)), res.SizeBytes)
	assert.Equal(t, data, mustDownload(t, b, key))
}

func (suite *BackendTestSuite) testUploadMissingSource(t *testing.T) {
	b := suite.NewBackend(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := b.Upload(testContext(), missing, generateTestKey("x"), storage.UploadOptions{})
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *BackendTestSuite) testUploadInvalidKey(t *testing.T) {
	b := suite.NewBackend(t)
	src := writeTempFile(t, []byte("data"))

	for _, key := range []string{"", "/abs", "a/../../escape"} {
		_, err := b.Upload(testContext(), src, key, storage.UploadOptions{})
		assert.ErrorIs(t, err, media.ErrValidation, "key %q", key)
	}
}

func (suite *BackendTestSuite) testDownloadNotFound(t *testing.T) {
	b := suite.NewBackend(t)
	dst := filepath.Join(t.TempDir(), "out.bin")

	found, err := b.Download(testContext(), generateTestKey("missing"), dst)
	require.NoError(t, err)
	assert.False(t, found)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "no file should be created for a missing object")
}

// ============================================================================
// Delete / Exists
// ============================================================================

func (suite *BackendTestSuite) testDeleteThenExists(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("delete.bin")

	mustUpload(t, b, key, []byte("bye"))
	require.NoError(t, b.Delete(testContext(), key))
	assertExists(t, b, key, false)
}

func (suite *BackendTestSuite) testDeleteNeverExisted(t *testing.T) {
	b := suite.NewBackend(t)
	assert.NoError(t, b.Delete(testContext(), generateTestKey("never")))
}

func (suite *BackendTestSuite) testExistsNotFound(t *testing.T) {
	b := suite.NewBackend(t)
	assertExists(t, b, generateTestKey("nope"), false)
}
