package testing

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMetadataTests executes Metadata, List and URL tests.
func (suite *BackendTestSuite) RunMetadataTests(t *testing.T) {
	t.Run("Metadata_Success", suite.testMetadataSuccess)
	t.Run("Metadata_NotFound", suite.testMetadataNotFound)
	t.Run("List_Prefix", suite.testListPrefix)
	t.Run("List_Limit", suite.testListLimit)
	t.Run("URL", suite.testURL)
}

func (suite *BackendTestSuite) testMetadataSuccess(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("meta.txt")
	before := time.Now().Add(-time.Minute)

	_, err := b.Upload(testContext(), writeTempFile(t, []byte("metadata body")), key,
		storage.UploadOptions{ContentType: "text/plain"})
	require.NoError(t, err)

	info, err := b.Metadata(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, key, info.Path)
	assert.Equal(t, int64(len("metadata body")), info.SizeBytes)
	assert.True(t, strings.HasPrefix(info.MimeType, "text/plain"), "mime %q", info.MimeType)
	assert.True(t, info.ModifiedAt.After(before), "modified at %v", info.ModifiedAt)
}

func (suite *BackendTestSuite) testMetadataNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	_, err := b.Metadata(testContext(), generateTestKey("ghost"))
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *BackendTestSuite) testListPrefix(t *testing.T) {
	b := suite.NewBackend(t)
	base := generateTestKey("list")

	want := []string{base + "/a.bin", base + "/b.bin", base + "/sub/c.bin"}
	for _, k := range want {
		mustUpload(t, b, k, []byte(k))
	}
	mustUpload(t, b, base+"-sibling/x.bin", []byte("x"))

	got, err := b.List(testContext(), base+"/", 0)
	require.NoError(t, err)

	paths := make([]string, 0, len(got))
	for _, o := range got {
		paths = append(paths, o.Path)
		assert.Equal(t, int64(len(o.Path)), o.SizeBytes)
	}
	assert.Equal(t, want, paths)
}

func (suite *BackendTestSuite) testListLimit(t *testing.T) {
	b := suite.NewBackend(t)
	base := generateTestKey("limit")

	for _, name := range []string{"1", "2", "3", "4"} {
		mustUpload(t, b, base+"/"+name, []byte(name))
	}

	got, err := b.List(testContext(), base+"/", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func (suite *BackendTestSuite) testURL(t *testing.T) {
	b := suite.NewBackend(t)
	key := generateTestKey("url.png")
	mustUpload(t, b, key, []byte("png-ish"))

	static, err := b.URL(testContext(), key, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, static)

	signed, err := b.URL(testContext(), key, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)

	if !suite.SignsURLs {
		assert.Equal(t, static, signed, "drivers without signing return the static URL")
	}
}
