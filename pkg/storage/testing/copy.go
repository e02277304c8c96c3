package testing

import (
	"testing"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCopyMoveTests executes Copy and Move tests.
func (suite *BackendTestSuite) RunCopyMoveTests(t *testing.T) {
	t.Run("Copy_Success", suite.testCopySuccess)
	t.Run("Copy_MissingSource", suite.testCopyMissingSource)
	t.Run("Move_Success", suite.testMoveSuccess)
	t.Run("Move_MissingSource", suite.testMoveMissingSource)
}

func (suite *BackendTestSuite) testCopySuccess(t *testing.T) {
	b := suite.NewBackend(t)
	src, dst := generateTestKey("copy-src"), generateTestKey("copy-dst")
	data := generateTestData(4096)

	mustUpload(t, b, src, data)
	require.NoError(t, b.Copy(testContext(), src, dst))

	assert.Equal(t, data, mustDownload(t, b, src))
	assert.Equal(t, data, mustDownload(t, b, dst))
}

func (suite *BackendTestSuite) testCopyMissingSource(t *testing.T) {
	b := suite.NewBackend(t)
	dst := generateTestKey("copy-dst")

	err := b.Copy(testContext(), generateTestKey("copy-missing"), dst)
	assert.ErrorIs(t, err, media.ErrNotFound)
	assertExists(t, b, dst, false)
}

func (suite *BackendTestSuite) testMoveSuccess(t *testing.T) {
	b := suite.NewBackend(t)
	src, dst := generateTestKey("move-src"), generateTestKey("moved/dst")
	data := []byte("moving bytes")

	mustUpload(t, b, src, data)
	require.NoError(t, b.Move(testContext(), src, dst))

	assertExists(t, b, src, false)
	assert.Equal(t, data, mustDownload(t, b, dst))
}

func (suite *BackendTestSuite) testMoveMissingSource(t *testing.T) {
	b := suite.NewBackend(t)
	dst := generateTestKey("move-dst")

	err := b.Move(testContext(), generateTestKey("move-missing"), dst)
	assert.ErrorIs(t, err, media.ErrNotFound)
	assertExists(t, b, dst, false)
}
