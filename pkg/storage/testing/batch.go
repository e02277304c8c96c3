package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBatchDeleteTests executes BatchDelete tests.
func (suite *BackendTestSuite) RunBatchDeleteTests(t *testing.T) {
	t.Run("PartitionsPerKey", suite.testBatchDeletePartitions)
	t.Run("MissingKeysSucceed", suite.testBatchDeleteMissing)
	t.Run("Empty", suite.testBatchDeleteEmpty)
}

func (suite *BackendTestSuite) testBatchDeletePartitions(t *testing.T) {
	b := suite.NewBackend(t)

	keys := []string{generateTestKey("b1"), generateTestKey("b2"), generateTestKey("b3")}
	for _, k := range keys {
		mustUpload(t, b, k, []byte(k))
	}
	invalid := "../escape"

	res, err := b.BatchDelete(testContext(), append(append([]string{}, keys...), invalid))
	require.NoError(t, err)

	assert.ElementsMatch(t, keys, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed, invalid)

	for _, k := range keys {
		assertExists(t, b, k, false)
	}
}

func (suite *BackendTestSuite) testBatchDeleteMissing(t *testing.T) {
	b := suite.NewBackend(t)
	keys := []string{generateTestKey("m1"), generateTestKey("m2")}

	res, err := b.BatchDelete(testContext(), keys)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, res.Succeeded)
	assert.Empty(t, res.Failed)
}

func (suite *BackendTestSuite) testBatchDeleteEmpty(t *testing.T) {
	b := suite.NewBackend(t)

	res, err := b.BatchDelete(testContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
}
