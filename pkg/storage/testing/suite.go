package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittomedia/pkg/storage"
)

// BackendTestSuite is a conformance suite for storage.Backend implementations.
// It tests the interface contract, not implementation details, so the same
// suite runs against the local, memory and cloud drivers.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &storagetesting.BackendTestSuite{
//	        NewBackend: func(t *testing.T) storage.Backend {
//	            return mybackend.New(...)
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a backend for one test. Backends may share state
	// (a cloud bucket); the suite uses unique keys per test.
	NewBackend func(t *testing.T) storage.Backend

	// SignsURLs is true for drivers that return different URLs when an
	// expiry is requested.
	SignsURLs bool
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("Basic", suite.RunBasicTests)
	t.Run("BatchDelete", suite.RunBatchDeleteTests)
	t.Run("Metadata", suite.RunMetadataTests)
	t.Run("CopyMove", suite.RunCopyMoveTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
