// Package testing provides a conformance suite every catalog.Catalog
// implementation must pass.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

// CatalogTestSuite runs the conformance tests against one implementation.
//
// Usage:
//
//	suite := &testing.CatalogTestSuite{
//	    NewCatalog: func(t *testing.T) catalog.Catalog {
//	        return memory.New()
//	    },
//	}
//	suite.Run(t)
type CatalogTestSuite struct {
	// NewCatalog returns a fresh, empty catalog. The suite closes it.
	NewCatalog func(t *testing.T) catalog.Catalog
}

// Run executes every conformance test as a subtest.
func (suite *CatalogTestSuite) Run(t *testing.T) {
	t.Run("Files", suite.RunFileTests)
	t.Run("RefCounting", suite.RunRefCountTests)
	t.Run("PendingDeletions", suite.RunPendingDeletionTests)
	t.Run("Sessions", suite.RunSessionTests)
	t.Run("Chunks", suite.RunChunkTests)
	t.Run("Configs", suite.RunConfigTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

func (suite *CatalogTestSuite) newCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	c := suite.NewCatalog(t)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newFile builds a record with a unique id and hash.
func newFile(refCount int64) *media.FileRecord {
	id := uuid.NewString()
	w, h := 640, 480
	return &media.FileRecord{
		ID:           id,
		ContentHash:  "hash-" + id,
		StoragePath:  "2026/10/18/" + id + ".png",
		URL:          "/uploads/2026/10/18/" + id + ".png",
		OriginalName: "photo.png",
		SizeBytes:    1234,
		MimeType:     "image/png",
		Kind:         media.KindImage,
		Width:        &w,
		Height:       &h,
		RefCount:     refCount,
	}
}

func newSession(expiresAt time.Time) *media.ChunkUploadSession {
	id := uuid.NewString()
	return &media.ChunkUploadSession{
		ID:            id,
		FileName:      "video.mp4",
		DeclaredSize:  10_000_000,
		ChunkSize:     2_000_000,
		TotalChunks:   5,
		Status:        media.SessionUploading,
		TempDirectory: "/tmp/uploads/" + id,
		ExpiresAt:     expiresAt,
	}
}

func newChunk(sessionID string, index int, hash string) *media.ChunkRecord {
	return &media.ChunkRecord{
		SessionID:  sessionID,
		Index:      index,
		SizeBytes:  2_000_000,
		Hash:       hash,
		StoredPath: "chunk",
		Status:     media.ChunkUploaded,
	}
}
