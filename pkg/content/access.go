package content

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
)

// Get returns the record of fileID.
func (s *Store) Get(ctx context.Context, fileID string) (*media.FileRecord, error) {
	return s.catalog.GetFile(ctx, fileID)
}

// URL returns a URL for the bytes of fileID from their owning backend.
// expires > 0 requests a signed URL where the backend supports it.
func (s *Store) URL(ctx context.Context, fileID string, expires time.Duration) (string, error) {
	rec, err := s.catalog.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	backend, err := s.backends.Resolve(ctx, rec.StorageBackendID)
	if err != nil {
		return "", fmt.Errorf("resolve backend of %s: %w", fileID, err)
	}
	return backend.URL(ctx, rec.StoragePath, expires)
}

// Download materializes the bytes of fileID at localPath.
//
// A record whose bytes are missing from its backend is reported as a
// media.ErrConsistency fault, distinct from an unknown id (media.ErrNotFound).
func (s *Store) Download(ctx context.Context, fileID, localPath string) (*media.FileRecord, error) {
	rec, err := s.catalog.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	backend, err := s.backends.Resolve(ctx, rec.StorageBackendID)
	if err != nil {
		return nil, fmt.Errorf("resolve backend of %s: %w", fileID, err)
	}

	found, err := backend.Download(ctx, rec.StoragePath, localPath)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, media.ConsistencyFault("catalog record has no bytes in its backend", rec.StoragePath, nil)
	}
	return rec, nil
}
