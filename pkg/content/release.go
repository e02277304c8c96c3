package content

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// Release drops one reference to fileID.
//
// Without force, only the reference count is guaranteed to change. When it
// reaches zero the record is claimed and its bytes deleted; if that deletion
// fails the bytes stay journaled for RetryPendingDeletions and Release still
// succeeds. Releasing a record already at zero is a no-op.
//
// With force, the bytes are deleted first regardless of the count and the
// record is removed only once the backend confirmed the deletion. A failed
// deletion returns a media.ErrBackend error and leaves the record intact.
//
// Returns:
//   - bool: True when the bytes were physically deleted by this call
//   - error: media.ErrNotFound for an unknown id, or the failure
func (s *Store) Release(ctx context.Context, fileID string, force bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if force {
		return s.forceRelease(ctx, fileID)
	}

	remaining, changed, err := s.catalog.DecrementRef(ctx, fileID)
	if err != nil {
		return false, err
	}
	if !changed {
		s.metrics.RecordRelease(ReleaseNoop)
		return false, nil
	}
	if remaining > 0 {
		s.metrics.RecordRelease(ReleaseDecremented)
		return false, nil
	}

	pd, err := s.catalog.ClaimUnreferenced(ctx, fileID)
	if media.IsConflict(err) || media.IsNotFound(err) {
		// Referenced again by a concurrent Put, or claimed by a sweep.
		s.metrics.RecordRelease(ReleaseDecremented)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", fileID, err)
	}

	if err := s.deletePending(ctx, pd); err != nil {
		logger.Warn("content: deletion of %s deferred: %v", pd.StoragePath, err)
		s.metrics.RecordRelease(ReleaseDeferred)
		return false, nil
	}

	s.metrics.RecordRelease(ReleaseDeleted)
	return true, nil
}

func (s *Store) forceRelease(ctx context.Context, fileID string) (bool, error) {
	rec, err := s.catalog.GetFile(ctx, fileID)
	if err != nil {
		return false, err
	}

	backend, err := s.backends.Resolve(ctx, rec.StorageBackendID)
	if err != nil {
		return false, fmt.Errorf("resolve backend of %s: %w", fileID, err)
	}
	if err := backend.Delete(ctx, rec.StoragePath); err != nil {
		return false, asBackendError(backend, storage.OpDelete, rec.StoragePath, err)
	}

	if err := s.catalog.DeleteFile(ctx, fileID); err != nil && !media.IsNotFound(err) {
		return true, fmt.Errorf("bytes of %s deleted but record removal failed: %w", fileID, err)
	}

	logger.Info("content: force released %s (%s, had %d refs)", fileID, rec.StoragePath, rec.RefCount)
	s.metrics.RecordRelease(ReleaseForced)
	return true, nil
}

// deletePending deletes the bytes of a journal entry and resolves it. On
// failure the attempt is recorded and the entry kept.
func (s *Store) deletePending(ctx context.Context, pd *media.PendingDeletion) error {
	backend, err := s.backends.Resolve(ctx, pd.StorageBackendID)
	if err == nil {
		err = backend.Delete(ctx, pd.StoragePath)
		if err != nil {
			err = asBackendError(backend, storage.OpDelete, pd.StoragePath, err)
		}
	}
	if err != nil {
		if recErr := s.catalog.RecordDeletionAttempt(context.WithoutCancel(ctx), pd.FileID, err.Error()); recErr != nil {
			logger.Warn("content: failed to record deletion attempt for %s: %v", pd.FileID, recErr)
		}
		return err
	}

	if err := s.catalog.ResolvePendingDeletion(context.WithoutCancel(ctx), pd.FileID); err != nil {
		return fmt.Errorf("resolve pending deletion %s: %w", pd.FileID, err)
	}
	return nil
}

// asBackendError makes sure a backend failure carries media.ErrBackend.
func asBackendError(b storage.Backend, op, key string, err error) error {
	if media.CodeOf(err) != 0 {
		return err
	}
	return media.BackendError(b.Driver(), op, key, err)
}
