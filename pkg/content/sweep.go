package content

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// SweepResult is the per-item outcome of a sweep. Sweeps never stop at the
// first failure.
type SweepResult struct {
	// Removed lists file ids whose bytes were deleted
	Removed []string

	// Failed maps file ids to the reason they could not be removed
	Failed map[string]error

	StartTime time.Time
	EndTime   time.Time
}

func newSweepResult() *SweepResult {
	return &SweepResult{Failed: make(map[string]error), StartTime: time.Now()}
}

// Duration returns the wall time of the sweep.
func (r *SweepResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Summary returns a one line description for logs.
func (r *SweepResult) Summary() string {
	return fmt.Sprintf("removed=%d failed=%d duration=%s", len(r.Removed), len(r.Failed), r.Duration())
}

// SweepUnreferenced deletes every record whose reference count is zero
// together with its bytes. Such records only exist when a counter was
// zeroed without going through Release (or Release was interrupted).
//
// Each record is claimed before its bytes are touched, so a record that is
// referenced again while the sweep runs is left alone.
func (s *Store) SweepUnreferenced(ctx context.Context) (*SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := newSweepResult()

	for {
		recs, err := s.catalog.ListUnreferenced(ctx, s.batchSize)
		if err != nil {
			result.EndTime = time.Now()
			return result, fmt.Errorf("list unreferenced files: %w", err)
		}
		if len(recs) == 0 {
			break
		}

		var claimed []*media.PendingDeletion
		for _, rec := range recs {
			pd, err := s.catalog.ClaimUnreferenced(ctx, rec.ID)
			if media.IsConflict(err) || media.IsNotFound(err) {
				continue
			}
			if err != nil {
				logger.Warn("content: sweep could not claim %s: %v", rec.ID, err)
				result.Failed[rec.ID] = err
				continue
			}
			claimed = append(claimed, pd)
		}

		s.deleteBatch(ctx, claimed, result)

		// Rows that could not be claimed stay listed; stop instead of
		// spinning on them.
		if len(claimed) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			result.EndTime = time.Now()
			return result, err
		}
	}

	result.EndTime = time.Now()
	s.metrics.RecordSweep(SweepUnreferenced, len(result.Removed), len(result.Failed))
	if len(result.Removed)+len(result.Failed) > 0 {
		logger.Info("content: unreferenced sweep %s", result.Summary())
	}
	return result, nil
}

// RetryPendingDeletions retries up to one batch of journaled deletions,
// oldest first.
func (s *Store) RetryPendingDeletions(ctx context.Context) (*SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := newSweepResult()

	pending, err := s.catalog.ListPendingDeletions(ctx, s.batchSize)
	if err != nil {
		result.EndTime = time.Now()
		return result, fmt.Errorf("list pending deletions: %w", err)
	}

	s.deleteBatch(ctx, pending, result)

	result.EndTime = time.Now()
	s.metrics.RecordSweep(SweepPending, len(result.Removed), len(result.Failed))
	if len(result.Removed)+len(result.Failed) > 0 {
		logger.Info("content: pending deletion retry %s", result.Summary())
	}
	return result, nil
}

// deleteBatch deletes journaled bytes grouped by owning backend with one
// BatchDelete per backend, resolving the journal entries that succeeded
// and recording an attempt on the others.
func (s *Store) deleteBatch(ctx context.Context, pending []*media.PendingDeletion, result *SweepResult) {
	byBackend := make(map[string][]*media.PendingDeletion)
	for _, pd := range pending {
		byBackend[pd.StorageBackendID] = append(byBackend[pd.StorageBackendID], pd)
	}

	for backendID, group := range byBackend {
		backend, err := s.backends.Resolve(ctx, backendID)
		if err != nil {
			for _, pd := range group {
				s.failPending(ctx, pd, fmt.Errorf("resolve backend %q: %w", backendID, err), result)
			}
			continue
		}

		byKey := make(map[string][]*media.PendingDeletion, len(group))
		keys := make([]string, 0, len(group))
		for _, pd := range group {
			if _, seen := byKey[pd.StoragePath]; !seen {
				keys = append(keys, pd.StoragePath)
			}
			byKey[pd.StoragePath] = append(byKey[pd.StoragePath], pd)
		}

		res, err := backend.BatchDelete(ctx, keys)
		if err != nil {
			for _, pd := range group {
				s.failPending(ctx, pd, asBackendError(backend, storage.OpBatchDelete, pd.StoragePath, err), result)
			}
			continue
		}

		for _, key := range res.Succeeded {
			for _, pd := range byKey[key] {
				if err := s.catalog.ResolvePendingDeletion(context.WithoutCancel(ctx), pd.FileID); err != nil {
					result.Failed[pd.FileID] = err
					continue
				}
				result.Removed = append(result.Removed, pd.FileID)
			}
		}
		for key, keyErr := range res.Failed {
			for _, pd := range byKey[key] {
				s.failPending(ctx, pd, keyErr, result)
			}
		}
	}
}

func (s *Store) failPending(ctx context.Context, pd *media.PendingDeletion, err error, result *SweepResult) {
	logger.Warn("content: failed to delete %s (file %s, attempt %d): %v", pd.StoragePath, pd.FileID, pd.Attempts+1, err)
	result.Failed[pd.FileID] = err
	if recErr := s.catalog.RecordDeletionAttempt(context.WithoutCancel(ctx), pd.FileID, err.Error()); recErr != nil {
		logger.Warn("content: failed to record deletion attempt for %s: %v", pd.FileID, recErr)
	}
}
