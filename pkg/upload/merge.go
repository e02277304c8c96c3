package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// mergeBufferSize bounds the memory used to concatenate chunks.
const mergeBufferSize = 1 << 20

// assembledName is the file chunks are concatenated into.
const assembledName = "assembled"

// MergeOptions overrides the routing hints recorded on the session.
type MergeOptions struct {
	TargetBackendID string
	TenantID        string
	MimeType        string
	ACL             storage.ACL
}

// Merge reassembles a complete upload and stores it through the content
// store.
//
// The session must have a record for every chunk index. It moves to
// merging (from uploading, or from failed when retrying), so a concurrent
// second Merge fails with media.ErrConflict instead of processing the same
// chunks twice. Chunks are streamed in index order into one file whose size
// must equal the declared size.
//
// On success the session is completed, linked to the returned record and
// its temp directory removed. On failure the session is marked failed with
// the error message and its temp files are kept.
//
// Returns:
//   - *media.FileRecord: The stored (possibly deduplicated) record
//   - error: media.ErrValidation for an incomplete upload or a size
//     mismatch, media.ErrConsistency for chunk files missing on disk,
//     media.ErrConflict when the session is merging or completed
func (c *Coordinator) Merge(ctx context.Context, uploadID string, opts MergeOptions) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	sess, err := c.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case media.SessionCompleted:
		return nil, media.Conflictf(uploadID, "upload already completed as file %s", sess.FileID)
	case media.SessionMerging:
		return nil, media.Conflict("merge already in progress", uploadID)
	}

	// ========================================================================
	// Step 1: Every index must be present
	// ========================================================================

	chunks, err := c.sessions.ListChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if missing := missingChunks(sess, chunks); len(missing) > 0 {
		return nil, media.Validationf(uploadID, "upload incomplete: %d of %d chunks missing (first missing index %d)",
			len(missing), sess.TotalChunks, missing[0])
	}

	// ========================================================================
	// Step 2: Claim the merge
	// ========================================================================

	sess, err = c.sessions.TransitionSession(ctx, uploadID, media.SessionMerging, media.SessionUploading, media.SessionFailed)
	if err != nil {
		return nil, err
	}
	logger.Info("upload: merging %s (%q, %d chunks, %d bytes)", uploadID, sess.FileName, sess.TotalChunks, sess.DeclaredSize)

	// ========================================================================
	// Step 3: Assemble and store
	// ========================================================================

	rec, err := c.assembleAndStore(ctx, sess, chunks, opts)
	if err != nil {
		if failErr := c.sessions.FailSession(context.WithoutCancel(ctx), uploadID, err.Error()); failErr != nil {
			logger.Error("upload: failed to mark %s failed: %v", uploadID, failErr)
		}
		c.metrics.ObserveMerge(MergeFailed, time.Since(start))
		logger.Warn("upload: merge of %s failed, temp files kept in %s: %v", uploadID, sess.TempDirectory, err)
		return nil, err
	}

	// ========================================================================
	// Step 4: Complete and clean up
	// ========================================================================

	if err := c.sessions.CompleteSession(context.WithoutCancel(ctx), uploadID, rec.ID); err != nil {
		c.metrics.ObserveMerge(MergeFailed, time.Since(start))
		logger.Error("upload: %s stored as file %s but the session could not be completed: %v", uploadID, rec.ID, err)
		return nil, fmt.Errorf("complete upload session %s: %w", uploadID, err)
	}
	if err := c.removeSessionDir(sess); err != nil {
		logger.Warn("upload: failed to remove temp files of %s: %v", uploadID, err)
	}

	c.metrics.ObserveMerge(MergeCompleted, time.Since(start))
	logger.Info("upload: %s completed as file %s (refs=%d)", uploadID, rec.ID, rec.RefCount)
	return rec, nil
}

func (c *Coordinator) assembleAndStore(ctx context.Context, sess *media.ChunkUploadSession, chunks []*media.ChunkRecord, opts MergeOptions) (*media.FileRecord, error) {
	dir, err := c.sessionDir(sess)
	if err != nil {
		return nil, err
	}

	assembled, err := assemble(ctx, sess, chunks, filepath.Join(dir, assembledName))
	if err != nil {
		return nil, err
	}

	return c.content.Put(ctx, assembled, content.PutOptions{
		TargetBackendID: firstNonEmpty(opts.TargetBackendID, sess.TargetBackendID),
		TenantID:        firstNonEmpty(opts.TenantID, sess.TenantID),
		OriginalName:    sess.FileName,
		MimeType:        firstNonEmpty(opts.MimeType, sess.MimeType),
		ACL:             opts.ACL,
	})
}

// assemble concatenates the chunks of sess in index order into out.
func assemble(ctx context.Context, sess *media.ChunkUploadSession, chunks []*media.ChunkRecord, out string) (string, error) {
	byIndex := make(map[int]*media.ChunkRecord, len(chunks))
	for _, ch := range chunks {
		byIndex[ch.Index] = ch
	}

	f, err := os.Create(out)
	if err != nil {
		if os.IsNotExist(err) {
			return "", media.ConsistencyFault("session directory is missing", filepath.Dir(out), err)
		}
		return "", fmt.Errorf("create assembled file: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, mergeBufferSize)
	var total int64
	for i := 0; i < sess.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := appendChunk(f, byIndex[i], buf)
		if err != nil {
			return "", err
		}
		total += n
	}

	if total != sess.DeclaredSize {
		return "", media.Validationf(sess.ID, "assembled size %d does not match declared size %d", total, sess.DeclaredSize)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close assembled file: %w", err)
	}
	return out, nil
}

func appendChunk(w io.Writer, ch *media.ChunkRecord, buf []byte) (int64, error) {
	src, err := os.Open(ch.StoredPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, media.ConsistencyFault(fmt.Sprintf("chunk %d is recorded but its file is missing", ch.Index), ch.StoredPath, err)
		}
		return 0, fmt.Errorf("open chunk %d: %w", ch.Index, err)
	}
	defer func() { _ = src.Close() }()

	n, err := io.CopyBuffer(w, src, buf)
	if err != nil {
		return n, fmt.Errorf("append chunk %d: %w", ch.Index, err)
	}
	if n != ch.SizeBytes {
		return n, media.ConsistencyFault(fmt.Sprintf("chunk %d holds %d bytes but %d were recorded", ch.Index, n, ch.SizeBytes), ch.StoredPath, nil)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
