package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
)

// PutChunk stores chunk index of uploadID from r.
//
// A chunk already recorded for (uploadID, index) is returned unchanged
// without reading r, so clients can resend chunks after a timeout. New
// chunks are streamed to a fresh file in the session directory, hashed,
// checked against expectedHash when given, and recorded. The session's
// progress counter only moves when the record is created.
//
// Parameters:
//   - ctx: Context for cancellation
//   - uploadID: Session id
//   - index: Chunk index in [0, TotalChunks)
//   - r: Chunk bytes (exactly the chunk size, the remainder for the last)
//   - expectedHash: Optional hex SHA-256 of the chunk
//
// Returns:
//   - *media.ChunkRecord: The stored (or previously stored) chunk
//   - error: media.ErrNotFound for an unknown or cancelled session,
//     media.ErrConflict when the session no longer accepts chunks,
//     media.ErrValidation for a bad index, size, hash or an expired session
func (c *Coordinator) PutChunk(ctx context.Context, uploadID string, index int, r io.Reader, expectedHash string) (*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := c.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := c.acceptsChunk(sess, index); err != nil {
		c.metrics.RecordChunk(ChunkRejected, 0)
		return nil, err
	}

	unlock := c.locks.lock(uploadID + "/" + strconv.Itoa(index))
	defer unlock()

	// ========================================================================
	// Step 1: Replays return the recorded chunk
	// ========================================================================

	existing, err := c.sessions.GetChunk(ctx, uploadID, index)
	if err == nil {
		c.metrics.RecordChunk(ChunkReplayed, 0)
		logger.Debug("upload: chunk %d of %s replayed", index, uploadID)
		return existing, nil
	}
	if !media.IsNotFound(err) {
		return nil, fmt.Errorf("lookup chunk %d of %s: %w", index, uploadID, err)
	}

	// ========================================================================
	// Step 2: Stream the bytes to disk
	// ========================================================================

	dir, err := c.sessionDir(sess)
	if err != nil {
		return nil, err
	}
	path, size, hash, err := writeChunk(dir, index, r, expectedChunkSize(sess, index))
	if err != nil {
		if os.IsNotExist(err) {
			// The directory vanished under us: the session was cancelled.
			return nil, media.NotFound("upload session not found", uploadID)
		}
		c.metrics.RecordChunk(ChunkRejected, 0)
		return nil, err
	}

	status := media.ChunkUploaded
	if expectedHash != "" {
		if !media.EqualHash(expectedHash, hash) {
			_ = os.Remove(path)
			c.metrics.RecordChunk(ChunkRejected, 0)
			return nil, media.Validationf(uploadID, "chunk %d hash mismatch: expected %s, got %s", index, expectedHash, hash)
		}
		status = media.ChunkVerified
	}

	// ========================================================================
	// Step 3: Record it; the first record for the index wins
	// ========================================================================

	stored, created, err := c.sessions.PutChunk(ctx, &media.ChunkRecord{
		SessionID:  uploadID,
		Index:      index,
		SizeBytes:  size,
		Hash:       hash,
		StoredPath: path,
		Status:     status,
		CreatedAt:  c.now(),
	})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	if !created {
		_ = os.Remove(path)
		c.metrics.RecordChunk(ChunkReplayed, 0)
		return stored, nil
	}

	c.metrics.RecordChunk(ChunkStored, size)
	logger.Debug("upload: chunk %d of %s stored (%d bytes, %s)", index, uploadID, size, status)
	return stored, nil
}

// IsComplete reports whether every chunk index of uploadID has a record.
func (c *Coordinator) IsComplete(ctx context.Context, uploadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sess, err := c.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return false, err
	}
	chunks, err := c.sessions.ListChunks(ctx, uploadID)
	if err != nil {
		return false, err
	}
	return len(missingChunks(sess, chunks)) == 0, nil
}

// ListChunks returns the chunks received for uploadID in index order.
func (c *Coordinator) ListChunks(ctx context.Context, uploadID string) ([]*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.sessions.GetSession(ctx, uploadID); err != nil {
		return nil, err
	}
	return c.sessions.ListChunks(ctx, uploadID)
}

func (c *Coordinator) acceptsChunk(sess *media.ChunkUploadSession, index int) error {
	if sess.Status != media.SessionUploading {
		return media.Conflictf(sess.ID, "session is %s and no longer accepts chunks", sess.Status)
	}
	if sess.Expired(c.now()) {
		return media.Validation("upload session expired", sess.ID)
	}
	if index < 0 || index >= sess.TotalChunks {
		return media.Validationf(sess.ID, "chunk index %d out of range [0, %d)", index, sess.TotalChunks)
	}
	return nil
}

// expectedChunkSize is the chunk size for every index but the last, which
// holds the remainder.
func expectedChunkSize(sess *media.ChunkUploadSession, index int) int64 {
	return min(sess.ChunkSize, sess.DeclaredSize-int64(index)*sess.ChunkSize)
}

// writeChunk streams exactly want bytes of r into a new file of dir,
// returning its path, size and hex SHA-256. Chunks of any other length are
// removed and rejected so a truncated transmission can be resent.
func writeChunk(dir string, index int, r io.Reader, want int64) (string, int64, string, error) {
	f, err := os.CreateTemp(dir, fmt.Sprintf("chunk-%06d-*", index))
	if err != nil {
		return "", 0, "", err
	}
	path := f.Name()
	fail := func(err error) (string, int64, string, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return "", 0, "", err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(r, want+1))
	if err != nil {
		return fail(fmt.Errorf("write chunk %d: %w", index, err))
	}
	switch {
	case n == 0:
		return fail(media.Validationf(strconv.Itoa(index), "chunk is empty"))
	case n > want:
		return fail(media.Validationf(strconv.Itoa(index), "chunk exceeds its size of %d bytes", want))
	case n < want:
		return fail(media.Validationf(strconv.Itoa(index), "chunk is truncated: got %d of %d bytes", n, want))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", 0, "", fmt.Errorf("close chunk %d: %w", index, err)
	}
	return path, n, hex.EncodeToString(h.Sum(nil)), nil
}

// missingChunks returns the indices in [0, TotalChunks) without a record.
func missingChunks(sess *media.ChunkUploadSession, chunks []*media.ChunkRecord) []int {
	have := make(map[int]bool, len(chunks))
	for _, ch := range chunks {
		have[ch.Index] = true
	}
	var missing []int
	for i := 0; i < sess.TotalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// keyLocks hands out one mutex per key, dropping it once unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (l *keyLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
