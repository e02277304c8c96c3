// Package upload implements resumable chunked uploads.
//
// A client opens a session with InitSession, sends chunks in any order
// (retries included) with PutChunk and finally calls Merge, which
// reassembles the chunks in index order and hands the result to the
// deduplicating content store.
//
// Session lifecycle:
//
//	uploading ──Merge──► merging ──► completed
//	                        │
//	                        └──────► failed ──Merge (retry)──► merging
//
// Completeness is decided from the chunk records (every index in
// [0, TotalChunks) present), never from the UploadedChunks counter, which
// is a progress metric only.
//
// Temp files live in one directory per session, named by the session id,
// under Config.TempDir. Successful merges remove it; failed merges keep it
// so the failure can be diagnosed and the merge retried.
package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/media"
)

const (
	// DefaultChunkSize is used when a session does not request one (2 MiB)
	DefaultChunkSize int64 = 2 << 20

	// DefaultMaxChunkSize bounds the chunk size a client may request (64 MiB)
	DefaultMaxChunkSize int64 = 64 << 20

	// DefaultExpiry is how long a session accepts chunks
	DefaultExpiry = 24 * time.Hour
)

// ContentStore receives assembled files. *content.Store implements it.
type ContentStore interface {
	Put(ctx context.Context, localPath string, opts content.PutOptions) (*media.FileRecord, error)
}

// Config configures a Coordinator.
type Config struct {
	// TempDir holds one scratch directory per session
	TempDir string

	// DefaultChunkSize applies when InitOptions.ChunkSize is 0
	DefaultChunkSize int64

	// MaxChunkSize is the largest chunk size a session may use
	MaxChunkSize int64

	// MaxDeclaredSize rejects larger uploads (0 = unlimited)
	MaxDeclaredSize int64

	// DefaultExpiry applies when InitOptions.Expiry is 0
	DefaultExpiry time.Duration

	// SweepBatchSize is the page size of SweepExpired (default 1000)
	SweepBatchSize int

	// Metrics is optional; nil disables metrics
	Metrics Metrics
}

// InitOptions describes a new upload.
type InitOptions struct {
	FileName     string
	DeclaredSize int64

	// ChunkSize is optional (Config.DefaultChunkSize)
	ChunkSize int64

	// Expiry is optional (Config.DefaultExpiry)
	Expiry time.Duration

	// Routing hints applied at merge time
	TenantID        string
	TargetBackendID string
	MimeType        string
}

// Progress is the client-facing view of a session.
type Progress struct {
	Status          media.SessionStatus `json:"status"`
	TotalChunks     int                 `json:"total_chunks"`
	UploadedChunks  int                 `json:"uploaded_chunks"`
	PercentComplete float64             `json:"percent_complete"`
}

// Coordinator drives chunked upload sessions.
//
// Thread Safety:
// Safe for concurrent use. Writes of the same (session, index) are
// serialized in-process; across processes the catalog's unique
// (session, index) constraint decides which write is kept. Merge
// exclusion comes from the uploading|failed → merging transition, which
// the catalog applies atomically.
type Coordinator struct {
	sessions catalog.SessionCatalog
	content  ContentStore
	cfg      Config
	root     string
	locks    *keyLocks
	metrics  Metrics
	now      func() time.Time
	newID    func() string
}

// New creates a coordinator and its temp root directory.
func New(sessions catalog.SessionCatalog, store ContentStore, cfg Config) (*Coordinator, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "dittomedia-uploads")
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = DefaultChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.DefaultChunkSize > cfg.MaxChunkSize {
		return nil, media.Validationf("", "default chunk size %d exceeds max chunk size %d", cfg.DefaultChunkSize, cfg.MaxChunkSize)
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = DefaultExpiry
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = content.DefaultBatchSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	root, err := filepath.Abs(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload temp dir %s: %w", cfg.TempDir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload temp dir: %w", err)
	}

	return &Coordinator{
		sessions: sessions,
		content:  store,
		cfg:      cfg,
		root:     root,
		locks:    newKeyLocks(),
		metrics:  cfg.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// TempRoot returns the absolute directory holding session scratch space.
func (c *Coordinator) TempRoot() string { return c.root }

// InitSession opens a new upload session in the uploading state.
//
// Parameters:
//   - ctx: Context for cancellation
//   - opts: File name, declared size and optional chunk size, expiry and
//     routing hints
//
// Returns:
//   - *media.ChunkUploadSession: The persisted session
//   - error: media.ErrValidation for invalid sizes or name, or a catalog
//     or filesystem failure
func (c *Coordinator) InitSession(ctx context.Context, opts InitOptions) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(opts.FileName)
	if name == "" {
		return nil, media.Validation("file name is required", "")
	}
	if opts.DeclaredSize <= 0 {
		return nil, media.Validationf(name, "declared size must be positive, got %d", opts.DeclaredSize)
	}
	if c.cfg.MaxDeclaredSize > 0 && opts.DeclaredSize > c.cfg.MaxDeclaredSize {
		return nil, media.Validationf(name, "declared size %d exceeds the limit of %d bytes", opts.DeclaredSize, c.cfg.MaxDeclaredSize)
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = c.cfg.DefaultChunkSize
	}
	if chunkSize < 0 || chunkSize > c.cfg.MaxChunkSize {
		return nil, media.Validationf(name, "chunk size must be in (0, %d], got %d", c.cfg.MaxChunkSize, chunkSize)
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = c.cfg.DefaultExpiry
	}

	id := c.newID()
	dir := filepath.Join(c.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	now := c.now()
	sess := &media.ChunkUploadSession{
		ID:              id,
		FileName:        name,
		DeclaredSize:    opts.DeclaredSize,
		ChunkSize:       chunkSize,
		TotalChunks:     media.TotalChunksFor(opts.DeclaredSize, chunkSize),
		Status:          media.SessionUploading,
		TempDirectory:   dir,
		ExpiresAt:       now.Add(expiry),
		TenantID:        opts.TenantID,
		TargetBackendID: opts.TargetBackendID,
		MimeType:        opts.MimeType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.sessions.CreateSession(ctx, sess); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("create upload session: %w", err)
	}

	logger.Debug("upload: session %s opened for %q (%d bytes, %d chunks of %d)",
		id, name, sess.DeclaredSize, sess.TotalChunks, chunkSize)
	return sess.Clone(), nil
}

// Get returns the session uploadID.
func (c *Coordinator) Get(ctx context.Context, uploadID string) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.sessions.GetSession(ctx, uploadID)
}

// Progress reports the status and chunk counter of uploadID.
func (c *Coordinator) Progress(ctx context.Context, uploadID string) (*Progress, error) {
	sess, err := c.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		Status:         sess.Status,
		TotalChunks:    sess.TotalChunks,
		UploadedChunks: sess.UploadedChunks,
	}
	if sess.Status == media.SessionCompleted {
		p.PercentComplete = 100
	} else if sess.TotalChunks > 0 {
		p.PercentComplete = min(100, float64(sess.UploadedChunks)*100/float64(sess.TotalChunks))
	}
	return p, nil
}

// Cancel removes the temp files, chunk records and the session row of
// uploadID, whatever its state. It returns false when the session does
// not exist.
func (c *Coordinator) Cancel(ctx context.Context, uploadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sess, err := c.sessions.GetSession(ctx, uploadID)
	if media.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := c.removeSessionDir(sess); err != nil {
		return false, err
	}

	if err := c.sessions.DeleteSession(ctx, uploadID); err != nil {
		if media.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete upload session %s: %w", uploadID, err)
	}

	logger.Debug("upload: session %s cancelled (was %s)", uploadID, sess.Status)
	return true, nil
}

// sessionDir returns the scratch directory of sess, refusing directories
// outside the temp root.
func (c *Coordinator) sessionDir(sess *media.ChunkUploadSession) (string, error) {
	dir := sess.TempDirectory
	if dir == "" {
		dir = filepath.Join(c.root, sess.ID)
	}
	rel, err := filepath.Rel(c.root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", media.ConsistencyFault("session directory is outside the upload temp root", dir, err)
	}
	return dir, nil
}

func (c *Coordinator) removeSessionDir(sess *media.ChunkUploadSession) error {
	dir, err := c.sessionDir(sess)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session directory %s: %w", dir, err)
	}
	return nil
}
