// Package content implements the content-addressed, reference-counted file
// store that sits between business logic and the storage backends.
//
// Identity rule: one content hash is one physical copy is one FileRecord.
// Storing bytes that are already known never uploads them again; it adds a
// reference to the existing record, wherever that record's bytes live.
//
// Deletion goes through a journal. Dropping the last reference claims the
// record (deleting its row and journaling a PendingDeletion in one catalog
// transaction) before the bytes are removed, so a concurrent Put can never
// revive a record whose bytes are about to disappear. Deletions that fail
// stay journaled and are retried by RetryPendingDeletions.
package content

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// maxPutAttempts bounds the create/increment loop of Put when it keeps
// losing races against concurrent writers and deleters of the same hash.
const maxPutAttempts = 5

// DefaultBatchSize is the page size of sweeps and journal retries.
const DefaultBatchSize = 1000

// Resolver maps storage configuration ids to backends.
// *registry.Registry implements it.
type Resolver interface {
	// Target resolves the backend for a new upload and reports the id of
	// the configuration that owns it.
	Target(ctx context.Context, configID, tenantID string) (string, storage.Backend, error)

	// Resolve returns the backend owning bytes recorded under configID.
	Resolve(ctx context.Context, configID string) (storage.Backend, error)
}

// Config configures a Store.
type Config struct {
	// KeyPrefix is prepended to every remote key (for example "media/")
	KeyPrefix string

	// BatchSize is the page size of sweeps (default 1000)
	BatchSize int

	// Metrics is optional; nil disables metrics
	Metrics Metrics
}

// PutOptions carries routing and descriptive hints for Put.
type PutOptions struct {
	// TargetBackendID selects a storage configuration explicitly
	TargetBackendID string

	// TenantID selects the tenant's default configuration
	TenantID string

	// OriginalName is the client-supplied file name. Its extension is kept
	// on the remote key.
	OriginalName string

	// MimeType overrides content sniffing when set
	MimeType string

	// ACL is forwarded to the backend
	ACL storage.ACL
}

// Store is the deduplicating content store.
//
// Thread Safety:
// Safe for concurrent use. Correctness under concurrency comes from the
// catalog's atomic operations (unique content hash, conditional decrement,
// claim), never from in-process locks.
type Store struct {
	catalog   catalog.FileCatalog
	backends  Resolver
	keyPrefix string
	batchSize int
	metrics   Metrics
	now       func() time.Time
	newID     func() string
}

// New creates a content store.
func New(files catalog.FileCatalog, backends Resolver, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Store{
		catalog:   files,
		backends:  backends,
		keyPrefix: storage.CleanKey(cfg.KeyPrefix),
		batchSize: cfg.BatchSize,
		metrics:   cfg.Metrics,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Put stores the local file at localPath and returns its record.
//
// When a record with the same content hash exists, its reference count is
// incremented and it is returned without uploading anything. Otherwise the
// bytes are uploaded under a fresh key and a record with one reference is
// created. A failed upload leaves no catalog row; a failed catalog write
// removes the uploaded bytes again.
//
// Parameters:
//   - ctx: Context for cancellation
//   - localPath: File to store (left in place)
//   - opts: Routing and descriptive hints
//
// Returns:
//   - *media.FileRecord: The new or existing record
//   - error: Hashing, backend or catalog failure
func (s *Store) Put(ctx context.Context, localPath string, opts PutOptions) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Hash the file (streaming)
	// ========================================================================

	digest, err := media.HashFile(localPath)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		// ====================================================================
		// Step 2: Known content gets one more reference
		// ====================================================================

		rec, err := s.reference(ctx, digest.Hex)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			s.metrics.RecordPut(PutDeduplicated, rec.SizeBytes)
			logger.Debug("content: dedup hit for %s (file=%s refs=%d)", digest.Hex, rec.ID, rec.RefCount)
			return rec, nil
		}

		// ====================================================================
		// Step 3: Upload new content and create its record
		// ====================================================================

		rec, err = s.create(ctx, localPath, digest, opts)
		if err == nil {
			s.metrics.RecordPut(PutStored, rec.SizeBytes)
			logger.Debug("content: stored %s as %s on %s", digest.Hex, rec.StoragePath, backendName(rec.StorageBackendID))
			return rec, nil
		}
		if !media.IsConflict(err) {
			return nil, err
		}
		logger.Debug("content: lost create race for %s, retrying as reference", digest.Hex)
	}

	return nil, media.Conflictf(digest.Hex, "content hash kept changing owner after %d attempts", maxPutAttempts)
}

// reference increments the record owning hash. It returns (nil, nil) when
// no record exists, including when the record was claimed for deletion
// between lookup and increment.
func (s *Store) reference(ctx context.Context, hash string) (*media.FileRecord, error) {
	existing, err := s.catalog.GetFileByHash(ctx, hash)
	if media.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	rec, err := s.catalog.IncrementRef(ctx, existing.ID)
	if media.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("increment references of %s: %w", existing.ID, err)
	}
	return rec, nil
}

// create uploads the bytes and inserts a record with one reference. On a
// hash Conflict the uploaded copy is removed and the Conflict returned so
// Put can fall back to referencing the winner.
func (s *Store) create(ctx context.Context, localPath string, digest media.Digest, opts PutOptions) (*media.FileRecord, error) {
	backendID, backend, err := s.backends.Target(ctx, opts.TargetBackendID, opts.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve storage backend: %w", err)
	}

	name := opts.OriginalName
	if name == "" {
		name = localPath
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = media.DetectMIME(localPath, name)
	}

	id := s.newID()
	key := RemoteKey(s.keyPrefix, s.now(), id, name)

	res, err := backend.Upload(ctx, localPath, key, storage.UploadOptions{
		ContentType: mimeType,
		ACL:         opts.ACL,
		Metadata:    map[string]string{"content-sha256": digest.Hex},
	})
	if err != nil {
		return nil, err
	}

	rec := &media.FileRecord{
		ID:               id,
		ContentHash:      digest.Hex,
		StoragePath:      res.Path,
		StorageBackendID: backendID,
		URL:              res.URL,
		OriginalName:     opts.OriginalName,
		SizeBytes:        digest.Size,
		MimeType:         mimeType,
		Kind:             media.KindFromMIME(mimeType),
		RefCount:         1,
	}
	if rec.Kind == media.KindImage {
		if w, h, ok := media.ImageDimensions(localPath); ok {
			rec.Width, rec.Height = &w, &h
		}
	}

	if err := s.catalog.CreateFile(ctx, rec); err != nil {
		// The bytes must not outlive a failed insert. context.WithoutCancel
		// keeps the cleanup running when ctx is what failed the insert.
		if delErr := backend.Delete(context.WithoutCancel(ctx), res.Path); delErr != nil {
			logger.Warn("content: failed to remove %s after rejected insert: %v", res.Path, delErr)
		}
		return nil, err
	}
	return rec, nil
}

func backendName(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
