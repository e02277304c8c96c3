// Package memory implements catalog.Catalog in process memory.
//
// Every operation takes a single mutex, which makes each catalog call
// trivially atomic. Records are cloned on the way in and out so callers never
// alias catalog state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

// Catalog is an in-memory catalog.Catalog.
type Catalog struct {
	mu sync.Mutex

	files   map[string]*media.FileRecord
	byHash  map[string]string
	pending map[string]*media.PendingDeletion

	sessions map[string]*media.ChunkUploadSession
	chunks   map[string]map[int]*media.ChunkRecord

	configs map[string]*media.StorageConfig

	now func() time.Time
}

var _ catalog.Catalog = (*Catalog)(nil)

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		files:    make(map[string]*media.FileRecord),
		byHash:   make(map[string]string),
		pending:  make(map[string]*media.PendingDeletion),
		sessions: make(map[string]*media.ChunkUploadSession),
		chunks:   make(map[string]map[int]*media.ChunkRecord),
		configs:  make(map[string]*media.StorageConfig),
		now:      time.Now,
	}
}

// Close is a no-op.
func (c *Catalog) Close() error { return nil }

// ============================================================================
// Files
// ============================================================================

func (c *Catalog) CreateFile(ctx context.Context, rec *media.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.files[rec.ID]; ok {
		return media.Conflict("file id already exists", rec.ID)
	}
	if _, ok := c.byHash[rec.ContentHash]; ok {
		return media.Conflict("content hash already exists", rec.ContentHash)
	}

	stored := rec.Clone()
	now := c.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	c.files[stored.ID] = stored
	c.byHash[stored.ContentHash] = stored.ID
	return nil
}

func (c *Catalog) GetFile(ctx context.Context, id string) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.files[id]
	if !ok {
		return nil, media.NotFound("file not found", id)
	}
	return rec.Clone(), nil
}

func (c *Catalog) GetFileByHash(ctx context.Context, hash string) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byHash[hash]
	if !ok {
		return nil, media.NotFound("no file with content hash", hash)
	}
	return c.files[id].Clone(), nil
}

func (c *Catalog) IncrementRef(ctx context.Context, id string) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.files[id]
	if !ok {
		return nil, media.NotFound("file not found", id)
	}
	rec.RefCount++
	rec.UpdatedAt = c.now()
	return rec.Clone(), nil
}

func (c *Catalog) DecrementRef(ctx context.Context, id string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.files[id]
	if !ok {
		return 0, false, media.NotFound("file not found", id)
	}
	if rec.RefCount <= 0 {
		return 0, false, nil
	}
	rec.RefCount--
	rec.UpdatedAt = c.now()
	return rec.RefCount, true, nil
}

func (c *Catalog) ClaimUnreferenced(ctx context.Context, id string) (*media.PendingDeletion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.files[id]
	if !ok {
		return nil, media.NotFound("file not found", id)
	}
	if rec.RefCount > 0 {
		return nil, media.Conflictf(id, "file is referenced again (refcount %d)", rec.RefCount)
	}

	pd := media.PendingDeletionFor(rec, c.now())
	delete(c.files, id)
	delete(c.byHash, rec.ContentHash)
	c.pending[id] = pd
	return clonePending(pd), nil
}

func (c *Catalog) DeleteFile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.files[id]
	if !ok {
		return media.NotFound("file not found", id)
	}
	delete(c.files, id)
	delete(c.byHash, rec.ContentHash)
	return nil
}

func (c *Catalog) ListUnreferenced(ctx context.Context, limit int) ([]*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*media.FileRecord
	for _, rec := range c.files {
		if rec.RefCount == 0 {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Catalog) ListPendingDeletions(ctx context.Context, limit int) ([]*media.PendingDeletion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*media.PendingDeletion, 0, len(c.pending))
	for _, pd := range c.pending {
		out = append(out, clonePending(pd))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].FileID < out[j].FileID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Catalog) RecordDeletionAttempt(ctx context.Context, fileID, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pd, ok := c.pending[fileID]
	if !ok {
		return media.NotFound("pending deletion not found", fileID)
	}
	pd.Attempts++
	pd.LastError = lastError
	return nil
}

func (c *Catalog) ResolvePendingDeletion(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, fileID)
	return nil
}

func clonePending(pd *media.PendingDeletion) *media.PendingDeletion {
	cp := *pd
	return &cp
}
