package memory

import (
	"context"
	"sort"
	"time"

	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

func (c *Catalog) CreateSession(ctx context.Context, s *media.ChunkUploadSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[s.ID]; ok {
		return media.Conflict("session already exists", s.ID)
	}
	stored := s.Clone()
	now := c.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	c.sessions[s.ID] = stored
	c.chunks[s.ID] = make(map[int]*media.ChunkRecord)
	return nil
}

func (c *Catalog) GetSession(ctx context.Context, id string) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return nil, media.NotFound("upload session not found", id)
	}
	return s.Clone(), nil
}

func (c *Catalog) TransitionSession(ctx context.Context, id string, to media.SessionStatus, from ...media.SessionStatus) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return nil, media.NotFound("upload session not found", id)
	}
	if !catalog.StatusAllowed(s.Status, from) {
		return nil, catalog.TransitionConflict(id, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = c.now()
	return s.Clone(), nil
}

func (c *Catalog) CompleteSession(ctx context.Context, id, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return media.NotFound("upload session not found", id)
	}
	if s.Status != media.SessionMerging {
		return catalog.TransitionConflict(id, s.Status, media.SessionCompleted)
	}
	s.Status = media.SessionCompleted
	s.FileID = fileID
	s.ErrorMessage = ""
	s.UpdatedAt = c.now()
	return nil
}

func (c *Catalog) FailSession(ctx context.Context, id, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return media.NotFound("upload session not found", id)
	}
	if s.Status == media.SessionCompleted {
		return catalog.TransitionConflict(id, s.Status, media.SessionFailed)
	}
	s.Status = media.SessionFailed
	s.ErrorMessage = message
	s.UpdatedAt = c.now()
	return nil
}

func (c *Catalog) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[id]; !ok {
		return media.NotFound("upload session not found", id)
	}
	delete(c.sessions, id)
	delete(c.chunks, id)
	return nil
}

func (c *Catalog) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*media.ChunkUploadSession
	for _, s := range c.sessions {
		if s.Reclaimable(now) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Catalog) PutChunk(ctx context.Context, rec *media.ChunkRecord) (*media.ChunkRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[rec.SessionID]
	if !ok {
		return nil, false, media.NotFound("upload session not found", rec.SessionID)
	}
	chunks := c.chunks[rec.SessionID]
	if existing, ok := chunks[rec.Index]; ok {
		return existing.Clone(), false, nil
	}

	stored := rec.Clone()
	now := c.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	chunks[rec.Index] = stored
	s.UploadedChunks++
	s.UpdatedAt = now
	return stored.Clone(), true, nil
}

func (c *Catalog) GetChunk(ctx context.Context, sessionID string, index int) (*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.chunks[sessionID][index]
	if !ok {
		return nil, media.NotFound("chunk not found", sessionID)
	}
	return rec.Clone(), nil
}

func (c *Catalog) ListChunks(ctx context.Context, sessionID string) ([]*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chunks := c.chunks[sessionID]
	out := make([]*media.ChunkRecord, 0, len(chunks))
	for _, rec := range chunks {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
