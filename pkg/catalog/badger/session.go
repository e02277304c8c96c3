package badger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

func getSession(txn *badger.Txn, id string, s *media.ChunkUploadSession) error {
	err := getJSON(txn, keySession(id), s)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return media.NotFound("upload session not found", id)
	}
	return err
}

func (s *Store) CreateSession(ctx context.Context, sess *media.ChunkUploadSession) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keySession(sess.ID)); err == nil {
			return media.Conflict("session already exists", sess.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		stored := sess.Clone()
		now := s.now()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		return setJSON(txn, keySession(stored.ID), stored)
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (*media.ChunkUploadSession, error) {
	var sess media.ChunkUploadSession
	if err := s.view(ctx, func(txn *badger.Txn) error {
		return getSession(txn, id, &sess)
	}); err != nil {
		return nil, err
	}
	return &sess, nil
}

// mutateSession loads, mutates and stores a session in one transaction.
func (s *Store) mutateSession(ctx context.Context, id string, fn func(sess *media.ChunkUploadSession) error) (*media.ChunkUploadSession, error) {
	var sess media.ChunkUploadSession
	err := s.update(ctx, func(txn *badger.Txn) error {
		sess = media.ChunkUploadSession{}
		if err := getSession(txn, id, &sess); err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		return setJSON(txn, keySession(id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) TransitionSession(ctx context.Context, id string, to media.SessionStatus, from ...media.SessionStatus) (*media.ChunkUploadSession, error) {
	return s.mutateSession(ctx, id, func(sess *media.ChunkUploadSession) error {
		if !catalog.StatusAllowed(sess.Status, from) {
			return catalog.TransitionConflict(id, sess.Status, to)
		}
		sess.Status = to
		return nil
	})
}

func (s *Store) CompleteSession(ctx context.Context, id, fileID string) error {
	_, err := s.mutateSession(ctx, id, func(sess *media.ChunkUploadSession) error {
		if sess.Status != media.SessionMerging {
			return catalog.TransitionConflict(id, sess.Status, media.SessionCompleted)
		}
		sess.Status = media.SessionCompleted
		sess.FileID = fileID
		sess.ErrorMessage = ""
		return nil
	})
	return err
}

func (s *Store) FailSession(ctx context.Context, id, message string) error {
	_, err := s.mutateSession(ctx, id, func(sess *media.ChunkUploadSession) error {
		if sess.Status == media.SessionCompleted {
			return catalog.TransitionConflict(id, sess.Status, media.SessionFailed)
		}
		sess.Status = media.SessionFailed
		sess.ErrorMessage = message
		return nil
	})
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keySession(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("upload session not found", id)
		} else if err != nil {
			return err
		}
		if err := deletePrefix(txn, keyChunkPrefix(id)); err != nil {
			return err
		}
		return txn.Delete(keySession(id))
	})
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*media.ChunkUploadSession, error) {
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	var out []*media.ChunkUploadSession
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixSession), func(val []byte) error {
			var sess media.ChunkUploadSession
			if err := json.Unmarshal(val, &sess); err != nil {
				return err
			}
			if sess.Reclaimable(now) {
				out = append(out, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
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

// PutChunk reads the session and the chunk key in the same transaction as
// the write, so two concurrent first writes of an index conflict and the
// retried one observes the existing record.
func (s *Store) PutChunk(ctx context.Context, rec *media.ChunkRecord) (*media.ChunkRecord, bool, error) {
	var (
		stored  media.ChunkRecord
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var sess media.ChunkUploadSession
		if err := getSession(txn, rec.SessionID, &sess); err != nil {
			return err
		}

		key := keyChunk(rec.SessionID, rec.Index)
		err := getJSON(txn, key, &stored)
		if err == nil {
			created = false
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		stored = *rec
		now := s.now()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if err := setJSON(txn, key, &stored); err != nil {
			return err
		}

		sess.UploadedChunks++
		sess.UpdatedAt = now
		created = true
		return setJSON(txn, keySession(sess.ID), &sess)
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (s *Store) GetChunk(ctx context.Context, sessionID string, index int) (*media.ChunkRecord, error) {
	var rec media.ChunkRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, keyChunk(sessionID, index), &rec)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("chunk not found", sessionID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListChunks(ctx context.Context, sessionID string) ([]*media.ChunkRecord, error) {
	out := []*media.ChunkRecord{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, keyChunkPrefix(sessionID), func(val []byte) error {
			var rec media.ChunkRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
