package badger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

func (s *Store) CreateFile(ctx context.Context, rec *media.FileRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keyFile(rec.ID)); err == nil {
			return media.Conflict("file id already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(keyHash(rec.ContentHash)); err == nil {
			return media.Conflict("content hash already exists", rec.ContentHash)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		stored := rec.Clone()
		now := s.now()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		if err := setJSON(txn, keyFile(stored.ID), stored); err != nil {
			return err
		}
		return txn.Set(keyHash(stored.ContentHash), []byte(stored.ID))
	})
}

func (s *Store) GetFile(ctx context.Context, id string) (*media.FileRecord, error) {
	var rec media.FileRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getFile(txn, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func getFile(txn *badger.Txn, id string, rec *media.FileRecord) error {
	err := getJSON(txn, keyFile(id), rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return media.NotFound("file not found", id)
	}
	return err
}

func (s *Store) GetFileByHash(ctx context.Context, hash string) (*media.FileRecord, error) {
	var rec media.FileRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(keyHash(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("no file with content hash", hash)
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getFile(txn, string(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) IncrementRef(ctx context.Context, id string) (*media.FileRecord, error) {
	var rec media.FileRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := getFile(txn, id, &rec); err != nil {
			return err
		}
		rec.RefCount++
		rec.UpdatedAt = s.now()
		return setJSON(txn, keyFile(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DecrementRef(ctx context.Context, id string) (int64, bool, error) {
	var (
		remaining int64
		changed   bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec media.FileRecord
		if err := getFile(txn, id, &rec); err != nil {
			return err
		}
		if rec.RefCount <= 0 {
			remaining, changed = 0, false
			return nil
		}
		rec.RefCount--
		rec.UpdatedAt = s.now()
		remaining, changed = rec.RefCount, true
		return setJSON(txn, keyFile(id), &rec)
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, changed, nil
}

func (s *Store) ClaimUnreferenced(ctx context.Context, id string) (*media.PendingDeletion, error) {
	var pd *media.PendingDeletion
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec media.FileRecord
		if err := getFile(txn, id, &rec); err != nil {
			return err
		}
		if rec.RefCount > 0 {
			return media.Conflictf(id, "file is referenced again (refcount %d)", rec.RefCount)
		}

		pd = media.PendingDeletionFor(&rec, s.now())
		if err := txn.Delete(keyFile(id)); err != nil {
			return err
		}
		if err := txn.Delete(keyHash(rec.ContentHash)); err != nil {
			return err
		}
		return setJSON(txn, keyPending(id), pd)
	})
	if err != nil {
		return nil, err
	}
	return pd, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec media.FileRecord
		if err := getFile(txn, id, &rec); err != nil {
			return err
		}
		if err := txn.Delete(keyFile(id)); err != nil {
			return err
		}
		return txn.Delete(keyHash(rec.ContentHash))
	})
}

func (s *Store) ListUnreferenced(ctx context.Context, limit int) ([]*media.FileRecord, error) {
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	var out []*media.FileRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixFile), func(val []byte) error {
			var rec media.FileRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.RefCount == 0 {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
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

func (s *Store) ListPendingDeletions(ctx context.Context, limit int) ([]*media.PendingDeletion, error) {
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	var out []*media.PendingDeletion
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixPending), func(val []byte) error {
			var pd media.PendingDeletion
			if err := json.Unmarshal(val, &pd); err != nil {
				return err
			}
			out = append(out, &pd)
			return nil
		})
	})
	if err != nil {
		return nil, err
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

func (s *Store) RecordDeletionAttempt(ctx context.Context, fileID, lastError string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var pd media.PendingDeletion
		err := getJSON(txn, keyPending(fileID), &pd)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.NotFound("pending deletion not found", fileID)
		}
		if err != nil {
			return err
		}
		pd.Attempts++
		pd.LastError = lastError
		return setJSON(txn, keyPending(fileID), &pd)
	})
}

func (s *Store) ResolvePendingDeletion(ctx context.Context, fileID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(keyPending(fileID))
	})
}
