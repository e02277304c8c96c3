package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

const fileColumns = `id, content_hash, storage_path, storage_backend_id, url, original_name,
	size_bytes, mime_type, kind, width, height, ref_count, created_at, updated_at`

const pendingColumns = `file_id, storage_backend_id, storage_path, content_hash, queued_at, attempts, last_error`

func scanFile(row rowScanner) (*media.FileRecord, error) {
	var (
		rec              media.FileRecord
		kind             string
		width, height    sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&rec.ID, &rec.ContentHash, &rec.StoragePath, &rec.StorageBackendID, &rec.URL,
		&rec.OriginalName, &rec.SizeBytes, &rec.MimeType, &kind, &width, &height, &rec.RefCount,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Kind = media.Kind(kind)
	if width.Valid {
		w := int(width.Int64)
		rec.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		rec.Height = &h
	}
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	return &rec, nil
}

func scanPending(row rowScanner) (*media.PendingDeletion, error) {
	var (
		pd     media.PendingDeletion
		queued int64
	)
	if err := row.Scan(&pd.FileID, &pd.StorageBackendID, &pd.StoragePath, &pd.ContentHash,
		&queued, &pd.Attempts, &pd.LastError); err != nil {
		return nil, err
	}
	pd.QueuedAt = fromNanos(queued)
	return &pd, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// CreateFile relies on ON CONFLICT DO NOTHING over both the primary key and
// the unique hash index; zero affected rows means one of them collided.
func (s *Store) CreateFile(ctx context.Context, rec *media.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		rec.ID, rec.ContentHash, rec.StoragePath, rec.StorageBackendID, rec.URL, rec.OriginalName,
		rec.SizeBytes, rec.MimeType, string(rec.Kind), nullInt(rec.Width), nullInt(rec.Height),
		rec.RefCount, toNanos(created), toNanos(now))
	if err != nil {
		return fmt.Errorf("insert file %s: %w", rec.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return media.Conflict("file id or content hash already exists", rec.ContentHash)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*media.FileRecord, error) {
	return s.getFile(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) GetFileByHash(ctx context.Context, hash string) (*media.FileRecord, error) {
	return s.getFile(ctx, s.db, `WHERE content_hash = ?`, hash)
}

func (s *Store) getFile(ctx context.Context, db querier, where, arg string) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := scanFile(db.QueryRowContext(ctx, s.q(`SELECT `+fileColumns+` FROM files `+where), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.NotFound("file not found", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("select file %s: %w", arg, err)
	}
	return rec, nil
}

func (s *Store) IncrementRef(ctx context.Context, id string) (*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := scanFile(s.db.QueryRowContext(ctx, s.q(`UPDATE files
		SET ref_count = ref_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+fileColumns), toNanos(s.now()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.NotFound("file not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("increment ref %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) DecrementRef(ctx context.Context, id string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var remaining int64
	err := s.db.QueryRowContext(ctx, s.q(`UPDATE files
		SET ref_count = ref_count - 1, updated_at = ?
		WHERE id = ? AND ref_count > 0
		RETURNING ref_count`), toNanos(s.now()), id).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("decrement ref %s: %w", id, err)
	}

	// Nothing updated: either the record is gone or it was already at zero.
	if _, err := s.getFile(ctx, s.db, `WHERE id = ?`, id); err != nil {
		return 0, false, err
	}
	return 0, false, nil
}

func (s *Store) ClaimUnreferenced(ctx context.Context, id string) (*media.PendingDeletion, error) {
	var pd *media.PendingDeletion
	err := s.withTx(ctx, func(tx querier) error {
		rec, err := scanFile(tx.QueryRowContext(ctx, s.q(`DELETE FROM files
			WHERE id = ? AND ref_count = 0
			RETURNING `+fileColumns), id))
		if errors.Is(err, sql.ErrNoRows) {
			current, err := s.getFile(ctx, tx, `WHERE id = ?`, id)
			if err != nil {
				return err
			}
			return media.Conflictf(id, "file is referenced again (refcount %d)", current.RefCount)
		}
		if err != nil {
			return fmt.Errorf("claim file %s: %w", id, err)
		}

		pd = media.PendingDeletionFor(rec, s.now())
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO pending_deletions (`+pendingColumns+`)
			VALUES (?, ?, ?, ?, ?, 0, '')
			ON CONFLICT (file_id) DO UPDATE SET
				storage_backend_id = excluded.storage_backend_id,
				storage_path = excluded.storage_path,
				content_hash = excluded.content_hash,
				queued_at = excluded.queued_at`),
			pd.FileID, pd.StorageBackendID, pd.StoragePath, pd.ContentHash, toNanos(pd.QueuedAt))
		if err != nil {
			return fmt.Errorf("journal deletion %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pd, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM files WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return media.NotFound("file not found", id)
	}
	return nil
}

func (s *Store) ListUnreferenced(ctx context.Context, limit int) ([]*media.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+fileColumns+` FROM files
		WHERE ref_count = 0
		ORDER BY created_at, id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list unreferenced: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*media.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListPendingDeletions(ctx context.Context, limit int) ([]*media.PendingDeletion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+pendingColumns+` FROM pending_deletions
		ORDER BY queued_at, file_id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deletions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*media.PendingDeletion
	for rows.Next() {
		pd, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (s *Store) RecordDeletionAttempt(ctx context.Context, fileID, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE pending_deletions
		SET attempts = attempts + 1, last_error = ?
		WHERE file_id = ?`), lastError, fileID)
	if err != nil {
		return fmt.Errorf("record deletion attempt %s: %w", fileID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return media.NotFound("pending deletion not found", fileID)
	}
	return nil
}

func (s *Store) ResolvePendingDeletion(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pending_deletions WHERE file_id = ?`), fileID); err != nil {
		return fmt.Errorf("resolve pending deletion %s: %w", fileID, err)
	}
	return nil
}
