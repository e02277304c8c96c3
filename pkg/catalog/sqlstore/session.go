package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/marmos91/dittomedia/pkg/media"
)

const sessionColumns = `id, file_name, declared_size, chunk_size, total_chunks, uploaded_chunks,
	status, temp_directory, expires_at, tenant_id, target_backend_id, mime_type, file_id,
	error_message, created_at, updated_at`

const chunkColumns = `session_id, idx, size_bytes, hash, stored_path, status, created_at`

func scanSession(row rowScanner) (*media.ChunkUploadSession, error) {
	var (
		sess                      media.ChunkUploadSession
		status                    string
		expires, created, updated int64
	)
	err := row.Scan(&sess.ID, &sess.FileName, &sess.DeclaredSize, &sess.ChunkSize, &sess.TotalChunks,
		&sess.UploadedChunks, &status, &sess.TempDirectory, &expires, &sess.TenantID,
		&sess.TargetBackendID, &sess.MimeType, &sess.FileID, &sess.ErrorMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	if sess.Status, err = media.ParseSessionStatus(status); err != nil {
		return nil, err
	}
	sess.ExpiresAt = fromNanos(expires)
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return &sess, nil
}

func scanChunk(row rowScanner) (*media.ChunkRecord, error) {
	var (
		rec     media.ChunkRecord
		status  string
		created int64
	)
	if err := row.Scan(&rec.SessionID, &rec.Index, &rec.SizeBytes, &rec.Hash, &rec.StoredPath,
		&status, &created); err != nil {
		return nil, err
	}
	rec.Status = media.ChunkStatus(status)
	rec.CreatedAt = fromNanos(created)
	return &rec, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *media.ChunkUploadSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	created := sess.CreatedAt
	if created.IsZero() {
		created = now
	}

	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		sess.ID, sess.FileName, sess.DeclaredSize, sess.ChunkSize, sess.TotalChunks, sess.UploadedChunks,
		string(sess.Status), sess.TempDirectory, toNanos(sess.ExpiresAt), sess.TenantID,
		sess.TargetBackendID, sess.MimeType, sess.FileID, sess.ErrorMessage, toNanos(created), toNanos(now))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return media.Conflict("session already exists", sess.ID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*media.ChunkUploadSession, error) {
	return s.getSession(ctx, s.db, id)
}

func (s *Store) getSession(ctx context.Context, db querier, id string) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := scanSession(db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.NotFound("upload session not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", id, err)
	}
	return sess, nil
}

func (s *Store) TransitionSession(ctx context.Context, id string, to media.SessionStatus, from ...media.SessionStatus) (*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(from) == 0 {
		current, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, catalog.TransitionConflict(id, current.Status, to)
	}

	args := []any{string(to), toNanos(s.now()), id}
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	sess, err := scanSession(s.db.QueryRowContext(ctx, s.q(`UPDATE upload_sessions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		RETURNING `+sessionColumns), args...))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition session %s: %w", id, err)
	}

	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, catalog.TransitionConflict(id, current.Status, to)
}

func (s *Store) CompleteSession(ctx context.Context, id, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE upload_sessions
		SET status = ?, file_id = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`),
		string(media.SessionCompleted), fileID, toNanos(s.now()), id, string(media.SessionMerging))
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	return s.checkTransition(ctx, res, id, media.SessionCompleted)
}

func (s *Store) FailSession(ctx context.Context, id, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE upload_sessions
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status <> ?`),
		string(media.SessionFailed), message, toNanos(s.now()), id, string(media.SessionCompleted))
	if err != nil {
		return fmt.Errorf("fail session %s: %w", id, err)
	}
	return s.checkTransition(ctx, res, id, media.SessionFailed)
}

// checkTransition turns a zero-row conditional update into NotFound or a
// transition Conflict.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string, to media.SessionStatus) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return catalog.TransitionConflict(id, current.Status, to)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx querier) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM upload_sessions WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return media.NotFound("upload session not found", id)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM upload_chunks WHERE session_id = ?`), id); err != nil {
			return fmt.Errorf("delete chunks of %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*media.ChunkUploadSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = catalog.NormalizeLimit(limit, catalog.MaxListLimit)

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+sessionColumns+` FROM upload_sessions
		WHERE status <> ? AND expires_at > 0 AND expires_at < ?
		ORDER BY expires_at, id
		LIMIT ?`), string(media.SessionCompleted), toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*media.ChunkUploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// PutChunk inserts the chunk with ON CONFLICT DO NOTHING and bumps the
// session counter in the same transaction only when a row was inserted.
func (s *Store) PutChunk(ctx context.Context, rec *media.ChunkRecord) (*media.ChunkRecord, bool, error) {
	var (
		stored  *media.ChunkRecord
		created bool
	)
	err := s.withTx(ctx, func(tx querier) error {
		if _, err := s.getSession(ctx, tx, rec.SessionID); err != nil {
			return err
		}

		now := s.now()
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		res, err := tx.ExecContext(ctx, s.q(`INSERT INTO upload_chunks (`+chunkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, idx) DO NOTHING`),
			rec.SessionID, rec.Index, rec.SizeBytes, rec.Hash, rec.StoredPath, string(rec.Status), toNanos(createdAt))
		if err != nil {
			return fmt.Errorf("insert chunk %s/%d: %w", rec.SessionID, rec.Index, err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}

		if n > 0 {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE upload_sessions
				SET uploaded_chunks = uploaded_chunks + 1, updated_at = ?
				WHERE id = ?`), toNanos(now), rec.SessionID); err != nil {
				return fmt.Errorf("bump uploaded chunks of %s: %w", rec.SessionID, err)
			}
			created = true
		}

		stored, err = s.getChunk(ctx, tx, rec.SessionID, rec.Index)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *Store) GetChunk(ctx context.Context, sessionID string, index int) (*media.ChunkRecord, error) {
	return s.getChunk(ctx, s.db, sessionID, index)
}

func (s *Store) getChunk(ctx context.Context, db querier, sessionID string, index int) (*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := scanChunk(db.QueryRowContext(ctx, s.q(`SELECT `+chunkColumns+` FROM upload_chunks
		WHERE session_id = ? AND idx = ?`), sessionID, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.NotFound("chunk not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("select chunk %s/%d: %w", sessionID, index, err)
	}
	return rec, nil
}

func (s *Store) ListChunks(ctx context.Context, sessionID string) ([]*media.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+chunkColumns+` FROM upload_chunks
		WHERE session_id = ?
		ORDER BY idx`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	out := []*media.ChunkRecord{}
	for rows.Next() {
		rec, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
