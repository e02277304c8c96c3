// Package catalog defines the durable record set behind the media storage
// subsystem: file records with their reference counts, the pending deletion
// journal, chunked upload sessions with their chunk records, and persisted
// storage backend configurations.
//
// Every operation that the dedup engine or the upload coordinator relies on
// for correctness under concurrency is a single atomic catalog call:
//
//   - CreateFile enforces the unique content hash (Conflict on collision)
//   - DecrementRef is a compare-and-update that never goes below zero
//   - ClaimUnreferenced removes a zero-count row and journals its bytes for
//     deletion in one transaction, so a concurrent IncrementRef can never
//     revive a record whose bytes are about to disappear
//   - PutChunk inserts a chunk record only if (session, index) is absent and
//     bumps the session counter in the same transaction
//   - TransitionSession moves a session between states only from an allowed
//     source state, which serializes merges
//
// Implementations: memory (tests, development), badger (embedded,
// persistent) and sqlstore (SQLite or PostgreSQL).
package catalog

import (
	"context"
	"slices"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
)

// FileCatalog stores FileRecords and the pending deletion journal.
type FileCatalog interface {
	// CreateFile inserts a new record.
	// Returns media.ErrConflict if the id or the content hash already exists.
	CreateFile(ctx context.Context, rec *media.FileRecord) error

	// GetFile returns the record with id, or media.ErrNotFound.
	GetFile(ctx context.Context, id string) (*media.FileRecord, error)

	// GetFileByHash returns the record owning hash, or media.ErrNotFound.
	GetFileByHash(ctx context.Context, hash string) (*media.FileRecord, error)

	// IncrementRef atomically adds one reference and returns the updated
	// record. Returns media.ErrNotFound if the record is gone (for example
	// claimed for deletion in the meantime).
	IncrementRef(ctx context.Context, id string) (*media.FileRecord, error)

	// DecrementRef atomically removes one reference if the count is above
	// zero.
	//
	// Returns:
	//   - remaining: Count after the call
	//   - changed: False when the count was already zero (nothing happened)
	//   - error: media.ErrNotFound if the record does not exist
	DecrementRef(ctx context.Context, id string) (remaining int64, changed bool, err error)

	// ClaimUnreferenced deletes the record if and only if its count is zero
	// and journals a PendingDeletion for its bytes in the same transaction.
	// Returns media.ErrConflict if the record is referenced again and
	// media.ErrNotFound if it no longer exists.
	ClaimUnreferenced(ctx context.Context, id string) (*media.PendingDeletion, error)

	// DeleteFile removes the record regardless of its count.
	// Returns media.ErrNotFound if absent.
	DeleteFile(ctx context.Context, id string) error

	// ListUnreferenced returns up to limit records whose count is zero.
	ListUnreferenced(ctx context.Context, limit int) ([]*media.FileRecord, error)

	// ListPendingDeletions returns up to limit journal entries, oldest first.
	ListPendingDeletions(ctx context.Context, limit int) ([]*media.PendingDeletion, error)

	// RecordDeletionAttempt bumps the attempt counter of a journal entry and
	// stores the last error message.
	RecordDeletionAttempt(ctx context.Context, fileID, lastError string) error

	// ResolvePendingDeletion removes a journal entry once its bytes are
	// confirmed deleted. Resolving an unknown entry succeeds.
	ResolvePendingDeletion(ctx context.Context, fileID string) error
}

// SessionCatalog stores chunked upload sessions and their chunk records.
type SessionCatalog interface {
	// CreateSession inserts a new session.
	// Returns media.ErrConflict if the id already exists.
	CreateSession(ctx context.Context, s *media.ChunkUploadSession) error

	// GetSession returns the session with id, or media.ErrNotFound.
	GetSession(ctx context.Context, id string) (*media.ChunkUploadSession, error)

	// TransitionSession sets the status to `to` if the current status is one
	// of from, returning the updated session. Returns media.ErrConflict
	// (carrying the current status) otherwise.
	TransitionSession(ctx context.Context, id string, to media.SessionStatus, from ...media.SessionStatus) (*media.ChunkUploadSession, error)

	// CompleteSession moves a merging session to completed and links it to
	// the resulting file.
	CompleteSession(ctx context.Context, id, fileID string) error

	// FailSession moves a session that is not completed to failed and stores
	// the error message.
	FailSession(ctx context.Context, id, message string) error

	// DeleteSession removes the session and all of its chunk records.
	// Returns media.ErrNotFound if absent.
	DeleteSession(ctx context.Context, id string) error

	// ListExpiredSessions returns up to limit sessions that are not
	// completed and whose expiry is before now.
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*media.ChunkUploadSession, error)

	// PutChunk records a chunk if (session, index) has no record yet and
	// increments the session's uploaded counter in the same transaction.
	//
	// Returns:
	//   - *media.ChunkRecord: The stored record (the pre-existing one when
	//     created is false)
	//   - created: True only for the first write of this index
	//   - error: media.ErrNotFound if the session does not exist
	PutChunk(ctx context.Context, rec *media.ChunkRecord) (*media.ChunkRecord, bool, error)

	// GetChunk returns the record for (sessionID, index), or media.ErrNotFound.
	GetChunk(ctx context.Context, sessionID string, index int) (*media.ChunkRecord, error)

	// ListChunks returns all chunk records of a session in ascending index
	// order.
	ListChunks(ctx context.Context, sessionID string) ([]*media.ChunkRecord, error)
}

// ConfigCatalog stores persisted storage backend configurations.
type ConfigCatalog interface {
	// PutStorageConfig inserts or replaces a configuration. When cfg is a
	// default, any other default in the same tenant scope is cleared in the
	// same transaction.
	PutStorageConfig(ctx context.Context, cfg *media.StorageConfig) error

	// GetStorageConfig returns the configuration with id, or media.ErrNotFound.
	GetStorageConfig(ctx context.Context, id string) (*media.StorageConfig, error)

	// GetDefaultStorageConfig returns the system-wide default (the default
	// with no tenant), or media.ErrNotFound.
	GetDefaultStorageConfig(ctx context.Context) (*media.StorageConfig, error)

	// GetTenantStorageConfig returns the default configuration of a tenant,
	// or media.ErrNotFound.
	GetTenantStorageConfig(ctx context.Context, tenantID string) (*media.StorageConfig, error)

	// ListStorageConfigs returns every configuration ordered by id.
	ListStorageConfigs(ctx context.Context) ([]*media.StorageConfig, error)

	// DeleteStorageConfig removes a configuration.
	// Returns media.ErrNotFound if absent.
	DeleteStorageConfig(ctx context.Context, id string) error
}

// Catalog is the full persisted record set.
type Catalog interface {
	FileCatalog
	SessionCatalog
	ConfigCatalog

	// Close releases the underlying database.
	Close() error
}

// StatusAllowed reports whether current is one of from.
func StatusAllowed(current media.SessionStatus, from []media.SessionStatus) bool {
	return slices.Contains(from, current)
}

// TransitionConflict builds the error returned when a session is not in an
// allowed source state.
func TransitionConflict(id string, current, to media.SessionStatus) error {
	return media.Conflictf(id, "session is %s, cannot move to %s", current, to)
}

// NormalizeLimit maps non-positive limits to max.
func NormalizeLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// MaxListLimit bounds every list call.
const MaxListLimit = 10000
