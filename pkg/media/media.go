// Package media defines the domain model shared by the storage backends, the
// catalog, the deduplication engine and the chunked upload coordinator.
//
// A FileRecord is the canonical stored object: one content hash maps to one
// physical copy in exactly one storage backend, shared by any number of
// logical owners tracked through RefCount.
package media

import (
	"strings"
	"time"
)

// HashAlgorithm is the content hash used system-wide for FileRecord identity.
const HashAlgorithm = "sha256"

// Kind is the coarse category of a stored file, derived from its MIME type.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindOther    Kind = "other"
)

// documentTypes lists non text/* MIME types classified as documents.
var documentTypes = map[string]bool{}

func init() {
	for _, mt := range []string{
		"application/pdf",
		"application/msword",
		"application/rtf",
		"application/vnd.ms-excel",
		"application/vnd.ms-powerpoint",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	} {
		documentTypes[mt] = true
	}
}

// KindFromMIME derives a Kind from a MIME type. Parameters such as
// "; charset=utf-8" are ignored.
func KindFromMIME(mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "text/"), documentTypes[mt]:
		return KindDocument
	default:
		return KindOther
	}
}

// FileRecord is a catalog entry describing one physical copy of some bytes.
//
// Business logic should only depend on ID, URL, SizeBytes and MimeType.
// RefCount and StoragePath are internal to the storage subsystem.
type FileRecord struct {
	// ID is the opaque identity, immutable once created
	ID string `json:"id"`

	// ContentHash is the hex SHA-256 digest of the bytes (unique system-wide)
	ContentHash string `json:"content_hash"`

	// StoragePath is the backend-relative key holding the bytes
	StoragePath string `json:"storage_path"`

	// StorageBackendID is the StorageConfig id owning the bytes.
	// Empty means the system default backend.
	StorageBackendID string `json:"storage_backend_id,omitempty"`

	// URL is the backend URL reported at upload time
	URL string `json:"url"`

	// OriginalName is the client-supplied file name (informational)
	OriginalName string `json:"original_name,omitempty"`

	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Kind      Kind   `json:"kind"`

	// Width and Height are set for images whose dimensions could be probed
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	// RefCount is the number of logical owners. Never negative.
	RefCount int64 `json:"ref_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate catalog-owned state.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Width != nil {
		w := *r.Width
		c.Width = &w
	}
	if r.Height != nil {
		h := *r.Height
		c.Height = &h
	}
	return &c
}

// PendingDeletion is a journal entry for bytes whose catalog row was claimed
// for deletion but whose physical deletion has not been confirmed yet.
type PendingDeletion struct {
	FileID           string    `json:"file_id"`
	StorageBackendID string    `json:"storage_backend_id,omitempty"`
	StoragePath      string    `json:"storage_path"`
	ContentHash      string    `json:"content_hash"`
	QueuedAt         time.Time `json:"queued_at"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error,omitempty"`
}

// PendingDeletionFor builds the journal entry for a claimed record.
func PendingDeletionFor(rec *FileRecord, now time.Time) *PendingDeletion {
	return &PendingDeletion{
		FileID:           rec.ID,
		StorageBackendID: rec.StorageBackendID,
		StoragePath:      rec.StoragePath,
		ContentHash:      rec.ContentHash,
		QueuedAt:         now,
	}
}
