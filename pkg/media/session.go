package media

import (
	"fmt"
	"time"
)

// SessionStatus is the state of a chunked upload session.
//
// Transitions: uploading → merging → {completed | failed}, and failed →
// merging when a caller retries the merge.
type SessionStatus string

const (
	SessionUploading SessionStatus = "uploading"
	SessionMerging   SessionStatus = "merging"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ParseSessionStatus converts a persisted status string.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case SessionUploading, SessionMerging, SessionCompleted, SessionFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// ChunkStatus is the state of one received chunk.
type ChunkStatus string

const (
	// ChunkUploaded means the bytes were persisted without a caller-supplied hash
	ChunkUploaded ChunkStatus = "uploaded"

	// ChunkVerified means the bytes matched the caller-supplied hash
	ChunkVerified ChunkStatus = "verified"
)

// ChunkUploadSession tracks one in-progress chunked upload.
type ChunkUploadSession struct {
	// ID is the opaque caller-facing upload id
	ID string `json:"id"`

	FileName     string `json:"file_name"`
	DeclaredSize int64  `json:"declared_size"`
	ChunkSize    int64  `json:"chunk_size"`
	TotalChunks  int    `json:"total_chunks"`

	// UploadedChunks is a progress counter, incremented once per index on
	// first successful write. Completeness is decided from the chunk records,
	// never from this counter.
	UploadedChunks int `json:"uploaded_chunks"`

	Status        SessionStatus `json:"status"`
	TempDirectory string        `json:"temp_directory"`
	ExpiresAt     time.Time     `json:"expires_at"`

	// Routing hints forwarded to the dedup engine at merge time
	TenantID        string `json:"tenant_id,omitempty"`
	TargetBackendID string `json:"target_backend_id,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`

	// FileID links a completed session to its FileRecord
	FileID string `json:"file_id,omitempty"`

	// ErrorMessage is retained when a merge fails
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the session.
func (s *ChunkUploadSession) Clone() *ChunkUploadSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Expired reports whether the session is past its expiry at now.
func (s *ChunkUploadSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Reclaimable reports whether an expiry sweep may remove the session.
// Completed sessions are never reclaimed.
func (s *ChunkUploadSession) Reclaimable(now time.Time) bool {
	return s.Status != SessionCompleted && s.Expired(now)
}

// TotalChunksFor returns ceil(declaredSize / chunkSize).
func TotalChunksFor(declaredSize, chunkSize int64) int {
	if declaredSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((declaredSize + chunkSize - 1) / chunkSize)
}

// ChunkRecord describes one received chunk, unique on (SessionID, Index).
type ChunkRecord struct {
	SessionID  string      `json:"session_id"`
	Index      int         `json:"index"`
	SizeBytes  int64       `json:"size_bytes"`
	Hash       string      `json:"hash,omitempty"`
	StoredPath string      `json:"stored_path"`
	Status     ChunkStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Clone returns a copy of the chunk record.
func (c *ChunkRecord) Clone() *ChunkRecord {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
