// Package storage defines the object storage contract every backend driver
// implements, together with the helpers the drivers share.
//
// The dedup engine and the chunked upload coordinator depend only on the
// Backend interface, never on a concrete driver, so they can be exercised
// against the in-memory driver and behave identically on local disk or any
// cloud provider.
//
// Error Contract:
//   - Metadata on a missing key returns media.ErrNotFound
//   - Download on a missing key returns (false, nil), not an error
//   - Delete on a missing key succeeds
//   - Provider failures are wrapped with media.BackendError
package storage

import (
	"context"
	"time"
)

// Backend is the uniform contract for object storage.
//
// Keys are backend-relative, slash separated and never start with "/".
// Implementations must be safe for concurrent use.
type Backend interface {
	// Upload copies the local file at localPath to key, replacing any
	// existing object under the same key.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - localPath: Path of the local file to upload
	//   - key: Destination key
	//   - opts: MIME type and access hints
	//
	// Returns:
	//   - *UploadResult: URL, key and size of the stored object
	//   - error: media.ErrValidation for an invalid key, media.ErrBackend on
	//     provider failure
	Upload(ctx context.Context, localPath, key string, opts UploadOptions) (*UploadResult, error)

	// Download materializes the object at key into localPath, creating
	// parent directories as needed.
	//
	// Returns false (and no error) when the object does not exist.
	Download(ctx context.Context, key, localPath string) (bool, error)

	// Delete removes the object at key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// BatchDelete removes many objects, reporting the outcome per key.
	//
	// Implementations may chunk the work internally (cloud drivers send at
	// most MaxBatchDeleteKeys keys per request). The returned error is only
	// non-nil when the whole call could not be attempted (for example a
	// cancelled context). Per-key failures land in Failed.
	BatchDelete(ctx context.Context, keys []string) (*BatchDeleteResult, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a publicly usable URL for key.
	//
	// A configured CDN domain takes precedence over the native URL.
	// expires > 0 requests a time-limited signed URL where the provider
	// supports signing; drivers without signing return their static URL.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Metadata returns size, MIME type and modification time of key.
	// Returns media.ErrNotFound if the object does not exist.
	Metadata(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns up to limit objects whose key starts with prefix,
	// in lexical key order. limit <= 0 means no limit.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// Copy duplicates src into dst, replacing dst if present.
	// Returns media.ErrNotFound if src does not exist.
	Copy(ctx context.Context, src, dst string) error

	// Move relocates src to dst, replacing dst if present. If the copy step
	// fails the source is left untouched.
	Move(ctx context.Context, src, dst string) error

	// Driver returns the registered driver name ("local", "s3", ...).
	Driver() string
}

// BucketNamer is implemented by drivers that store objects in a named
// bucket. The registry reports it from connection tests.
type BucketNamer interface {
	Bucket() string
}

// Innermost strips decorators (Instrument, RateLimit) and returns the
// driver's own backend.
func Innermost(b Backend) Backend {
	for {
		u, ok := b.(interface{ Unwrap() Backend })
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}

// MaxBatchDeleteKeys is the largest number of keys sent to a provider in a
// single multi-object delete request.
const MaxBatchDeleteKeys = 1000

// ACL is an access-control hint for uploaded objects.
type ACL string

const (
	// ACLDefault leaves the provider/bucket default in place
	ACLDefault ACL = ""

	ACLPrivate    ACL = "private"
	ACLPublicRead ACL = "public-read"
)

// UploadOptions carries optional hints for Upload.
type UploadOptions struct {
	// ContentType is stored as the object's MIME type (detected if empty)
	ContentType string

	// ACL is an access-control hint; drivers without ACLs ignore it
	ACL ACL

	// Metadata is attached as user metadata where the provider supports it
	Metadata map[string]string
}

// UploadResult describes a stored object.
type UploadResult struct {
	// URL is the public URL of the object (CDN-aware)
	URL string

	// Path is the key the object was stored under
	Path string

	// SizeBytes is the stored size
	SizeBytes int64
}

// ObjectInfo describes an object returned by Metadata and List.
type ObjectInfo struct {
	Path       string
	SizeBytes  int64
	MimeType   string
	ModifiedAt time.Time
}

// BatchDeleteResult partitions a batch delete per key.
type BatchDeleteResult struct {
	// Succeeded lists keys deleted (or already absent)
	Succeeded []string

	// Failed maps each key that could not be deleted to its cause
	Failed map[string]error
}

// NewBatchDeleteResult returns an empty result sized for n keys.
func NewBatchDeleteResult(n int) *BatchDeleteResult {
	return &BatchDeleteResult{
		Succeeded: make([]string, 0, n),
		Failed:    make(map[string]error),
	}
}

// Fail records a per-key failure.
func (r *BatchDeleteResult) Fail(key string, err error) {
	r.Failed[key] = err
}

// Succeed records a per-key success.
func (r *BatchDeleteResult) Succeed(keys ...string) {
	r.Succeeded = append(r.Succeeded, keys...)
}

// ChunkKeys splits keys into slices of at most size entries.
func ChunkKeys(keys []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchDeleteKeys
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}
