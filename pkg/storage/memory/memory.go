package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// DriverName is the registry name of this driver.
const DriverName = "memory"

// Store implements storage.Backend using in-memory storage.
//
// This implementation stores all objects in a map. It's designed for:
//   - Testing the dedup engine and upload coordinator without a provider
//   - Development setups
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on restart
//   - Thread-safe: Protected by RWMutex
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on the way
// in and out so callers never share buffers with the store.
//
// Fault Injection:
// FailNext makes the next calls of an operation fail with a backend error,
// which lets tests exercise partial-failure paths of higher layers.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	urls    storage.URLBuilder
	bucket  string
	faults  map[string]int
	now     func() time.Time
}

type object struct {
	data        []byte
	contentType string
	modifiedAt  time.Time
}

// Config configures the in-memory driver.
type Config struct {
	// Bucket is a cosmetic name reported by connection tests
	Bucket string `mapstructure:"bucket"`

	// BaseURL prefixes object URLs (default "memory://<bucket>")
	BaseURL string `mapstructure:"base_url"`

	// CDNDomain is preferred over BaseURL when set
	CDNDomain string `mapstructure:"cdn_domain"`
}

// New creates an empty in-memory store.
func New(cfg Config) *Store {
	if cfg.Bucket == "" {
		cfg.Bucket = "memory"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "memory://" + cfg.Bucket
	}
	return &Store{
		objects: make(map[string]*object),
		urls:    storage.URLBuilder{CDNDomain: cfg.CDNDomain, BaseURL: cfg.BaseURL},
		bucket:  cfg.Bucket,
		faults:  make(map[string]int),
		now:     time.Now,
	}
}

var _ storage.Backend = (*Store)(nil)

// Driver returns "memory".
func (s *Store) Driver() string { return DriverName }

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// FailNext makes the next n calls of op (one of the storage.Op* names) fail.
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// fault consumes an injected failure for op. Caller holds s.mu for writing.
func (s *Store) fault(op, key string) error {
	if s.faults[op] <= 0 {
		return nil
	}
	s.faults[op]--
	return media.BackendError(DriverName, op, key, fmt.Errorf("injected failure"))
}

func (s *Store) Upload(ctx context.Context, localPath, key string, opts storage.UploadOptions) (*storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, media.NotFound("local file not found", localPath)
		}
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = media.DetectMIME(localPath, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(storage.OpUpload, key); err != nil {
		return nil, err
	}

	s.objects[key] = &object{data: data, contentType: contentType, modifiedAt: s.now()}

	return &storage.UploadResult{
		URL:       s.urls.Public(key),
		Path:      key,
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *Store) Download(ctx context.Context, key, localPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	if err := s.fault(storage.OpDownload, key); err != nil {
		s.mu.Unlock()
		return false, err
	}
	obj, ok := s.objects[key]
	var data []byte
	if ok {
		data = bytes.Clone(obj.data)
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	if _, err := storage.WriteFileAtomic(localPath, bytes.NewReader(data)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(storage.OpDelete, key); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) BatchDelete(ctx context.Context, keys []string) (*storage.BatchDeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := storage.NewBatchDeleteResult(len(keys))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if err := storage.ValidateKey(key); err != nil {
			result.Fail(key, err)
			continue
		}
		if err := s.fault(storage.OpDelete, key); err != nil {
			result.Fail(key, err)
			continue
		}
		delete(s.objects, key)
		result.Succeed(key)
	}
	return result, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(storage.OpExists, key); err != nil {
		return false, err
	}
	_, ok := s.objects[key]
	return ok, nil
}

// URL returns the static URL; the memory driver has no signing.
func (s *Store) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return s.urls.Public(key), nil
}

func (s *Store) Metadata(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, media.NotFound("object not found", key)
	}
	return &storage.ObjectInfo{
		Path:       key,
		SizeBytes:  int64(len(obj.data)),
		MimeType:   obj.contentType,
		ModifiedAt: obj.modifiedAt,
	}, nil
}

func (s *Store) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]storage.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		obj := s.objects[k]
		out = append(out, storage.ObjectInfo{
			Path:       k,
			SizeBytes:  int64(len(obj.data)),
			MimeType:   obj.contentType,
			ModifiedAt: obj.modifiedAt,
		})
	}
	return out, nil
}

func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(src); err != nil {
		return err
	}
	if err := storage.ValidateKey(dst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(storage.OpCopy, src); err != nil {
		return err
	}
	obj, ok := s.objects[src]
	if !ok {
		return media.NotFound("object not found", src)
	}
	s.objects[dst] = &object{
		data:        bytes.Clone(obj.data),
		contentType: obj.contentType,
		modifiedAt:  s.now(),
	}
	return nil
}

// Move renames under the lock, which is atomic for this driver.
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(src); err != nil {
		return err
	}
	if err := storage.ValidateKey(dst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault(storage.OpMove, src); err != nil {
		return err
	}
	obj, ok := s.objects[src]
	if !ok {
		return media.NotFound("object not found", src)
	}
	if src == dst {
		return nil
	}
	s.objects[dst] = obj
	delete(s.objects, src)
	return nil
}
