package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// DriverName is the registry name of this driver.
const DriverName = "local"

// DefaultBaseURL is the static URL prefix objects are served under when no
// base URL is configured.
const DefaultBaseURL = "/uploads"

// Config configures the local filesystem driver.
type Config struct {
	// Root is the directory objects are stored under
	Root string `mapstructure:"root" validate:"required"`

	// BaseURL is the static URL prefix the root is served under
	BaseURL string `mapstructure:"base_url"`

	// CDNDomain is preferred over BaseURL when set
	CDNDomain string `mapstructure:"cdn_domain"`
}

// Store implements storage.Backend on the local filesystem.
//
// Objects are stored as regular files under Root, using the key as the
// relative path. Writes go through a temp file in the destination directory
// and a rename, so readers never observe partially written objects and an
// upload over an existing key replaces it atomically.
//
// Local storage has no signing concept: URL always returns the static URL
// (CDN domain or base URL) regardless of the requested expiry.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writers to the same key race at the
// rename and the last rename wins with a complete file.
type Store struct {
	root string
	urls storage.URLBuilder
}

var _ storage.Backend = (*Store)(nil)

// New creates a local filesystem store.
//
// This initializes the store by creating the root directory if it doesn't
// exist.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Root directory and URL settings
//
// Returns:
//   - *Store: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, media.Validation("local storage root is required", "")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Store{
		root: root,
		urls: storage.URLBuilder{CDNDomain: cfg.CDNDomain, BaseURL: baseURL},
	}, nil
}

// Driver returns "local".
func (s *Store) Driver() string { return DriverName }

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// filePath maps a key to its path under root, rejecting keys that would
// resolve outside of it.
func (s *Store) filePath(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", media.Validation("storage key escapes its root", key)
	}
	return p, nil
}

func (s *Store) Upload(ctx context.Context, localPath, key string, opts storage.UploadOptions) (*storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst, err := s.filePath(key)
	if err != nil {
		return nil, err
	}

	src, size, err := storage.OpenUpload(localPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	if same, _ := sameFile(localPath, dst); !same {
		if _, err := storage.WriteFileAtomic(dst, src); err != nil {
			return nil, err
		}
	}

	return &storage.UploadResult{
		URL:       s.urls.Public(key),
		Path:      key,
		SizeBytes: size,
	}, nil
}

func (s *Store) Download(ctx context.Context, key, localPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	src, err := s.filePath(key)
	if err != nil {
		return false, err
	}

	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", key, err)
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return false, nil
	}

	if _, err := storage.WriteFileAtomic(localPath, f); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the file for key. Missing files are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.filePath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// BatchDelete deletes each key independently.
func (s *Store) BatchDelete(ctx context.Context, keys []string) (*storage.BatchDeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := storage.NewBatchDeleteResult(len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			result.Fail(key, err)
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			result.Fail(key, err)
			continue
		}
		result.Succeed(key)
	}
	return result, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p, err := s.filePath(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// URL returns the static URL for key. expires is ignored.
func (s *Store) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.filePath(key); err != nil {
		return "", err
	}
	return s.urls.Public(key), nil
}

func (s *Store) Metadata(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.filePath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, media.NotFound("object not found", key)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if info.IsDir() {
		return nil, media.NotFound("object not found", key)
	}

	return &storage.ObjectInfo{
		Path:       key,
		SizeBytes:  info.Size(),
		MimeType:   media.DetectMIME(p, key),
		ModifiedAt: info.ModTime(),
	}, nil
}

// List walks the root and returns files whose key starts with prefix.
// Temp files left by interrupted writes are skipped.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []storage.ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil || rel == "." {
			return nil
		}
		key := filepath.ToSlash(rel)

		if d.IsDir() {
			if !couldContain(key+"/", prefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".dl-") || !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, storage.ObjectInfo{
			Path:       key,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath, err := s.filePath(src)
	if err != nil {
		return err
	}
	dstPath, err := s.filePath(dst)
	if err != nil {
		return err
	}
	if srcPath == dstPath {
		return nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return media.NotFound("object not found", src)
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := storage.WriteFileAtomic(dstPath, f); err != nil {
		return err
	}
	return nil
}

// Move uses a native rename, falling back to copy and delete when the
// rename crosses devices.
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath, err := s.filePath(src)
	if err != nil {
		return err
	}
	dstPath, err := s.filePath(dst)
	if err != nil {
		return err
	}
	if srcPath == dstPath {
		return nil
	}

	if _, err := os.Stat(srcPath); err != nil {
		if os.IsNotExist(err) {
			return media.NotFound("object not found", src)
		}
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := storage.PrepareDownload(dstPath); err != nil {
		return err
	}

	err = os.Rename(srcPath, dstPath)
	if err == nil {
		return nil
	}

	if errors.Is(err, syscall.EXDEV) {
		return storage.CopyThenDelete(ctx, s, src, dst)
	}
	return fmt.Errorf("move %s -> %s: %w", src, dst, err)
}

// couldContain reports whether a directory (given with trailing slash) can
// hold keys starting with prefix.
func couldContain(dir, prefix string) bool {
	return strings.HasPrefix(dir, prefix) || strings.HasPrefix(prefix, dir)
}

func sameFile(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}
