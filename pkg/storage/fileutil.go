package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// OpenUpload opens a local file for upload and returns it with its size.
// A missing file is a media.ErrNotFound.
func OpenUpload(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, notFoundLocal(localPath)
		}
		return nil, 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("upload source %s is a directory", localPath)
	}
	return f, info.Size(), nil
}

// WriteFileAtomic streams r into localPath through a sibling temp file and
// renames it into place, creating parent directories as needed. A failed
// write never leaves a truncated file at localPath.
func WriteFileAtomic(localPath string, r io.Reader) (int64, error) {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".dl-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("close %s: %w", localPath, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		cleanup()
		return 0, fmt.Errorf("rename into %s: %w", localPath, err)
	}
	return n, nil
}

// PrepareDownload ensures the parent directory of localPath exists.
func PrepareDownload(localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", localPath, err)
	}
	return nil
}
