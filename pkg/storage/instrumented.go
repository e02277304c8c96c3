package storage

import (
	"context"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
)

// Operation names reported to Metrics.
const (
	OpUpload      = "upload"
	OpDownload    = "download"
	OpDelete      = "delete"
	OpBatchDelete = "batch_delete"
	OpExists      = "exists"
	OpURL         = "url"
	OpMetadata    = "metadata"
	OpList        = "list"
	OpCopy        = "copy"
	OpMove        = "move"
)

// instrumented decorates a Backend with metrics and debug logging.
type instrumented struct {
	Backend
	metrics Metrics
}

// Instrument wraps b so every call is timed and reported to m.
func Instrument(b Backend, m Metrics) Backend {
	if m == nil {
		m = noopMetrics{}
	}
	return &instrumented{Backend: b, metrics: m}
}

// Unwrap returns the decorated backend.
func (i *instrumented) Unwrap() Backend {
	return i.Backend
}

func (i *instrumented) observe(op, key string, start time.Time, err error) {
	d := time.Since(start)
	i.metrics.ObserveOperation(i.Driver(), op, d, err)
	if err != nil {
		logger.Debug("storage %s %s %q failed after %s: %v", i.Driver(), op, key, d, err)
	}
}

func (i *instrumented) Upload(ctx context.Context, localPath, key string, opts UploadOptions) (*UploadResult, error) {
	start := time.Now()
	res, err := i.Backend.Upload(ctx, localPath, key, opts)
	i.observe(OpUpload, key, start, err)
	if err == nil {
		i.metrics.RecordBytes(i.Driver(), OpUpload, res.SizeBytes)
	}
	return res, err
}

func (i *instrumented) Download(ctx context.Context, key, localPath string) (bool, error) {
	start := time.Now()
	found, err := i.Backend.Download(ctx, key, localPath)
	i.observe(OpDownload, key, start, err)
	if err == nil && found {
		if info, statErr := statSize(localPath); statErr == nil {
			i.metrics.RecordBytes(i.Driver(), OpDownload, info)
		}
	}
	return found, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Backend.Delete(ctx, key)
	i.observe(OpDelete, key, start, err)
	return err
}

func (i *instrumented) BatchDelete(ctx context.Context, keys []string) (*BatchDeleteResult, error) {
	start := time.Now()
	res, err := i.Backend.BatchDelete(ctx, keys)
	i.observe(OpBatchDelete, "", start, err)
	return res, err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.Backend.Exists(ctx, key)
	i.observe(OpExists, key, start, err)
	return ok, err
}

func (i *instrumented) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	start := time.Now()
	u, err := i.Backend.URL(ctx, key, expires)
	i.observe(OpURL, key, start, err)
	return u, err
}

func (i *instrumented) Metadata(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := i.Backend.Metadata(ctx, key)
	i.observe(OpMetadata, key, start, err)
	return info, err
}

func (i *instrumented) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	start := time.Now()
	out, err := i.Backend.List(ctx, prefix, limit)
	i.observe(OpList, prefix, start, err)
	return out, err
}

func (i *instrumented) Copy(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := i.Backend.Copy(ctx, src, dst)
	i.observe(OpCopy, src, start, err)
	return err
}

func (i *instrumented) Move(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := i.Backend.Move(ctx, src, dst)
	i.observe(OpMove, src, start, err)
	return err
}
