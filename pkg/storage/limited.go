package storage

import (
	"context"
	"time"

	"github.com/marmos91/dittomedia/internal/ratelimiter"
)

// limited decorates a Backend so each provider call waits for a token.
type limited struct {
	Backend
	limiter *ratelimiter.RateLimiter
}

// RateLimit wraps b with a token bucket of requestsPerSecond and burst.
// A non-positive rate returns b unchanged.
func RateLimit(b Backend, requestsPerSecond float64, burst int) Backend {
	if requestsPerSecond <= 0 {
		return b
	}
	return &limited{Backend: b, limiter: ratelimiter.New(requestsPerSecond, burst)}
}

// Unwrap returns the decorated backend.
func (l *limited) Unwrap() Backend {
	return l.Backend
}

func (l *limited) Upload(ctx context.Context, localPath, key string, opts UploadOptions) (*UploadResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Backend.Upload(ctx, localPath, key, opts)
}

func (l *limited) Download(ctx context.Context, key, localPath string) (bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return l.Backend.Download(ctx, key, localPath)
}

func (l *limited) Delete(ctx context.Context, key string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.Backend.Delete(ctx, key)
}

// BatchDelete consumes one token per provider round trip.
func (l *limited) BatchDelete(ctx context.Context, keys []string) (*BatchDeleteResult, error) {
	if err := l.limiter.WaitN(ctx, len(ChunkKeys(keys, MaxBatchDeleteKeys))); err != nil {
		return nil, err
	}
	return l.Backend.BatchDelete(ctx, keys)
}

func (l *limited) Exists(ctx context.Context, key string) (bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return l.Backend.Exists(ctx, key)
}

func (l *limited) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.Backend.URL(ctx, key, expires)
}

func (l *limited) Metadata(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Backend.Metadata(ctx, key)
}

func (l *limited) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Backend.List(ctx, prefix, limit)
}

func (l *limited) Copy(ctx context.Context, src, dst string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.Backend.Copy(ctx, src, dst)
}

// Move is a copy plus a delete on most providers, so it costs two tokens.
func (l *limited) Move(ctx context.Context, src, dst string) error {
	if err := l.limiter.WaitN(ctx, 2); err != nil {
		return err
	}
	return l.Backend.Move(ctx, src, dst)
}
