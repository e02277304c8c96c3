package registry

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// ConnectionResult reports the outcome of TestConnection.
type ConnectionResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
	Bucket   string `json:"bucket,omitempty"`
}

// TestConnection builds a throwaway backend for driver and performs a
// listing of at most one object to validate credentials and reachability.
// Nothing is written and the instance is not cached.
//
// Failures are reported in the result rather than returned, so callers can
// display them directly.
func (r *Registry) TestConnection(ctx context.Context, driver string, options map[string]any) *ConnectionResult {
	result := &ConnectionResult{Provider: driver}

	b, err := r.build(ctx, &media.StorageConfig{
		ID:      "connection-test",
		Name:    "connection test",
		Driver:  driver,
		Options: options,
	})
	if err != nil {
		result.Message = err.Error()
		return result
	}
	defer func() {
		if c, ok := storage.Innermost(b).(io.Closer); ok {
			_ = c.Close()
		}
	}()

	if named, ok := storage.Innermost(b).(storage.BucketNamer); ok {
		result.Bucket = named.Bucket()
	}

	if _, err := b.List(ctx, "", 1); err != nil {
		result.Message = fmt.Sprintf("list failed: %v", err)
		return result
	}

	result.Success = true
	result.Message = "connection ok"
	return result
}
