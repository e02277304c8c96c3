package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// BatchDelete removes keys with DeleteObjects, at most 1000 per request.
//
// Invalid keys fail locally without reaching the provider. A failed request
// fails every key of its chunk; per-key errors reported by S3 fail only that
// key. Keys already absent count as deleted.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - keys: Storage keys to delete
//
// Returns:
//   - *storage.BatchDeleteResult: Per-key outcome
//   - error: Only for context cancellation before any work
func (s *Store) BatchDelete(ctx context.Context, keys []string) (*storage.BatchDeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := storage.NewBatchDeleteResult(len(keys))

	valid := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := storage.ValidateKey(key); err != nil {
			result.Fail(key, err)
			continue
		}
		valid = append(valid, key)
	}

	for _, batch := range storage.ChunkKeys(valid, storage.MaxBatchDeleteKeys) {
		if err := ctx.Err(); err != nil {
			for _, key := range batch {
				result.Fail(key, err)
			}
			continue
		}
		s.deleteChunk(ctx, batch, result)
	}
	return result, nil
}

func (s *Store) deleteChunk(ctx context.Context, batch []string, result *storage.BatchDeleteResult) {
	// Provider keys map back to caller keys for error attribution
	byObjectKey := make(map[string]string, len(batch))
	objects := make([]types.ObjectIdentifier, len(batch))
	for i, key := range batch {
		objectKey := s.objectKey(key)
		byObjectKey[objectKey] = key
		objects[i] = types.ObjectIdentifier{Key: aws.String(objectKey)}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		for _, key := range batch {
			result.Fail(key, media.BackendError(DriverName, storage.OpBatchDelete, key, err))
		}
		return
	}

	failed := make(map[string]bool, len(out.Errors))
	for _, deleteErr := range out.Errors {
		key, ok := byObjectKey[aws.ToString(deleteErr.Key)]
		if !ok {
			continue
		}
		if aws.ToString(deleteErr.Code) == "NoSuchKey" {
			continue
		}
		failed[key] = true
		cause := fmt.Errorf("%s: %s", aws.ToString(deleteErr.Code), aws.ToString(deleteErr.Message))
		result.Fail(key, media.BackendError(DriverName, storage.OpBatchDelete, key, cause))
	}

	for _, key := range batch {
		if !failed[key] {
			result.Succeed(key)
		}
	}
}
