//go:build integration
// +build integration

package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/pkg/storage"
	storagetesting "github.com/marmos91/dittomedia/pkg/storage/testing"
	"github.com/stretchr/testify/require"
)

// TestStore_Integration runs the backend conformance suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/storage/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestStore_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg := Config{
		Region:          "us-east-1",
		Bucket:          "dittomedia-test-" + uuid.NewString()[:8],
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		PartSize:        minPartSize,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
	require.NoError(t, err, "failed to create test bucket")

	t.Cleanup(func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(cfg.Bucket)})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(cfg.Bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(cfg.Bucket)})
	})

	suite := &storagetesting.BackendTestSuite{
		NewBackend: func(t *testing.T) storage.Backend {
			prefixed := cfg
			prefixed.KeyPrefix = "test-" + uuid.NewString()[:8]
			store, err := NewWithClient(ctx, prefixed, client)
			require.NoError(t, err)
			return store
		},
		SignsURLs: true,
	}
	suite.Run(t)
}
