//go:build integration
// +build integration

package minio

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/pkg/storage"
	storagetesting "github.com/marmos91/dittomedia/pkg/storage/testing"
	"github.com/stretchr/testify/require"
)

// TestStore_Integration runs the backend conformance suite against MinIO.
//
//	docker run --rm -p 9000:9000 minio/minio server /data
//	MINIO_ENDPOINT=localhost:9000 go test -tags=integration ./pkg/storage/minio/...
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	bucket := "dittomedia-test-" + uuid.NewString()[:8]

	suite := &storagetesting.BackendTestSuite{
		NewBackend: func(t *testing.T) storage.Backend {
			store, err := New(context.Background(), Config{
				Endpoint:     endpoint,
				AccessKey:    accessKey,
				SecretKey:    secretKey,
				Bucket:       bucket,
				KeyPrefix:    "test-" + uuid.NewString()[:8],
				CreateBucket: true,
			})
			require.NoError(t, err)
			return store
		},
		SignsURLs: true,
	}
	suite.Run(t)
}
