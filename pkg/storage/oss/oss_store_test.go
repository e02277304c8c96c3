package oss

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	storagetesting "github.com/marmos91/dittomedia/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeConfig(server *storagetesting.S3Server) Config {
	return Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "media",
		AccessKeyID:     "test",
		AccessKeySecret: "test",
		ForcePathStyle:  true,
	}
}

// TestStore runs the conformance suite against the in-process S3 fake.
func TestStore(t *testing.T) {
	server := storagetesting.NewS3Server(t, "media")

	suite := &storagetesting.BackendTestSuite{
		NewBackend: func(t *testing.T) storage.Backend {
			cfg := fakeConfig(server)
			cfg.KeyPrefix = "test-" + uuid.NewString()[:8]
			store, err := New(context.Background(), cfg)
			require.NoError(t, err)
			return store
		},
		SignsURLs: true,
	}
	suite.Run(t)
}

func TestNew_MissingBucket(t *testing.T) {
	server := storagetesting.NewS3Server(t)

	_, err := New(context.Background(), fakeConfig(server))
	assert.ErrorIs(t, err, media.ErrBackend)
}
