package s3

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "virtual hosted",
			cfg:  Config{Region: "eu-west-1", Bucket: "media"},
			want: "https://media.s3.eu-west-1.amazonaws.com",
		},
		{
			name: "path style",
			cfg:  Config{Region: "eu-west-1", Bucket: "media", ForcePathStyle: true},
			want: "https://s3.eu-west-1.amazonaws.com/media",
		},
		{
			name: "custom endpoint",
			cfg:  Config{Region: "us-east-1", Bucket: "media", Endpoint: "http://localhost:4566/"},
			want: "http://localhost:4566/media",
		},
		{
			name: "key prefix",
			cfg:  Config{Region: "us-east-1", Bucket: "media", KeyPrefix: "/tenant-a/"},
			want: "https://media.s3.us-east-1.amazonaws.com/tenant-a",
		},
		{
			name: "base url override",
			cfg:  Config{Region: "us-east-1", Bucket: "media", BaseURL: "https://static.example.com"},
			want: "https://static.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nativeBaseURL(tt.cfg))
		})
	}
}

func TestCopySourceEscapesSegments(t *testing.T) {
	assert.Equal(t, "media/2026/10/a%20b.png", copySource("media", "2026/10/a b.png"))
	assert.Equal(t, "media/a%3Bb.png", copySource("media", "a;b.png"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(fmt.Errorf("boom")))
}

func TestNewWithClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewWithClient(ctx, Config{Bucket: "b"}, nil)
	assert.ErrorIs(t, err, media.ErrValidation)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewWithClient(cancelled, Config{Bucket: "b"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestListPrefix(t *testing.T) {
	s := &Store{}
	assert.Equal(t, "2026/", s.listPrefix("2026/"))

	s.keyPrefix = "tenant"
	assert.Equal(t, "tenant/2026/", s.listPrefix("2026/"))
	assert.Equal(t, "tenant/", s.listPrefix(""))
}
