// Package s3 implements storage.Backend on Amazon S3 or any S3-compatible
// service reachable through aws-sdk-go-v2 (Localstack, COS-style gateways).
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// DriverName is the registry name of this driver.
const DriverName = "s3"

const (
	// DefaultPartSize is the multipart threshold and part size
	DefaultPartSize = 10 * 1024 * 1024

	minPartSize = 5 * 1024 * 1024
	maxPartSize = 5 * 1024 * 1024 * 1024

	defaultMaxRetries = 10
)

// Config configures the S3 driver.
type Config struct {
	Region          string `mapstructure:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// ForcePathStyle is implied when Endpoint is set
	ForcePathStyle bool `mapstructure:"force_path_style"`

	MaxRetries int   `mapstructure:"max_retries" validate:"gte=0"`
	PartSize   int64 `mapstructure:"part_size" validate:"gte=0"`

	// BaseURL overrides the native object URL (e.g. a website endpoint)
	BaseURL string `mapstructure:"base_url"`

	// CDNDomain is preferred over every other URL form when set
	CDNDomain string `mapstructure:"cdn_domain"`
}

// Store implements storage.Backend using Amazon S3.
//
// Keys are stored under the optional KeyPrefix, so one bucket can be shared
// by several configs. Files above PartSize are sent as multipart uploads
// and aborted on failure so no orphaned parts are billed.
//
// Thread Safety:
// Safe for concurrent use; the underlying s3.Client is.
type Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
	partSize  int64
	urls      storage.URLBuilder
}

var (
	_ storage.Backend     = (*Store)(nil)
	_ storage.BucketNamer = (*Store)(nil)
)

// NewClient builds an s3.Client from cfg.
//
// Static credentials are used when both keys are set, otherwise the default
// AWS credential chain applies. A custom endpoint (MinIO, Localstack, COS)
// switches the client to path-style addressing.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// New builds a client from cfg and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(ctx, cfg, client)
}

// NewWithClient creates a store around an existing client.
//
// The bucket must already exist; this function does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Bucket, prefix and URL settings
//   - client: Configured S3 client
//
// Returns:
//   - *Store: Initialized store
//   - error: Validation error for bad settings, backend error if the bucket
//     is not reachable
func NewWithClient(ctx context.Context, cfg Config, client *s3.Client) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, media.Validation("S3 client is required", "")
	}
	if cfg.Bucket == "" {
		return nil, media.Validation("bucket name is required", "")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < minPartSize || partSize > maxPartSize {
		return nil, media.Validationf("", "part size must be between 5MB and 5GB, got %d bytes", partSize)
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	if err != nil {
		return nil, media.BackendError(DriverName, "head_bucket", cfg.Bucket, err)
	}

	return &Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		partSize:  partSize,
		urls: storage.URLBuilder{
			CDNDomain: cfg.CDNDomain,
			BaseURL:   nativeBaseURL(cfg),
		},
	}, nil
}

// Driver returns "s3".
func (s *Store) Driver() string { return DriverName }

// Bucket returns the configured bucket.
func (s *Store) Bucket() string { return s.bucket }

// objectKey maps a storage key to the provider key under the prefix.
func (s *Store) objectKey(key string) string {
	return storage.JoinPrefix(s.keyPrefix, key)
}

// nativeBaseURL is the unsigned URL prefix objects are reachable under.
func nativeBaseURL(cfg Config) string {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if cfg.BaseURL != "" {
		if prefix == "" {
			return cfg.BaseURL
		}
		return storage.JoinURL(cfg.BaseURL, prefix)
	}

	var base string
	switch {
	case cfg.Endpoint != "":
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	case cfg.ForcePathStyle:
		base = fmt.Sprintf("https://s3.%s.amazonaws.com/%s", cfg.Region, cfg.Bucket)
	default:
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	if prefix != "" {
		return storage.JoinURL(base, prefix)
	}
	return base
}

// copySource renders the URL-encoded "bucket/key" CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// isNotFound reports whether err is S3's way of saying the object is absent.
// GetObject and CopyObject return NoSuchKey; HeadObject has no body, so it
// only carries a bare 404 "NotFound" code.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isNoSuchUpload reports whether an abort targeted an already gone upload.
func isNoSuchUpload(err error) bool {
	var noSuchUpload *types.NoSuchUpload
	return errors.As(err, &noSuchUpload)
}
