// Package minio implements storage.Backend on MinIO (or any S3 API) through
// minio-go.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DriverName is the registry name of this driver.
const DriverName = "minio"

// Config configures the MinIO driver.
type Config struct {
	// Endpoint is host[:port] without scheme
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// CreateBucket makes the bucket on startup when it is missing
	CreateBucket bool `mapstructure:"create_bucket"`

	BaseURL   string `mapstructure:"base_url"`
	CDNDomain string `mapstructure:"cdn_domain"`
}

// Store implements storage.Backend using minio-go.
type Store struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
	urls      storage.URLBuilder
}

var (
	_ storage.Backend     = (*Store)(nil)
	_ storage.BucketNamer = (*Store)(nil)
)

// New creates a MinIO client and checks (or creates) the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, media.Validation("minio endpoint and bucket are required", "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, media.BackendError(DriverName, "bucket_exists", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, media.BackendError(DriverName, "bucket_exists", cfg.Bucket, fmt.Errorf("bucket %s does not exist", cfg.Bucket))
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, media.BackendError(DriverName, "make_bucket", cfg.Bucket, err)
		}
		logger.Info("minio: created bucket %s", cfg.Bucket)
	}

	keyPrefix := strings.Trim(cfg.KeyPrefix, "/")
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = client.EndpointURL().String() + "/" + cfg.Bucket
		if keyPrefix != "" {
			baseURL = storage.JoinURL(baseURL, keyPrefix)
		}
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefix,
		urls:      storage.URLBuilder{CDNDomain: cfg.CDNDomain, BaseURL: baseURL},
	}, nil
}

// Driver returns "minio".
func (s *Store) Driver() string { return DriverName }

// Bucket returns the configured bucket.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) objectKey(key string) string {
	return storage.JoinPrefix(s.keyPrefix, key)
}

// isNotFound matches the S3 error codes minio-go surfaces for absent objects.
func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) Upload(ctx context.Context, localPath, key string, opts storage.UploadOptions) (*storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	f, size, err := storage.OpenUpload(localPath)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = media.DetectMIME(localPath, key)
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: opts.Metadata,
	}
	if opts.ACL != storage.ACLDefault {
		putOpts.UserMetadata = withACL(opts.Metadata, opts.ACL)
	}

	info, err := s.client.FPutObject(ctx, s.bucket, s.objectKey(key), localPath, putOpts)
	if err != nil {
		return nil, media.BackendError(DriverName, storage.OpUpload, key, err)
	}
	if info.Size > 0 {
		size = info.Size
	}

	return &storage.UploadResult{
		URL:       s.urls.Public(key),
		Path:      key,
		SizeBytes: size,
	}, nil
}

// withACL adds the canned ACL header; minio-go forwards x-amz-* user
// metadata keys verbatim.
func withACL(meta map[string]string, acl storage.ACL) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["x-amz-acl"] = string(acl)
	return out
}

func (s *Store) Download(ctx context.Context, key, localPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}
	if err := storage.PrepareDownload(localPath); err != nil {
		return false, err
	}

	err := s.client.FGetObject(ctx, s.bucket, s.objectKey(key), localPath, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, media.BackendError(DriverName, storage.OpDownload, key, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return media.BackendError(DriverName, storage.OpDelete, key, err)
	}
	return nil
}

// BatchDelete streams keys to RemoveObjects, which batches them into
// multi-object delete requests of up to 1000 keys.
func (s *Store) BatchDelete(ctx context.Context, keys []string) (*storage.BatchDeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := storage.NewBatchDeleteResult(len(keys))
	byObjectKey := make(map[string]string, len(keys))
	valid := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := storage.ValidateKey(key); err != nil {
			result.Fail(key, err)
			continue
		}
		byObjectKey[s.objectKey(key)] = key
		valid = append(valid, key)
	}
	if len(valid) == 0 {
		return result, nil
	}

	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, key := range valid {
			select {
			case objects <- minio.ObjectInfo{Key: s.objectKey(key)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := make(map[string]bool)
	for removeErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		key, ok := byObjectKey[removeErr.ObjectName]
		if !ok || isNotFound(removeErr.Err) {
			continue
		}
		failed[key] = true
		result.Fail(key, media.BackendError(DriverName, storage.OpBatchDelete, key, removeErr.Err))
	}

	for _, key := range valid {
		if failed[key] {
			continue
		}
		// Keys never handed to the provider because ctx ended
		if err := ctx.Err(); err != nil {
			result.Fail(key, err)
			continue
		}
		result.Succeed(key)
	}
	return result, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.Metadata(ctx, key); err != nil {
		if media.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL prefers the CDN, then a presigned URL when expires > 0.
func (s *Store) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}

	if s.urls.HasCDN() || expires <= 0 {
		return s.urls.Public(key), nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.objectKey(key), expires, url.Values{})
	if err != nil {
		return "", media.BackendError(DriverName, storage.OpURL, key, err)
	}
	return u.String(), nil
}

func (s *Store) Metadata(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, s.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, media.NotFound("object not found", key)
		}
		return nil, media.BackendError(DriverName, storage.OpMetadata, key, err)
	}

	mimeType := info.ContentType
	if mimeType == "" {
		mimeType = media.DefaultMIMEType
	}
	return &storage.ObjectInfo{
		Path:       key,
		SizeBytes:  info.Size,
		MimeType:   mimeType,
		ModifiedAt: info.LastModified,
	}, nil
}

func (s *Store) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Cancelling stops the listing goroutine once limit is reached
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listPrefix := prefix
	if s.keyPrefix != "" {
		listPrefix = s.keyPrefix + "/" + prefix
	}

	opts := minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}
	if limit > 0 && limit < 1000 {
		opts.MaxKeys = limit
	}

	var out []storage.ObjectInfo
	for obj := range s.client.ListObjects(listCtx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, media.BackendError(DriverName, storage.OpList, prefix, obj.Err)
		}
		out = append(out, storage.ObjectInfo{
			Path:       storage.TrimPrefix(s.keyPrefix, obj.Key),
			SizeBytes:  obj.Size,
			MimeType:   obj.ContentType,
			ModifiedAt: obj.LastModified,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Copy performs a server-side copy.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(src); err != nil {
		return err
	}
	if err := storage.ValidateKey(dst); err != nil {
		return err
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: s.objectKey(dst)},
		minio.CopySrcOptions{Bucket: s.bucket, Object: s.objectKey(src)},
	)
	if err != nil {
		if isNotFound(err) {
			return media.NotFound("object not found", src)
		}
		return media.BackendError(DriverName, storage.OpCopy, src, err)
	}
	return nil
}

// Move copies then deletes.
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src == dst {
		_, err := s.Metadata(ctx, src)
		return err
	}
	return storage.CopyThenDelete(ctx, s, src, dst)
}
