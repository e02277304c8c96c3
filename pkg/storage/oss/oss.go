// Package oss implements storage.Backend on Alibaba Cloud OSS through its
// S3-compatible API, using aws-sdk-go (v1) with the s3manager transfer
// helpers for concurrent multipart transfers.
package oss

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// DriverName is the registry name of this driver.
const DriverName = "oss"

// DefaultRegion is used when no region is configured.
const DefaultRegion = "oss-cn-hangzhou"

// Config configures the OSS driver.
type Config struct {
	// Endpoint is the regional S3-compatible endpoint,
	// e.g. https://oss-cn-hangzhou.aliyuncs.com
	Endpoint        string `mapstructure:"endpoint" validate:"required,url"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required"`
	AccessKeySecret string `mapstructure:"access_key_secret" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`

	// ForcePathStyle is needed for S3 gateways; OSS itself is virtual hosted
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Concurrency bounds parallel parts per transfer (s3manager default 5)
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`

	BaseURL   string `mapstructure:"base_url"`
	CDNDomain string `mapstructure:"cdn_domain"`
}

// Store implements storage.Backend against OSS.
type Store struct {
	svc        *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	keyPrefix  string
	urls       storage.URLBuilder
}

var (
	_ storage.Backend     = (*Store)(nil)
	_ storage.BucketNamer = (*Store)(nil)
)

// New creates the session and transfer managers and verifies the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, media.Validation("oss endpoint and bucket are required", "")
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oss session: %w", err)
	}
	svc := s3.New(sess)

	if _, err := svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, media.BackendError(DriverName, "head_bucket", cfg.Bucket, err)
	}

	uploader := s3manager.NewUploaderWithClient(svc, func(u *s3manager.Uploader) {
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
	downloader := s3manager.NewDownloaderWithClient(svc, func(d *s3manager.Downloader) {
		if cfg.Concurrency > 0 {
			d.Concurrency = cfg.Concurrency
		}
	})

	keyPrefix := strings.Trim(cfg.KeyPrefix, "/")
	return &Store{
		svc:        svc,
		uploader:   uploader,
		downloader: downloader,
		bucket:     cfg.Bucket,
		keyPrefix:  keyPrefix,
		urls: storage.URLBuilder{
			CDNDomain: cfg.CDNDomain,
			BaseURL:   nativeBaseURL(cfg, keyPrefix),
		},
	}, nil
}

// nativeBaseURL returns the public bucket URL: virtual hosted
// (https://bucket.endpoint-host) unless path style is forced.
func nativeBaseURL(cfg Config, keyPrefix string) string {
	base := cfg.BaseURL
	if base == "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		u, err := url.Parse(endpoint)
		switch {
		case err != nil || u.Host == "":
			base = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
		case cfg.ForcePathStyle:
			base = u.Scheme + "://" + u.Host + "/" + cfg.Bucket
		default:
			base = u.Scheme + "://" + cfg.Bucket + "." + u.Host
		}
	}
	if keyPrefix != "" {
		return storage.JoinURL(base, keyPrefix)
	}
	return base
}

// Driver returns "oss".
func (s *Store) Driver() string { return DriverName }

// Bucket returns the configured bucket.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) objectKey(key string) string {
	return storage.JoinPrefix(s.keyPrefix, key)
}

// isNotFound matches the awserr codes for absent objects.
func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
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
	defer func() { _ = f.Close() }()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = media.DetectMIME(localPath, key)
	}

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    aws.StringMap(opts.Metadata),
	}
	if opts.ACL != storage.ACLDefault {
		input.ACL = aws.String(string(opts.ACL))
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return nil, media.BackendError(DriverName, storage.OpUpload, key, err)
	}

	return &storage.UploadResult{
		URL:       s.urls.Public(key),
		Path:      key,
		SizeBytes: size,
	}, nil
}

// Download fetches the object in parallel ranges into a temp file next to
// localPath, renamed into place once complete.
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

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".dl-*")
	if err != nil {
		return false, fmt.Errorf("create temp file for %s: %w", localPath, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	_, err = s.downloader.DownloadWithContext(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	closeErr := tmp.Close()
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, media.BackendError(DriverName, storage.OpDownload, key, err)
	}
	if closeErr != nil {
		return false, fmt.Errorf("close %s: %w", tmpName, closeErr)
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		return false, fmt.Errorf("rename into %s: %w", localPath, err)
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

	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return media.BackendError(DriverName, storage.OpDelete, key, err)
	}
	return nil
}

// BatchDelete sends DeleteObjects requests of at most 1000 keys.
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
		byObjectKey := make(map[string]string, len(batch))
		objects := make([]*s3.ObjectIdentifier, len(batch))
		for i, key := range batch {
			objectKey := s.objectKey(key)
			byObjectKey[objectKey] = key
			objects[i] = &s3.ObjectIdentifier{Key: aws.String(objectKey)}
		}

		out, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			for _, key := range batch {
				result.Fail(key, media.BackendError(DriverName, storage.OpBatchDelete, key, err))
			}
			continue
		}

		failed := make(map[string]bool, len(out.Errors))
		for _, e := range out.Errors {
			key, ok := byObjectKey[aws.StringValue(e.Key)]
			if !ok || aws.StringValue(e.Code) == s3.ErrCodeNoSuchKey {
				continue
			}
			failed[key] = true
			cause := fmt.Errorf("%s: %s", aws.StringValue(e.Code), aws.StringValue(e.Message))
			result.Fail(key, media.BackendError(DriverName, storage.OpBatchDelete, key, cause))
		}
		for _, key := range batch {
			if !failed[key] {
				result.Succeed(key)
			}
		}
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

	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	signed, err := req.Presign(expires)
	if err != nil {
		return "", media.BackendError(DriverName, storage.OpURL, key, err)
	}
	return signed, nil
}

func (s *Store) Metadata(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, media.NotFound("object not found", key)
		}
		return nil, media.BackendError(DriverName, storage.OpMetadata, key, err)
	}

	mimeType := aws.StringValue(out.ContentType)
	if mimeType == "" {
		mimeType = media.DefaultMIMEType
	}
	return &storage.ObjectInfo{
		Path:       key,
		SizeBytes:  aws.Int64Value(out.ContentLength),
		MimeType:   mimeType,
		ModifiedAt: aws.TimeValue(out.LastModified),
	}, nil
}

func (s *Store) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listPrefix := prefix
	if s.keyPrefix != "" {
		listPrefix = s.keyPrefix + "/" + prefix
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	}
	if limit > 0 && limit < 1000 {
		input.MaxKeys = aws.Int64(int64(limit))
	}

	var out []storage.ObjectInfo
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			out = append(out, storage.ObjectInfo{
				Path:       storage.TrimPrefix(s.keyPrefix, aws.StringValue(obj.Key)),
				SizeBytes:  aws.Int64Value(obj.Size),
				ModifiedAt: aws.TimeValue(obj.LastModified),
			})
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, media.BackendError(DriverName, storage.OpList, prefix, err)
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

	source := s.bucket + "/" + strings.TrimPrefix(storage.JoinURL("", s.objectKey(src)), "/")
	_, err := s.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(dst)),
		CopySource: aws.String(source),
	})
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
