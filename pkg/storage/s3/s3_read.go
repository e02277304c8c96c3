package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// Download streams the object into localPath.
func (s *Store) Download(ctx context.Context, key, localPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, media.BackendError(DriverName, storage.OpDownload, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if _, err := storage.WriteFileAtomic(localPath, out.Body); err != nil {
		return false, media.BackendError(DriverName, storage.OpDownload, key, err)
	}
	return true, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, media.BackendError(DriverName, storage.OpExists, key, err)
	}
	return true, nil
}

// URL returns the CDN URL when configured, a presigned GET URL when expires
// is positive, and the native object URL otherwise.
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

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", media.BackendError(DriverName, storage.OpURL, key, err)
	}
	return req.URL, nil
}

func (s *Store) Metadata(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, media.NotFound("object not found", key)
		}
		return nil, media.BackendError(DriverName, storage.OpMetadata, key, err)
	}

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" {
		mimeType = media.DefaultMIMEType
	}
	return &storage.ObjectInfo{
		Path:       key,
		SizeBytes:  aws.ToInt64(out.ContentLength),
		MimeType:   mimeType,
		ModifiedAt: aws.ToTime(out.LastModified),
	}, nil
}

// List pages through ListObjectsV2 until limit objects are collected.
// S3 returns keys in UTF-8 binary order, which is the lexical order.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.listPrefix(prefix)),
	}
	if limit > 0 && limit < 1000 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	var out []storage.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, media.BackendError(DriverName, storage.OpList, prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, storage.ObjectInfo{
				Path:       storage.TrimPrefix(s.keyPrefix, *obj.Key),
				SizeBytes:  aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// listPrefix maps a key prefix to the provider prefix. An empty key prefix
// lists the whole KeyPrefix "directory".
func (s *Store) listPrefix(prefix string) string {
	if s.keyPrefix == "" {
		return prefix
	}
	return s.keyPrefix + "/" + prefix
}
