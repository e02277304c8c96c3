package s3

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/storage"
)

// Upload stores the local file at key.
//
// Files up to the part size go out in a single PutObject; larger files use
// a multipart upload streamed part by part from disk.
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

	if size > s.partSize {
		err = s.uploadMultipart(ctx, f, size, key, contentType, opts)
	} else {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.objectKey(key)),
			Body:          f,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
			ACL:           types.ObjectCannedACL(opts.ACL),
			Metadata:      opts.Metadata,
		})
	}
	if err != nil {
		return nil, media.BackendError(DriverName, storage.OpUpload, key, err)
	}

	return &storage.UploadResult{
		URL:       s.urls.Public(key),
		Path:      key,
		SizeBytes: size,
	}, nil
}

// uploadMultipart sends f in partSize pieces. Any failure aborts the upload.
func (s *Store) uploadMultipart(ctx context.Context, f *os.File, size int64, key, contentType string, opts storage.UploadOptions) error {
	objectKey := s.objectKey(key)

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACL(opts.ACL),
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return err
	}
	uploadID := created.UploadId

	abort := func() {
		// Use a fresh context so a cancelled upload still cleans up its parts
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(objectKey),
			UploadId: uploadID,
		})
		if abortErr != nil && !isNoSuchUpload(abortErr) {
			logger.Warn("s3: failed to abort multipart upload %s for %s: %v", aws.ToString(uploadID), key, abortErr)
		}
	}

	var parts []types.CompletedPart
	var partNumber int32 = 1
	for offset := int64(0); offset < size; offset += s.partSize {
		if err := ctx.Err(); err != nil {
			abort()
			return err
		}

		length := min(s.partSize, size-offset)
		part, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          io.NewSectionReader(f, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			abort()
			return err
		}

		parts = append(parts, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objectKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		abort()
		return err
	}
	return nil
}

// Delete removes key. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return media.BackendError(DriverName, storage.OpDelete, key, err)
	}
	return nil
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

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(dst)),
		CopySource: aws.String(copySource(s.bucket, s.objectKey(src))),
	})
	if err != nil {
		if isNotFound(err) {
			return media.NotFound("object not found", src)
		}
		return media.BackendError(DriverName, storage.OpCopy, src, err)
	}
	return nil
}

// Move copies then deletes; S3 has no rename.
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
