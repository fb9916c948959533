// Package s3storage copies photo files to an S3-compatible bucket.
package s3storage

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/retom/internal/config"
)

// Storage wraps MinIO/S3 interactions for mirrored photos.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config. No connection is made until
// the first request.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.MirrorBucket, region: cfg.S3Region}, nil
}

// Bucket returns the mirror bucket name.
func (s *Storage) Bucket() string { return s.bucket }

// ObjectKey is where a photo's image lives in the bucket.
func ObjectKey(id uuid.UUID) string {
	return path.Join("photos", id.String()+".jpg")
}

// EnsureBucket makes sure the mirror bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// UploadPhoto copies the local file at filePath to objectKey and returns the
// number of bytes stored.
func (s *Storage) UploadPhoto(ctx context.Context, objectKey, filePath string) (int64, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, objectKey, filePath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return 0, fmt.Errorf("upload photo: %w", err)
	}
	return info.Size, nil
}
