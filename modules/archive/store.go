package archive

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore is the part of an S3 bucket the archive step needs.
type objectStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, key, path, contentType string) (int64, error)
}

// newStore is replaced in tests.
var newStore = func(in *Input) (objectStore, error) {
	return newMinioStore(in)
}

type minioStore struct {
	client *minio.Client
	bucket string
	region string
}

func newMinioStore(in *Input) (*minioStore, error) {
	client, err := minio.New(in.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(in.AccessKey, in.SecretKey, ""),
		Secure: in.UseSSL,
		Region: in.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &minioStore{client: client, bucket: in.Bucket, region: in.Region}, nil
}

func (s *minioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *minioStore) Upload(ctx context.Context, key, path, contentType string) (int64, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
