package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/obscura/internal/apperr"
	"github.com/h2non/filetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
}

// S3 uploads outputs to a bucket through minio-go.
type S3 struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewS3 connects to the endpoint and creates the bucket when it does not exist.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &S3{client: client, bucket: cfg.Bucket, publicURL: strings.TrimSuffix(cfg.PublicURL, "/")}, nil
}

func (s *S3) Store(ctx context.Context, key, localPath string) (string, error) {
	key = normalize(key)
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", apperr.New(apperr.EncodeFailure, "upload output", err)
	}
	return s.location(key), nil
}

func (s *S3) location(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + (&url.URL{Path: key}).EscapedPath()
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func contentType(key string) string {
	t := filetype.GetType(strings.TrimPrefix(filepath.Ext(key), "."))
	if t == filetype.Unknown {
		return "application/octet-stream"
	}
	return t.MIME.Value
}
