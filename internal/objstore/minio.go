package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

type minioClient interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOStore stores objects in a MinIO (or other S3-compatible) bucket.
type MinIOStore struct {
	bucket      string
	keys        keyspace
	contentType string
	client      minioClient
}

// NewMinIOStore connects with static V4 credentials.
func NewMinIOStore(loc Location, cfg MinIOConfig, contentType string) (*MinIOStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio: minio-endpoint is required: %w", model.ErrConfig)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %v: %w", err, model.ErrConfig)
	}
	return &MinIOStore{
		bucket:      loc.Bucket,
		keys:        keyspace{root: loc.Root},
		contentType: contentType,
		client:      client,
	}, nil
}

// List returns every key under prefix.
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.keys.object(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s/%s: %w", s.bucket, s.keys.object(prefix), obj.Err)
		}
		keys = append(keys, s.keys.key(obj.Key))
	}
	return keys, nil
}

// Put streams r with unknown size, which minio-go sends as a multipart upload.
// A failing reader aborts the upload before completion.
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader) error {
	opts := minio.PutObjectOptions{ContentType: s.contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, s.keys.object(key), r, -1, opts); err != nil {
		return fmt.Errorf("minio: put %s/%s: %w", s.bucket, s.keys.object(key), err)
	}
	return nil
}
