package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

const defaultS3Region = "us-east-1"

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store stores objects in an S3 bucket. Writes go through the multipart
// upload manager, so bodies of unknown length stream without buffering the
// whole object.
type S3Store struct {
	bucket      string
	keys        keyspace
	contentType string
	lister      s3.ListObjectsV2APIClient
	uploader    s3Uploader
}

// NewS3Store builds an S3 client from the default AWS config plus the
// overrides in cfg.
func NewS3Store(ctx context.Context, loc Location, cfg S3Config, contentType string) (*S3Store, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultS3Region
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("s3: access key and secret key must be set together: %w", model.ErrConfig)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{
		bucket:      loc.Bucket,
		keys:        keyspace{root: loc.Root},
		contentType: contentType,
		lister:      client,
		uploader:    manager.NewUploader(client),
	}, nil
}

// List returns every key under prefix, following continuation tokens.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.lister, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keys.object(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list s3://%s/%s: %w", s.bucket, s.keys.object(prefix), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, s.keys.key(aws.ToString(obj.Key)))
		}
	}
	return keys, nil
}

// Put uploads r to key. The upload manager aborts the multipart upload if r
// fails, so no object is created.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keys.object(key)),
		Body:   r,
	}
	if s.contentType != "" {
		input.ContentType = aws.String(s.contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3: upload s3://%s/%s: %w", s.bucket, s.keys.object(key), err)
	}
	return nil
}
