// Package objstore provides the object stores an export can be written to.
//
// Every store lists keys by prefix and streams writes. A write whose reader
// fails leaves no object behind.
package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

// URL schemes.
const (
	SchemeS3    = "s3"
	SchemeAzure = "azblob"
	SchemeMinIO = "minio"
	SchemeFile  = "file"
)

// Config selects and configures a store. URL picks the backend:
//
//	s3://bucket[/root]
//	azblob://container[/root]
//	minio://bucket[/root]
//	file:///dir
type Config struct {
	URL         string
	ContentType string

	S3    S3Config
	Azure AzureConfig
	MinIO MinIOConfig
}

// S3Config holds AWS credentials and endpoint overrides. Empty credentials
// fall back to the default AWS credential chain.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	PathStyle    bool
}

// AzureConfig holds shared-key credentials for a storage account.
type AzureConfig struct {
	Account    string
	AccountKey string
	ServiceURL string // defaults to https://<account>.blob.core.windows.net/
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Location is a parsed store URL.
type Location struct {
	Scheme string
	Bucket string // bucket or container; directory for file://
	Root   string // key prefix inside the bucket, without slashes at either end
}

// New returns the store cfg.URL points at.
func New(ctx context.Context, cfg Config) (model.ObjectStore, error) {
	loc, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	var store model.ObjectStore
	switch loc.Scheme {
	case SchemeS3:
		store, err = NewS3Store(ctx, loc, cfg.S3, cfg.ContentType)
	case SchemeAzure:
		store, err = NewAzureStore(loc, cfg.Azure, cfg.ContentType)
	case SchemeMinIO:
		store, err = NewMinIOStore(loc, cfg.MinIO, cfg.ContentType)
	default:
		store, err = NewLocalStore(loc.Bucket)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ParseURL splits a store URL into scheme, bucket and root prefix.
func ParseURL(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("objstore: store-url is required: %w", model.ErrConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("objstore: parse store-url: %v: %w", err, model.ErrConfig)
	}

	switch u.Scheme {
	case SchemeS3, SchemeAzure, SchemeMinIO:
		if strings.TrimSpace(u.Host) == "" {
			return Location{}, fmt.Errorf("objstore: store-url missing bucket name: %w", model.ErrConfig)
		}
		return Location{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Root:   strings.Trim(strings.TrimSpace(u.Path), "/"),
		}, nil
	case SchemeFile:
		dir := u.Host + u.Path
		if dir == "" {
			return Location{}, fmt.Errorf("objstore: file store-url missing directory: %w", model.ErrConfig)
		}
		return Location{Scheme: SchemeFile, Bucket: dir}, nil
	default:
		return Location{}, fmt.Errorf("objstore: unsupported store-url scheme %q (s3, azblob, minio, file): %w", u.Scheme, model.ErrConfig)
	}
}

// keyspace maps export keys to object names under an optional root.
type keyspace struct {
	root string
}

func (k keyspace) object(key string) string {
	if k.root == "" {
		return key
	}
	return k.root + "/" + key
}

func (k keyspace) key(object string) string {
	if k.root == "" {
		return object
	}
	return strings.TrimPrefix(object, k.root+"/")
}
