package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

type azureClient interface {
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
}

// AzureStore stores objects as block blobs in one container. Blocks are only
// committed after the body is fully read.
type AzureStore struct {
	container   string
	keys        keyspace
	contentType string
	client      azureClient
}

// NewAzureStore connects with a shared-key credential.
func NewAzureStore(loc Location, cfg AzureConfig, contentType string) (*AzureStore, error) {
	if strings.TrimSpace(cfg.Account) == "" || strings.TrimSpace(cfg.AccountKey) == "" {
		return nil, fmt.Errorf("azblob: azure-account and azure-account-key are required: %w", model.ErrConfig)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azblob: shared key credential: %v: %w", err, model.ErrConfig)
	}
	serviceURL := strings.TrimSpace(cfg.ServiceURL)
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob: create client: %w", err)
	}
	return &AzureStore{
		container:   loc.Bucket,
		keys:        keyspace{root: loc.Root},
		contentType: contentType,
		client:      client,
	}, nil
}

// List returns every blob name under prefix.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.keys.object(prefix)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &full})

	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azblob: list %s/%s: %w", s.container, full, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			keys = append(keys, s.keys.key(*item.Name))
		}
	}
	return keys, nil
}

// Put streams r into a block blob.
func (s *AzureStore) Put(ctx context.Context, key string, r io.Reader) error {
	opts := &azblob.UploadStreamOptions{}
	if s.contentType != "" {
		ct := s.contentType
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &ct}
	}
	if _, err := s.client.UploadStream(ctx, s.container, s.keys.object(key), r, opts); err != nil {
		return fmt.Errorf("azblob: upload %s/%s: %w", s.container, s.keys.object(key), err)
	}
	return nil
}
