package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azb "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore implements Store against an Azure Blob Storage container.
// One long-lived client wraps the connection string; it is owned by the
// provider instance that constructed it, never shared globally.
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

// NewAzureStore builds a store from a storage-account connection string and a
// container name.
func NewAzureStore(connectionString, container string, logger *slog.Logger) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create azure client: %w", err)
	}
	return &AzureStore{
		client:    client,
		container: container,
		logger:    logger,
	}, nil
}

// EnsureContainer creates the container if absent. An already-existing
// container is not an error.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return fmt.Errorf("blob: failed to create container %q: %w", s.container, err)
	}
	return nil
}

func (s *AzureStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.blobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("blob: failed to check existence of %q: %w", name, err)
	}
	return true, nil
}

func (s *AzureStore) Properties(ctx context.Context, name string) (Properties, error) {
	resp, err := s.blobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return Properties{}, ErrNotFound
		}
		return Properties{}, fmt.Errorf("blob: failed to get properties of %q: %w", name, err)
	}

	props := Properties{Metadata: normalizeMetadata(resp.Metadata)}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	return props, nil
}

func (s *AzureStore) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var entries []Entry
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blob: failed to list prefix %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			entry := Entry{Name: *item.Name}
			if item.Properties != nil && item.Properties.LastModified != nil {
				entry.LastModified = *item.Properties.LastModified
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *AzureStore) Download(ctx context.Context, name, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("blob: failed to create download target: %w", err)
	}
	defer f.Close()

	if _, err := s.client.DownloadFile(ctx, s.container, name, f, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: failed to download %q: %w", name, err)
	}
	return nil
}

func (s *AzureStore) Upload(ctx context.Context, name, srcPath string, metadata map[string]string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("blob: failed to open upload source: %w", err)
	}
	defer f.Close()

	md := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		md[k] = to.Ptr(v)
	}

	if _, err := s.client.UploadFile(ctx, s.container, name, f, &azblob.UploadFileOptions{
		Metadata: md,
	}); err != nil {
		return fmt.Errorf("blob: failed to upload %q: %w", name, err)
	}
	return nil
}

func (s *AzureStore) blobClient(name string) *azb.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(name)
}

// normalizeMetadata lowercases metadata keys. The service stores keys
// case-insensitively and the SDK returns them canonicalized from HTTP
// headers, so "cachekey" can come back as "Cachekey".
func normalizeMetadata(in map[string]*string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		out[strings.ToLower(k)] = *v
	}
	return out
}
