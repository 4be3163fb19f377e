package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// azureTarget stores snapshots in an Azure Blob Storage container using the
// default Azure credential chain.
type azureTarget struct {
	keyspace
	container       *container.Client
	encryptionScope string
}

func newAzureTarget(cfg Config) (Target, error) {
	if cfg.StorageAccount == "" || cfg.ContainerName == "" {
		return nil, errors.New("storage_account and container_name are required")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.StorageAccount)
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure blob client: %w", err)
	}

	return &azureTarget{
		keyspace:        newKeyspace(cfg),
		container:       client.ServiceClient().NewContainerClient(cfg.ContainerName),
		encryptionScope: cfg.EncryptionScope,
	}, nil
}

func (t *azureTarget) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	t.trace(ctx, "put", key)

	upload := &blockblob.UploadStreamOptions{Metadata: toAzureMetadata(opts.Metadata)}
	if opts.ContentType != "" {
		upload.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &opts.ContentType}
	}
	if t.encryptionScope != "" {
		upload.CPKScopeInfo = &blob.CPKScopeInfo{EncryptionScope: &t.encryptionScope}
	}

	if _, err := t.container.NewBlockBlobClient(t.object(key)).UploadStream(ctx, body, upload); err != nil {
		return fmt.Errorf("azure: put %q: %w", key, err)
	}
	return nil
}

func (t *azureTarget) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	t.trace(ctx, "get", key)

	resp, err := t.container.NewBlobClient(t.object(key)).DownloadStream(ctx, nil)
	if err != nil {
		return nil, ObjectMeta{}, azureError("get", key, err)
	}

	meta := ObjectMeta{Metadata: fromAzureMetadata(resp.Metadata)}
	if resp.ETag != nil {
		meta.ETag = string(*resp.ETag)
	}
	if resp.ContentLength != nil {
		meta.Size = *resp.ContentLength
	}
	return resp.Body, meta, nil
}

func (t *azureTarget) Head(ctx context.Context, key string) (ObjectMeta, error) {
	t.trace(ctx, "head", key)

	props, err := t.container.NewBlobClient(t.object(key)).GetProperties(ctx, nil)
	if err != nil {
		return ObjectMeta{}, azureError("head", key, err)
	}

	meta := ObjectMeta{Metadata: fromAzureMetadata(props.Metadata)}
	if props.ETag != nil {
		meta.ETag = string(*props.ETag)
	}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	return meta, nil
}

func (t *azureTarget) Delete(ctx context.Context, key string) error {
	t.trace(ctx, "delete", key)

	_, err := t.container.NewBlobClient(t.object(key)).Delete(ctx, nil)
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("azure: delete %q: %w", key, err)
	}
	return nil
}

func (t *azureTarget) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	t.trace(ctx, "list", prefix)

	full := t.object(prefix)
	pager := t.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &full})

	var objects []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: t.logical(*item.Name)}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func toAzureMetadata(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}

// fromAzureMetadata lower-cases keys; the service echoes them back with
// canonical HTTP header casing.
func fromAzureMetadata(m map[string]*string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}

func azureError(op, key string, err error) error {
	if isAzureNotFound(err) {
		return ErrNotFound
	}
	return fmt.Errorf("azure: %s %q: %w", op, key, err)
}

func isAzureNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}
