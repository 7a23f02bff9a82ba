package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureOffsiteStore replicates artifacts to an Azure Blob Storage container
type AzureOffsiteStore struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

// NewAzureOffsiteStore creates an Azure store from the offsite configuration
func NewAzureOffsiteStore(cfg OffsiteConfig) (*AzureOffsiteStore, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, NewValidationError("Azure account name and key are required", nil)
	}
	if cfg.Container == "" {
		return nil, NewValidationError("Azure container name is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credential", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	endpoint, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to build Azure service URL", err)
	}

	return &AzureOffsiteStore{
		serviceURL:    azblob.NewServiceURL(*endpoint, pipeline),
		containerName: cfg.Container,
		prefix:        cfg.Prefix,
	}, nil
}

// Upload streams the artifact file to the container as a block blob
func (as *AzureOffsiteStore) Upload(ctx context.Context, localPath, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer file.Close()

	key := joinObjectKey(as.prefix, remoteName)
	blobURL := as.serviceURL.NewContainerURL(as.containerName).NewBlockBlobURL(key)

	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return NewStorageError(
			fmt.Sprintf("failed to upload %s to azure container %s", remoteName, as.containerName), err)
	}

	return nil
}

// Delete removes the blob if it exists
func (as *AzureOffsiteStore) Delete(ctx context.Context, remoteName string) error {
	key := joinObjectKey(as.prefix, remoteName)
	blobURL := as.serviceURL.NewContainerURL(as.containerName).NewBlockBlobURL(key)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok &&
			stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return NewStorageError(
			fmt.Sprintf("failed to delete %s from azure container %s", remoteName, as.containerName), err)
	}
	return nil
}

// Name identifies the store for log messages
func (as *AzureOffsiteStore) Name() string {
	return fmt.Sprintf("azure(%s)", as.containerName)
}
