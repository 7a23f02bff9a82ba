package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOffsiteStore replicates artifacts to a Google Cloud Storage bucket
type GCSOffsiteStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSOffsiteStore creates a GCS store from the offsite configuration.
// Without an explicit credentials file the client uses application
// default credentials.
func NewGCSOffsiteStore(ctx context.Context, cfg OffsiteConfig) (*GCSOffsiteStore, error) {
	if cfg.Bucket == "" {
		return nil, NewValidationError("GCS bucket name is required", nil)
	}

	var client *storage.Client
	var err error
	if cfg.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSOffsiteStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Upload streams the artifact file to the bucket
func (gs *GCSOffsiteStore) Upload(ctx context.Context, localPath, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer file.Close()

	key := joinObjectKey(gs.prefix, remoteName)
	writer := gs.client.Bucket(gs.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return NewStorageError(
			fmt.Sprintf("failed to upload %s to gs://%s/%s", remoteName, gs.bucket, key), err)
	}
	if err := writer.Close(); err != nil {
		return NewStorageError(
			fmt.Sprintf("failed to finalize gs://%s/%s", gs.bucket, key), err)
	}

	return nil
}

// Delete removes the object if it exists
func (gs *GCSOffsiteStore) Delete(ctx context.Context, remoteName string) error {
	key := joinObjectKey(gs.prefix, remoteName)
	err := gs.client.Bucket(gs.bucket).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return NewStorageError(
			fmt.Sprintf("failed to delete gs://%s/%s", gs.bucket, key), err)
	}
	return nil
}

// Name identifies the store for log messages
func (gs *GCSOffsiteStore) Name() string {
	return fmt.Sprintf("gcs(%s)", gs.bucket)
}

// Close releases the underlying GCS client
func (gs *GCSOffsiteStore) Close() error {
	return gs.client.Close()
}
