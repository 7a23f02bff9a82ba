package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3OffsiteStore replicates artifacts to an S3 bucket
type S3OffsiteStore struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3OffsiteStore creates an S3 store from the offsite configuration.
// When access keys are not configured the SDK's default credential
// chain is used (environment, shared config, instance role).
func NewS3OffsiteStore(cfg OffsiteConfig) (*S3OffsiteStore, error) {
	if cfg.Bucket == "" {
		return nil, NewValidationError("S3 bucket name is required", nil)
	}

	awsCfg := &aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3OffsiteStore{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Upload streams the artifact file to the bucket
func (ss *S3OffsiteStore) Upload(ctx context.Context, localPath, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer file.Close()

	key := joinObjectKey(ss.prefix, remoteName)
	_, err = ss.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return NewStorageError(
			fmt.Sprintf("failed to upload %s to s3://%s/%s", remoteName, ss.bucket, key), err)
	}

	return nil
}

// Delete removes the object if it exists. S3 deletes are idempotent,
// so a missing key is not an error.
func (ss *S3OffsiteStore) Delete(ctx context.Context, remoteName string) error {
	key := joinObjectKey(ss.prefix, remoteName)
	_, err := ss.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewStorageError(
			fmt.Sprintf("failed to delete s3://%s/%s", ss.bucket, key), err)
	}
	return nil
}

// Name identifies the store for log messages
func (ss *S3OffsiteStore) Name() string {
	return fmt.Sprintf("s3(%s)", ss.bucket)
}
