package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// OffsiteStore replicates finished artifact files to a second location.
// Upload failures are reported to the caller but never fail the backup
// run; the local artifact stays authoritative.
type OffsiteStore interface {
	// Upload copies the file at localPath to the store under remoteName.
	Upload(ctx context.Context, localPath, remoteName string) error

	// Delete removes the remote copy. Deleting a name that does not
	// exist is not an error.
	Delete(ctx context.Context, remoteName string) error

	// Name identifies the store for log messages.
	Name() string
}

// LocalOffsiteStore copies artifacts into a second directory, typically
// a mounted NFS share or a different disk.
type LocalOffsiteStore struct {
	baseDir string
}

// NewLocalOffsiteStore creates a store rooted at baseDir, creating the
// directory if needed.
func NewLocalOffsiteStore(baseDir string) (*LocalOffsiteStore, error) {
	if baseDir == "" {
		return nil, NewValidationError("offsite directory path is required", nil)
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, NewStorageError(
			fmt.Sprintf("failed to create offsite directory %s", baseDir), err)
	}

	return &LocalOffsiteStore{baseDir: baseDir}, nil
}

// Upload copies the artifact into the offsite directory. The copy is
// written to a temporary file and renamed so a crashed run never leaves
// a truncated artifact behind.
func (ls *LocalOffsiteStore) Upload(ctx context.Context, localPath, remoteName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer src.Close()

	dst := filepath.Join(ls.baseDir, remoteName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return NewStorageError("failed to create offsite subdirectory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".offsite-*")
	if err != nil {
		return NewStorageError("failed to create offsite temp file", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return NewStorageError(fmt.Sprintf("failed to copy %s offsite", remoteName), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return NewStorageError("failed to flush offsite copy", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return NewStorageError("failed to set offsite copy permissions", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return NewStorageError(fmt.Sprintf("failed to finalize offsite copy %s", dst), err)
	}

	return nil
}

// Delete removes the offsite copy if it exists
func (ls *LocalOffsiteStore) Delete(ctx context.Context, remoteName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(ls.baseDir, remoteName)); err != nil && !os.IsNotExist(err) {
		return NewStorageError(fmt.Sprintf("failed to delete offsite copy %s", remoteName), err)
	}
	return nil
}

// Name identifies the store for log messages
func (ls *LocalOffsiteStore) Name() string {
	return fmt.Sprintf("local(%s)", ls.baseDir)
}

// joinObjectKey builds an object key from an optional prefix and the
// remote name, normalized to forward slashes.
func joinObjectKey(prefix, remoteName string) string {
	name := filepath.ToSlash(remoteName)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(filepath.ToSlash(prefix), "/") + "/" + name
}
