package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOffsiteStoreUpload(t *testing.T) {
	srcDir := t.TempDir()
	offsiteDir := filepath.Join(t.TempDir(), "replica")

	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)

	artifact := filepath.Join(srcDir, "shop_full_20240105_120000.sql.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("dump payload"), 0o644))

	err = store.Upload(context.Background(), artifact, "shop_full_20240105_120000.sql.gz")
	require.NoError(t, err)

	copied, err := os.ReadFile(filepath.Join(offsiteDir, "shop_full_20240105_120000.sql.gz"))
	require.NoError(t, err)
	assert.Equal(t, "dump payload", string(copied))
}

func TestLocalOffsiteStoreUploadNestedName(t *testing.T) {
	srcDir := t.TempDir()
	offsiteDir := t.TempDir()

	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)

	artifact := filepath.Join(srcDir, "segment.000003")
	require.NoError(t, os.WriteFile(artifact, []byte("binlog"), 0o644))

	err = store.Upload(context.Background(), artifact, filepath.Join("binlogs", "segment.000003"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(offsiteDir, "binlogs", "segment.000003"))
	assert.NoError(t, err)
}

func TestLocalOffsiteStoreDelete(t *testing.T) {
	offsiteDir := t.TempDir()
	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)

	copy := filepath.Join(offsiteDir, "shop_full_20240105_120000.sql.gz")
	require.NoError(t, os.WriteFile(copy, []byte("dump payload"), 0o644))

	require.NoError(t, store.Delete(context.Background(), "shop_full_20240105_120000.sql.gz"))
	_, err = os.Stat(copy)
	assert.True(t, os.IsNotExist(err))

	// deleting again is not an error
	assert.NoError(t, store.Delete(context.Background(), "shop_full_20240105_120000.sql.gz"))
}

func TestLocalOffsiteStoreUploadOverwrites(t *testing.T) {
	srcDir := t.TempDir()
	offsiteDir := t.TempDir()

	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)

	artifact := filepath.Join(srcDir, "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("first"), 0o644))
	require.NoError(t, store.Upload(context.Background(), artifact, "a.sql"))

	require.NoError(t, os.WriteFile(artifact, []byte("second"), 0o644))
	require.NoError(t, store.Upload(context.Background(), artifact, "a.sql"))

	copied, err := os.ReadFile(filepath.Join(offsiteDir, "a.sql"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(copied))
}

func TestLocalOffsiteStoreUploadMissingSource(t *testing.T) {
	store, err := NewLocalOffsiteStore(t.TempDir())
	require.NoError(t, err)

	err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.sql"), "missing.sql")
	assert.True(t, IsType(err, BackupErrorTypeStorage))
}

func TestLocalOffsiteStoreLeavesNoTempFiles(t *testing.T) {
	offsiteDir := t.TempDir()
	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)

	artifact := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("dump"), 0o644))
	require.NoError(t, store.Upload(context.Background(), artifact, "a.sql"))

	entries, err := os.ReadDir(offsiteDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".offsite-"),
			"temp file left behind: %s", entry.Name())
	}
}

func TestJoinObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"", "shop_full_20240105_120000.sql.gz", "shop_full_20240105_120000.sql.gz"},
		{"backups", "a.sql", "backups/a.sql"},
		{"backups/", "a.sql", "backups/a.sql"},
		{"deep/prefix", "a.sql", "deep/prefix/a.sql"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinObjectKey(tt.prefix, tt.name))
	}
}

func TestNewOffsiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled returns nil store", func(t *testing.T) {
		store, err := NewOffsiteStore(ctx, OffsiteConfig{})
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("local provider", func(t *testing.T) {
		store, err := NewOffsiteStore(ctx, OffsiteConfig{
			Provider: OffsiteLocal,
			Path:     t.TempDir(),
		})
		require.NoError(t, err)
		assert.Contains(t, store.Name(), "local(")
	})

	t.Run("s3 provider", func(t *testing.T) {
		store, err := NewOffsiteStore(ctx, OffsiteConfig{
			Provider:  OffsiteS3,
			Bucket:    "backup-bucket",
			Region:    "eu-west-1",
			AccessKey: "AKIAEXAMPLE",
			SecretKey: "secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "s3(backup-bucket)", store.Name())
	})

	t.Run("s3 provider requires bucket", func(t *testing.T) {
		_, err := NewOffsiteStore(ctx, OffsiteConfig{Provider: OffsiteS3})
		assert.Error(t, err)
	})

	t.Run("azure provider", func(t *testing.T) {
		store, err := NewOffsiteStore(ctx, OffsiteConfig{
			Provider:    OffsiteAzure,
			AccountName: "backupaccount",
			AccountKey:  "dGVzdC1rZXk=",
			Container:   "backups",
		})
		require.NoError(t, err)
		assert.Equal(t, "azure(backups)", store.Name())
	})

	t.Run("azure provider requires account", func(t *testing.T) {
		_, err := NewOffsiteStore(ctx, OffsiteConfig{Provider: OffsiteAzure, Container: "backups"})
		assert.Error(t, err)
	})

	t.Run("gcs provider requires bucket", func(t *testing.T) {
		_, err := NewOffsiteStore(ctx, OffsiteConfig{Provider: OffsiteGCS})
		assert.Error(t, err)
	})
}
