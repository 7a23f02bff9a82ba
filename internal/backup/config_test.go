package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mariadb-backup/internal/database"
)

func validTestConfig() *Config {
	c := &Config{
		Server: database.ServerConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			Username: "backup",
			Password: "secret",
		},
		Compress:  true,
		Checksums: true,
	}
	c.SetDefaults()
	return c
}

func TestConfigSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	assert.Equal(t, "backups", c.BackupDir)
	assert.Equal(t, "backups/binlogs", c.BinlogDir)
	assert.Equal(t, DefaultKeyFileName, c.KeyFile)
	assert.Equal(t, string(CompressionTypeGzip), c.Compression)
	assert.Equal(t, DefaultParallelism, c.Parallelism)
	assert.Equal(t, DefaultRetainFullBackups, c.RetainFullBackups)
	assert.Equal(t, DefaultRetainGenerations, c.RetainGenerations)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validTestConfig().Validate())
	})

	t.Run("missing server host", func(t *testing.T) {
		c := validTestConfig()
		c.Server.Host = ""
		err := c.Validate()
		require.Error(t, err)
		assert.True(t, IsType(err, BackupErrorTypeConfiguration))
	})

	t.Run("bad compression algorithm", func(t *testing.T) {
		c := validTestConfig()
		c.Compression = "brotli"
		assert.Error(t, c.Validate())
	})

	t.Run("bad compression ignored when compression off", func(t *testing.T) {
		c := validTestConfig()
		c.Compress = false
		c.Compression = "brotli"
		assert.NoError(t, c.Validate())
	})

	t.Run("parallelism out of range", func(t *testing.T) {
		c := validTestConfig()
		c.Parallelism = 100
		assert.Error(t, c.Validate())
	})
}

func TestConfigCompressionAlgorithm(t *testing.T) {
	c := validTestConfig()
	assert.Equal(t, CompressionTypeGzip, c.CompressionAlgorithm())

	c.Compression = "zstd"
	assert.Equal(t, CompressionTypeZstd, c.CompressionAlgorithm())

	c.Compress = false
	assert.Equal(t, CompressionTypeNone, c.CompressionAlgorithm())
}

func TestOffsiteConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  OffsiteConfig
		wantErr bool
	}{
		{"disabled", OffsiteConfig{}, false},
		{"local with path", OffsiteConfig{Provider: OffsiteLocal, Path: "/mnt/offsite"}, false},
		{"local without path", OffsiteConfig{Provider: OffsiteLocal}, true},
		{"s3 with bucket", OffsiteConfig{Provider: OffsiteS3, Bucket: "backups", Region: "eu-west-1"}, false},
		{"s3 without bucket", OffsiteConfig{Provider: OffsiteS3}, true},
		{"gcs with bucket", OffsiteConfig{Provider: OffsiteGCS, Bucket: "backups"}, false},
		{"azure complete", OffsiteConfig{Provider: OffsiteAzure, AccountName: "acct", AccountKey: "key", Container: "backups"}, false},
		{"azure missing container", OffsiteConfig{Provider: OffsiteAzure, AccountName: "acct"}, true},
		{"unknown provider", OffsiteConfig{Provider: "ftp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("enabled flag", func(t *testing.T) {
		assert.False(t, (&OffsiteConfig{}).Enabled())
		assert.True(t, (&OffsiteConfig{Provider: OffsiteS3}).Enabled())
	})
}
