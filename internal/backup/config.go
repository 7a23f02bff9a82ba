package backup

import (
	"fmt"
	"path/filepath"

	"mariadb-backup/internal/database"
)

// Defaults for retention and concurrency
const (
	DefaultRetainFullBackups = 7
	DefaultRetainGenerations = 2
	DefaultParallelism       = 3
)

// OffsiteProvider identifies where artifact copies are replicated
type OffsiteProvider string

const (
	OffsiteNone  OffsiteProvider = ""
	OffsiteLocal OffsiteProvider = "local"
	OffsiteS3    OffsiteProvider = "s3"
	OffsiteGCS   OffsiteProvider = "gcs"
	OffsiteAzure OffsiteProvider = "azure"
)

// OffsiteConfig configures replication of finished artifacts to a
// second location. Replication failures are warnings, never backup
// failures; the local artifact is authoritative.
type OffsiteConfig struct {
	Provider OffsiteProvider `mapstructure:"provider" yaml:"provider"`
	// Local provider
	Path string `mapstructure:"path" yaml:"path"`
	// S3 provider
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// GCS provider, falls back to application default credentials
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	// Azure provider
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
	Container   string `mapstructure:"container" yaml:"container"`
}

// Enabled reports whether offsite replication is configured
func (oc *OffsiteConfig) Enabled() bool {
	return oc.Provider != OffsiteNone
}

// Validate checks offsite settings for the selected provider
func (oc *OffsiteConfig) Validate() error {
	switch oc.Provider {
	case OffsiteNone:
		return nil
	case OffsiteLocal:
		if oc.Path == "" {
			return NewConfigurationError("offsite local provider requires a path", nil)
		}
	case OffsiteS3, OffsiteGCS:
		if oc.Bucket == "" {
			return NewConfigurationError(
				fmt.Sprintf("offsite %s provider requires a bucket", oc.Provider), nil)
		}
	case OffsiteAzure:
		if oc.AccountName == "" || oc.Container == "" {
			return NewConfigurationError("offsite azure provider requires account_name and container", nil)
		}
	default:
		return NewConfigurationError(
			fmt.Sprintf("unknown offsite provider %q", oc.Provider), nil)
	}
	return nil
}

// Config holds everything a backup, restore or cleanup run needs
type Config struct {
	Server    database.ServerConfig `mapstructure:"server" yaml:"server"`
	Container string                `mapstructure:"container" yaml:"container"`

	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	BinlogDir string `mapstructure:"binlog_dir" yaml:"binlog_dir"`
	KeyFile   string `mapstructure:"key_file" yaml:"key_file"`

	Compression string `mapstructure:"compression" yaml:"compression"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	Checksums   bool   `mapstructure:"checksums" yaml:"checksums"`

	Parallelism       int `mapstructure:"parallelism" yaml:"parallelism"`
	RetainFullBackups int `mapstructure:"retain_full_backups" yaml:"retain_full_backups"`
	RetainGenerations int `mapstructure:"retain_generations" yaml:"retain_generations"`

	Offsite OffsiteConfig `mapstructure:"offsite" yaml:"offsite"`
}

// SetDefaults fills unspecified settings
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()

	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.BinlogDir == "" {
		c.BinlogDir = filepath.Join(c.BackupDir, "binlogs")
	}
	if c.KeyFile == "" {
		c.KeyFile = DefaultKeyFileName
	}
	if c.Compression == "" {
		c.Compression = string(CompressionTypeGzip)
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.RetainFullBackups <= 0 {
		c.RetainFullBackups = DefaultRetainFullBackups
	}
	if c.RetainGenerations <= 0 {
		c.RetainGenerations = DefaultRetainGenerations
	}
}

// Validate checks the configuration for a runnable state
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return NewConfigurationError("invalid server configuration", err)
	}

	if c.BackupDir == "" {
		return NewConfigurationError("backup_dir is required", nil)
	}
	if c.KeyFile == "" {
		return NewConfigurationError("key_file is required", nil)
	}

	if c.Compress {
		if _, err := ParseCompressionType(c.Compression); err != nil {
			return NewConfigurationError(
				fmt.Sprintf("invalid compression algorithm %q", c.Compression), err)
		}
	}

	if c.Parallelism < 1 || c.Parallelism > 64 {
		return NewConfigurationError(
			fmt.Sprintf("parallelism must be between 1 and 64, got %d", c.Parallelism), nil)
	}

	if err := c.Offsite.Validate(); err != nil {
		return err
	}

	return nil
}

// CompressionAlgorithm returns the effective compression algorithm
func (c *Config) CompressionAlgorithm() CompressionType {
	if !c.Compress {
		return CompressionTypeNone
	}
	ct, err := ParseCompressionType(c.Compression)
	if err != nil {
		return CompressionTypeGzip
	}
	return ct
}
