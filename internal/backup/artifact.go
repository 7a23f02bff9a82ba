package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupMode distinguishes full dumps from incremental binlog extracts
type BackupMode string

const (
	ModeFull        BackupMode = "full"
	ModeIncremental BackupMode = "incremental"
)

// ParseBackupMode validates a mode string
func ParseBackupMode(s string) (BackupMode, error) {
	switch strings.ToLower(s) {
	case "full":
		return ModeFull, nil
	case "incremental":
		return ModeIncremental, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown backup mode %q", s), nil)
	}
}

// Artifact describes one backup file on disk. Artifact names follow
// <database>_<mode>_<timestamp>.sql[.gz|.zst|.lz4][.enc].
type Artifact struct {
	Database    string
	Mode        BackupMode
	Timestamp   time.Time
	Compression CompressionType
	Encrypted   bool
	Path        string
	Size        int64
}

// FileName builds the artifact file name for its fields
func (a *Artifact) FileName() string {
	name := fmt.Sprintf("%s_%s_%s.sql", a.Database, a.Mode, a.Timestamp.Format(TimestampLayout))

	switch a.Compression {
	case CompressionTypeGzip:
		name += ".gz"
	case CompressionTypeZstd:
		name += ".zst"
	case CompressionTypeLZ4:
		name += ".lz4"
	}

	if a.Encrypted {
		name += EncryptedSuffix
	}

	return name
}

// ParseArtifactName parses an artifact file name. The database name may
// itself contain underscores, so parsing works from the fixed-width
// tail backwards.
func ParseArtifactName(name string) (*Artifact, error) {
	artifact := &Artifact{Compression: CompressionTypeNone}

	rest := name
	if strings.HasSuffix(rest, EncryptedSuffix) {
		artifact.Encrypted = true
		rest = strings.TrimSuffix(rest, EncryptedSuffix)
	}

	switch {
	case strings.HasSuffix(rest, ".gz"):
		artifact.Compression = CompressionTypeGzip
		rest = strings.TrimSuffix(rest, ".gz")
	case strings.HasSuffix(rest, ".zst"):
		artifact.Compression = CompressionTypeZstd
		rest = strings.TrimSuffix(rest, ".zst")
	case strings.HasSuffix(rest, ".lz4"):
		artifact.Compression = CompressionTypeLZ4
		rest = strings.TrimSuffix(rest, ".lz4")
	}

	if !strings.HasSuffix(rest, ".sql") {
		return nil, NewValidationError(fmt.Sprintf("%q is not a backup artifact name", name), nil)
	}
	core := strings.TrimSuffix(rest, ".sql")

	if len(core) < len(TimestampLayout)+1 {
		return nil, NewValidationError(fmt.Sprintf("%q is not a backup artifact name", name), nil)
	}

	tsPart := core[len(core)-len(TimestampLayout):]
	ts, err := time.Parse(TimestampLayout, tsPart)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("artifact %q has malformed timestamp", name), err)
	}
	artifact.Timestamp = ts

	head := strings.TrimSuffix(core[:len(core)-len(TimestampLayout)], "_")
	switch {
	case strings.HasSuffix(head, "_"+string(ModeFull)):
		artifact.Mode = ModeFull
		artifact.Database = strings.TrimSuffix(head, "_"+string(ModeFull))
	case strings.HasSuffix(head, "_"+string(ModeIncremental)):
		artifact.Mode = ModeIncremental
		artifact.Database = strings.TrimSuffix(head, "_"+string(ModeIncremental))
	default:
		return nil, NewValidationError(fmt.Sprintf("artifact %q has no backup mode", name), nil)
	}

	if artifact.Database == "" {
		return nil, NewValidationError(fmt.Sprintf("artifact %q has empty database name", name), nil)
	}

	return artifact, nil
}

// ListArtifacts scans a directory for backup artifacts. database and
// mode filter the result when non-empty; the result is ordered oldest
// first. Checksum sidecars and unrelated files are skipped.
func ListArtifacts(dir string, database string, mode BackupMode) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("failed to read backup directory", err).
			WithContext("dir", dir)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ChecksumSuffix) {
			continue
		}

		artifact, err := ParseArtifactName(entry.Name())
		if err != nil {
			continue
		}
		if database != "" && artifact.Database != database {
			continue
		}
		if mode != "" && artifact.Mode != mode {
			continue
		}

		artifact.Path = filepath.Join(dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			artifact.Size = info.Size()
		}

		artifacts = append(artifacts, *artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Timestamp.Before(artifacts[j].Timestamp)
	})

	return artifacts, nil
}

// LatestArtifact returns the newest artifact matching the filters
func LatestArtifact(dir string, database string, mode BackupMode) (*Artifact, error) {
	artifacts, err := ListArtifacts(dir, database, mode)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, NewNotFoundError(
			fmt.Sprintf("no %s backup found for database %q in %s", mode, database, dir), nil)
	}

	latest := artifacts[len(artifacts)-1]
	return &latest, nil
}
