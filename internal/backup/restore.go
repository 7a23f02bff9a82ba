package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "mariadb-backup/internal/errors"
)

// LatestBackup selects the newest full artifact instead of a named file
const LatestBackup = "LATEST"

// RestoreOptions controls a restore run
type RestoreOptions struct {
	// Database to restore. Required for a single restore; RunRestoreAll
	// covers every database with a full artifact.
	Database string

	// BackupFile is an explicit artifact file name or LatestBackup.
	// Interactive selection happens at the command layer.
	BackupFile string

	// ToTime replays binlogs up to a wall-clock time after the base
	// import (point-in-time recovery).
	ToTime *time.Time

	// ToLatest replays all available binlogs after the base import
	ToLatest bool

	// Strict aborts the restore when a binlog segment fails to replay.
	// The default tolerates segment failures with a warning, which can
	// under-apply changes.
	Strict bool
}

// replayRequested reports whether binlog replay follows the base import
func (ro *RestoreOptions) replayRequested() bool {
	return ro.ToLatest || ro.ToTime != nil
}

// RestoreResult records the outcome of restoring one database
type RestoreResult struct {
	Database         string
	Artifact         string
	SegmentsReplayed int
	SegmentsFailed   int
	Err              error
}

// RunRestore restores a single database from a full backup artifact and
// optionally replays binlogs to a later point in time.
func (m *Manager) RunRestore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	if opts.Database == "" {
		return nil, NewValidationError("restore requires a database name", nil)
	}

	result := m.restoreOne(ctx, opts)
	if result.Err != nil {
		return result, apperrors.NewAppError(apperrors.ErrorTypeRestore,
			fmt.Sprintf("restore of %s failed", opts.Database), result.Err)
	}
	return result, nil
}

// RunRestoreAll restores every database that has a full backup
// artifact. Per-database failures are recorded and the run continues.
func (m *Manager) RunRestoreAll(ctx context.Context, opts RestoreOptions) ([]RestoreResult, error) {
	artifacts, err := ListArtifacts(m.cfg.BackupDir, "", ModeFull)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, NewNotFoundError("no full backup artifacts found", nil)
	}

	seen := make(map[string]bool)
	var databases []string
	for _, artifact := range artifacts {
		if !seen[artifact.Database] {
			seen[artifact.Database] = true
			databases = append(databases, artifact.Database)
		}
	}

	failed := 0
	results := make([]RestoreResult, 0, len(databases))
	for _, name := range databases {
		dbOpts := opts
		dbOpts.Database = name
		dbOpts.BackupFile = LatestBackup
		result := m.restoreOne(ctx, dbOpts)
		if result.Err != nil {
			failed++
		}
		results = append(results, *result)
	}

	if failed > 0 {
		return results, apperrors.NewAppError(apperrors.ErrorTypeRestore,
			fmt.Sprintf("%d of %d database restores failed", failed, len(databases)), nil)
	}
	return results, nil
}

func (m *Manager) restoreOne(ctx context.Context, opts RestoreOptions) *RestoreResult {
	start := m.clock()
	result := &RestoreResult{Database: opts.Database}
	fail := func(err error) *RestoreResult {
		result.Err = err
		m.logger.LogRestore(opts.Database, result.Artifact, result.SegmentsReplayed, m.clock().Sub(start), err)
		return result
	}

	artifact, err := m.selectArtifact(opts)
	if err != nil {
		return fail(err)
	}
	result.Artifact = artifact.FileName()

	if _, err := os.Stat(SidecarPath(artifact.Path)); err == nil {
		if err := VerifySidecar(artifact.Path); err != nil {
			return fail(err)
		}
	}

	importer, err := NewImporter(m.runner, m.cfg.Server)
	if err != nil {
		return fail(err)
	}

	reader, cleanup, err := m.openArtifact(artifact)
	if err != nil {
		return fail(err)
	}

	// The dump carries its own CREATE DATABASE and USE statements.
	// The base import is always strict; a partially applied dump is
	// not a restore. Leniency only ever applies to segment replay.
	importErr := m.runImport(ctx, importer, "", reader, true)
	reader.Close()
	cleanup()
	if importErr != nil {
		return fail(importErr)
	}

	if opts.replayRequested() {
		if err := m.replayBinlogs(ctx, importer, artifact, opts, result); err != nil {
			return fail(err)
		}
	}

	m.logger.LogRestore(opts.Database, result.Artifact, result.SegmentsReplayed, m.clock().Sub(start), nil)
	return result
}

// selectArtifact resolves the restore source to a parsed artifact
func (m *Manager) selectArtifact(opts RestoreOptions) (*Artifact, error) {
	if opts.BackupFile == "" || opts.BackupFile == LatestBackup {
		return LatestArtifact(m.cfg.BackupDir, opts.Database, ModeFull)
	}

	name := filepath.Base(opts.BackupFile)
	artifact, err := ParseArtifactName(name)
	if err != nil {
		return nil, err
	}
	if artifact.Database != opts.Database {
		return nil, NewValidationError(fmt.Sprintf(
			"backup file %s belongs to database %s, not %s", name, artifact.Database, opts.Database), nil)
	}

	path := opts.BackupFile
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(m.cfg.BackupDir, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewNotFoundError(fmt.Sprintf("backup file %s not found", path), err)
	}
	artifact.Path = path
	artifact.Size = info.Size()
	return artifact, nil
}

// openArtifact decrypts the artifact to a temporary file and returns a
// decompressing reader over it. cleanup removes the temporary file.
func (m *Manager) openArtifact(artifact *Artifact) (io.ReadCloser, func(), error) {
	noop := func() {}

	source := artifact.Path
	cleanup := noop
	if artifact.Encrypted {
		decrypted := filepath.Join(m.cfg.BackupDir,
			fmt.Sprintf(".restore-%s", filepath.Base(artifact.Path)))
		if err := m.encryption.DecryptFile(artifact.Path, decrypted); err != nil {
			return nil, noop, err
		}
		source = decrypted
		cleanup = func() { os.Remove(decrypted) }
	}

	f, err := os.Open(source)
	if err != nil {
		cleanup()
		return nil, noop, NewStorageError(fmt.Sprintf("failed to open %s", source), err)
	}

	if artifact.Compression == CompressionTypeNone {
		return f, cleanup, nil
	}

	compressor, err := m.compression.ForType(artifact.Compression)
	if err != nil {
		f.Close()
		cleanup()
		return nil, noop, err
	}
	decompressed, err := compressor.NewReader(f)
	if err != nil {
		f.Close()
		cleanup()
		return nil, noop, err
	}

	return &artifactReader{inner: decompressed, file: f}, cleanup, nil
}

// artifactReader closes both the decompressor and the underlying file
type artifactReader struct {
	inner io.ReadCloser
	file  *os.File
}

func (ar *artifactReader) Read(p []byte) (int, error) {
	return ar.inner.Read(p)
}

func (ar *artifactReader) Close() error {
	err := ar.inner.Close()
	if ferr := ar.file.Close(); err == nil {
		err = ferr
	}
	return err
}

func (m *Manager) runImport(ctx context.Context, importer *Importer, database string, r io.Reader, strict bool) error {
	if strict {
		return importer.Import(ctx, database, r)
	}
	return importer.ImportLenient(ctx, database, r)
}

// replayBinlogs applies the binlog range from the backup's coordinate
// marker up to the next generation, the requested timestamp, or the end
// of the staged segments.
func (m *Manager) replayBinlogs(ctx context.Context, importer *Importer, artifact *Artifact, opts RestoreOptions, result *RestoreResult) error {
	marker, err := m.markers.ForTimestamp(artifact.Database, artifact.Timestamp)
	if err != nil {
		if opts.Strict {
			return NewMarkerError(fmt.Sprintf(
				"no binlog coordinate marker for backup %s, point-in-time recovery is impossible",
				artifact.FileName()), err)
		}
		m.logger.Warnf("no binlog coordinate marker for %s, skipping binlog replay", artifact.FileName())
		return nil
	}

	end, haveEnd, err := m.replayEndCoordinate(artifact, marker.Coordinate)
	if err != nil {
		return err
	}
	if !haveEnd {
		m.logger.WithField("database", artifact.Database).Info("no binlog segments to replay")
		return nil
	}

	extractOpts := ExtractOptions{
		Database:        artifact.Database,
		StopTime:        opts.ToTime,
		VerifyChecksums: m.cfg.Checksums,
	}
	plan, err := m.binlogs.PlanRange(marker.Coordinate, end, extractOpts)
	if err != nil {
		if opts.Strict {
			return err
		}
		m.logger.Warnf("binlog replay planning failed, restore covers the base backup only: %v", err)
		return nil
	}

	for _, extract := range plan {
		if err := m.replaySegment(ctx, importer, extract, extractOpts, opts.Strict); err != nil {
			if opts.Strict {
				return err
			}
			result.SegmentsFailed++
			m.logger.Warnf("replay of segment %s failed, continuing: %v", extract.Segment.Name, err)
			continue
		}
		result.SegmentsReplayed++
	}
	return nil
}

// replayEndCoordinate picks where replay stops: the next generation's
// marker when one exists, otherwise the end of the newest staged
// segment. haveEnd is false when there is nothing past the backup.
func (m *Manager) replayEndCoordinate(artifact *Artifact, from Coordinate) (end Coordinate, haveEnd bool, err error) {
	generations, err := m.markers.List(artifact.Database)
	if err != nil {
		return Coordinate{}, false, err
	}
	for _, marker := range generations {
		if marker.Timestamp.After(artifact.Timestamp) {
			return marker.Coordinate, true, nil
		}
	}

	staged, err := m.binlogs.StagedSegments()
	if err != nil {
		return Coordinate{}, false, err
	}
	if len(staged) == 0 {
		return Coordinate{}, false, nil
	}
	last := staged[len(staged)-1]
	end = Coordinate{File: last.Name, Position: uint64(last.Size)}

	if before, err := end.Before(from); err == nil && before {
		return Coordinate{}, false, nil
	}
	if end.Equal(from) {
		return Coordinate{}, false, nil
	}
	return end, true, nil
}

// replaySegment pipes one extracted segment into the client
func (m *Manager) replaySegment(ctx context.Context, importer *Importer, extract SegmentExtract, extractOpts ExtractOptions, strict bool) error {
	pr, pw := io.Pipe()

	extractDone := make(chan error, 1)
	go func() {
		err := m.binlogs.ExtractSegment(ctx, extract, extractOpts, pw)
		pw.CloseWithError(err)
		extractDone <- err
	}()

	importErr := m.runImport(ctx, importer, extractOpts.Database, pr, strict)
	pr.Close()
	extractErr := <-extractDone

	if extractErr != nil {
		return extractErr
	}
	return importErr
}
