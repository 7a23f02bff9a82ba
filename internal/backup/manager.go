package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mariadb-backup/internal/container"
	"mariadb-backup/internal/database"
	apperrors "mariadb-backup/internal/errors"
	"mariadb-backup/internal/logging"
)

// BackupOptions controls a single backup run
type BackupOptions struct {
	Mode BackupMode

	// Database restricts the run to a single database. Empty means
	// every non-system database on the server.
	Database string

	// IncludeEmpty backs up databases that have no tables
	IncludeEmpty bool
}

// DatabaseResult records the outcome for one database in a run
type DatabaseResult struct {
	Database string
	Artifact string
	Size     int64
	Skipped  bool
	Err      error
}

// BackupSummary aggregates the per-database outcomes of a run
type BackupSummary struct {
	RunID   string
	Mode    BackupMode
	Results []DatabaseResult
}

// Succeeded counts databases that produced an artifact
func (bs *BackupSummary) Succeeded() int {
	n := 0
	for _, r := range bs.Results {
		if r.Err == nil && !r.Skipped {
			n++
		}
	}
	return n
}

// Skipped counts databases that had nothing to back up
func (bs *BackupSummary) Skipped() int {
	n := 0
	for _, r := range bs.Results {
		if r.Skipped {
			n++
		}
	}
	return n
}

// Failed counts databases whose backup failed
func (bs *BackupSummary) Failed() int {
	n := 0
	for _, r := range bs.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Manager orchestrates backup runs: dumping, compressing, encrypting,
// checksumming, coordinate tracking and offsite replication.
type Manager struct {
	cfg       *Config
	logger    *logging.Logger
	dbService database.DatabaseService
	runner    *container.Runner

	markers     *MarkerStore
	binlogs     *BinlogManager
	compression *CompressionManager
	encryption  *EncryptionManager
	offsite     OffsiteStore

	// clock is replaceable in tests
	clock func() time.Time
}

// NewManager wires a manager from the configuration. The encryption
// key file is created on first use.
func NewManager(ctx context.Context, cfg *Config, logger *logging.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid configuration", err)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeDirectory,
			fmt.Sprintf("failed to create backup directory %s", cfg.BackupDir), err)
	}

	keyManager := NewKeyManager(cfg.KeyFile)
	if err := keyManager.EnsureKeyFile(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeEncryption, "failed to prepare encryption key", err)
	}
	encryption, err := NewEncryptionManagerFromFile(cfg.KeyFile)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeEncryption, "failed to load encryption key", err)
	}

	runner := container.NewRunner(cfg.Container, cfg.Server.Password)

	binlogs, err := NewBinlogManager(runner, logger, cfg.BinlogDir)
	if err != nil {
		return nil, err
	}
	if err := binlogs.EnsureDir(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeDirectory,
			fmt.Sprintf("failed to create binlog directory %s", cfg.BinlogDir), err)
	}

	markers := NewMarkerStore(cfg.BackupDir)
	if err := markers.EnsureDir(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeDirectory,
			fmt.Sprintf("failed to create marker directory %s", markers.Dir()), err)
	}

	offsite, err := NewOffsiteStore(ctx, cfg.Offsite)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		dbService:   database.NewServiceWithLogger(logger),
		runner:      runner,
		markers:     markers,
		binlogs:     binlogs,
		compression: NewCompressionManager(),
		encryption:  encryption,
		offsite:     offsite,
		clock:       time.Now,
	}, nil
}

// RunBackup executes one backup run under the backup-directory lock.
// Per-database failures are collected in the summary and reported as a
// single error at the end; run-level failures abort immediately.
func (m *Manager) RunBackup(ctx context.Context, opts BackupOptions) (*BackupSummary, error) {
	summary := &BackupSummary{
		RunID: uuid.New().String()[:8],
		Mode:  opts.Mode,
	}

	lock := NewFileLock(m.cfg.BackupDir)
	if err := lock.Acquire(); err != nil {
		return summary, err
	}
	defer lock.Release()

	conn, err := m.dbService.Connect(m.cfg.Server)
	if err != nil {
		return summary, err
	}
	defer m.dbService.Close(conn)

	if opts.Mode == ModeIncremental {
		enabled, err := m.dbService.BinaryLoggingEnabled(conn)
		if err != nil {
			return summary, err
		}
		if !enabled {
			return summary, apperrors.NewAppError(apperrors.ErrorTypeConfiguration,
				"binary logging is disabled on the server; incremental backups need log_bin=ON", nil)
		}
	}

	targets, err := m.resolveTargets(conn, opts)
	if err != nil {
		return summary, err
	}
	if len(targets) == 0 {
		m.logger.WithField("run_id", summary.RunID).Info("no databases to back up")
		return summary, nil
	}

	done := m.logger.LogOperationStart("backup_run", map[string]interface{}{
		"run_id":    summary.RunID,
		"mode":      string(opts.Mode),
		"databases": len(targets),
	})

	// Rotate to a fresh segment so every staged segment is complete,
	// then stage what the server has. Staging failures degrade
	// point-in-time recovery but do not block the dumps.
	if err := m.dbService.FlushBinaryLogs(conn); err != nil {
		m.logger.Warnf("failed to flush binary logs: %v", err)
	}
	if _, err := m.stageSegments(ctx, conn); err != nil {
		m.logger.Warnf("failed to stage binlog segments: %v", err)
	}

	switch opts.Mode {
	case ModeFull:
		summary.Results = m.runFull(ctx, conn, targets)
	case ModeIncremental:
		summary.Results = m.runIncremental(ctx, conn, targets)
	default:
		done(nil)
		return summary, NewValidationError(fmt.Sprintf("unknown backup mode %q", opts.Mode), nil)
	}

	if failed := summary.Failed(); failed > 0 {
		err := fmt.Errorf("%d of %d database backups failed", failed, len(targets))
		done(err)
		return summary, err
	}
	done(nil)
	return summary, nil
}

// resolveTargets expands the options into the list of databases to back up
func (m *Manager) resolveTargets(conn *sql.DB, opts BackupOptions) ([]string, error) {
	if opts.Database != "" {
		exists, err := m.dbService.DatabaseExists(conn, opts.Database)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknownDatabase,
				fmt.Sprintf("database %q does not exist on the server", opts.Database), nil)
		}
		return []string{opts.Database}, nil
	}

	names, err := m.dbService.ListDatabases(conn)
	if err != nil {
		return nil, err
	}
	if opts.IncludeEmpty {
		return names, nil
	}

	targets := make([]string, 0, len(names))
	for _, name := range names {
		hasTables, err := m.dbService.DatabaseHasTables(conn, name)
		if err != nil {
			return nil, err
		}
		if hasTables {
			targets = append(targets, name)
		}
	}
	return targets, nil
}

// runFull backs up each target with bounded concurrency
func (m *Manager) runFull(ctx context.Context, conn *sql.DB, targets []string) []DatabaseResult {
	results := make([]DatabaseResult, len(targets))

	var wg sync.WaitGroup
	sem := make(chan struct{}, m.cfg.Parallelism)
	for i, name := range targets {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = m.backupFull(ctx, conn, name)
		}(i, name)
	}
	wg.Wait()

	return results
}

// backupFull dumps one database, captures its binlog coordinate and
// finalizes the artifact.
func (m *Manager) backupFull(ctx context.Context, conn *sql.DB, name string) DatabaseResult {
	start := m.clock()
	timestamp := start

	result := DatabaseResult{Database: name}
	fail := func(err error) DatabaseResult {
		result.Err = err
		m.logger.LogBackup(name, string(ModeFull), "", 0, m.clock().Sub(start), err)
		return result
	}

	dumper, err := NewDumper(m.runner, m.cfg.Server)
	if err != nil {
		return fail(err)
	}

	staging, err := m.newStagingFile()
	if err != nil {
		return fail(err)
	}
	defer staging.Discard()

	written, err := m.writeThroughPipeline(staging.File(), func(w io.Writer) error {
		return dumper.Dump(ctx, name, w)
	})
	if err != nil {
		return fail(err)
	}
	if written == 0 {
		return fail(NewDumpError(fmt.Sprintf("dump of %s produced no output", name), nil))
	}

	// The coordinate is read right after the dump completes. With
	// --single-transaction the dump sees a consistent snapshot, so a
	// marginally later coordinate only means a few extra statements in
	// the next incremental range.
	coord, err := m.currentCoordinate(conn)
	if err != nil {
		return fail(err)
	}

	artifact, err := m.finalizeArtifact(staging, name, ModeFull, timestamp)
	if err != nil {
		return fail(err)
	}

	if _, err := m.markers.Write(name, timestamp, coord); err != nil {
		os.Remove(artifact.Path)
		os.Remove(SidecarPath(artifact.Path))
		return fail(err)
	}

	m.replicate(ctx, artifact)

	result.Artifact = artifact.Path
	result.Size = artifact.Size
	m.logger.LogBackup(name, string(ModeFull), artifact.FileName(), artifact.Size, m.clock().Sub(start), nil)
	return result
}

// runIncremental extracts the binlog delta for each target in sequence
func (m *Manager) runIncremental(ctx context.Context, conn *sql.DB, targets []string) []DatabaseResult {
	results := make([]DatabaseResult, len(targets))
	for i, name := range targets {
		results[i] = m.backupIncremental(ctx, conn, name)
	}
	return results
}

// backupIncremental extracts the statements for one database in the
// half-open coordinate range (last marker, current position].
func (m *Manager) backupIncremental(ctx context.Context, conn *sql.DB, name string) DatabaseResult {
	start := m.clock()
	timestamp := start

	result := DatabaseResult{Database: name}
	fail := func(err error) DatabaseResult {
		result.Err = err
		m.logger.LogBackup(name, string(ModeIncremental), "", 0, m.clock().Sub(start), err)
		return result
	}
	skip := func(reason string) DatabaseResult {
		result.Skipped = true
		m.logger.WithFields(map[string]interface{}{
			"database": name,
			"reason":   reason,
		}).Info("incremental backup skipped")
		return result
	}

	marker, err := m.markers.Latest(name)
	if err != nil {
		if IsType(err, BackupErrorTypeNotFound) {
			return fail(NewMarkerError(
				fmt.Sprintf("no binlog coordinate marker for %s, run a full backup first", name), err))
		}
		return fail(err)
	}

	current, err := m.currentCoordinate(conn)
	if err != nil {
		return fail(err)
	}

	if current.Equal(marker.Coordinate) {
		return skip("binlog position unchanged since last backup")
	}
	if before, err := current.Before(marker.Coordinate); err == nil && before {
		return fail(NewBinlogError(fmt.Sprintf(
			"current position %s is behind the last marker %s, the binary log history may have been reset",
			current, marker.Coordinate), nil))
	}

	staging, err := m.newStagingFile()
	if err != nil {
		return fail(err)
	}
	defer staging.Discard()

	extractOpts := ExtractOptions{
		Database:        name,
		VerifyChecksums: m.cfg.Checksums,
	}
	written, err := m.writeThroughPipeline(staging.File(), func(w io.Writer) error {
		return m.binlogs.ExtractRange(ctx, marker.Coordinate, current, extractOpts, w)
	})
	if err != nil {
		return fail(err)
	}
	if written == 0 {
		return skip("no statements for this database in the binlog range")
	}

	artifact, err := m.finalizeArtifact(staging, name, ModeIncremental, timestamp)
	if err != nil {
		return fail(err)
	}

	if _, err := m.markers.Write(name, timestamp, current); err != nil {
		os.Remove(artifact.Path)
		os.Remove(SidecarPath(artifact.Path))
		return fail(err)
	}

	m.replicate(ctx, artifact)

	result.Artifact = artifact.Path
	result.Size = artifact.Size
	m.logger.LogBackup(name, string(ModeIncremental), artifact.FileName(), artifact.Size, m.clock().Sub(start), nil)
	return result
}

// stageSegments copies completed server-side binlog segments into the
// local staging directory.
func (m *Manager) stageSegments(ctx context.Context, conn *sql.DB) (int, error) {
	basename, err := m.dbService.BinlogBasename(conn)
	if err != nil {
		return 0, err
	}
	serverDir := filepath.Dir(basename)

	logs, err := m.dbService.BinaryLogs(conn)
	if err != nil {
		return 0, err
	}

	activeFile := ""
	if status, err := m.dbService.MasterStatus(conn); err == nil {
		activeFile = status.File
	}

	segments := make([]ServerSegment, len(logs))
	for i, log := range logs {
		segments[i] = ServerSegment{Name: log.Name, Size: log.Size}
	}

	return m.binlogs.StageSegments(ctx, segments, activeFile, serverDir)
}

// currentCoordinate reads the server's binlog position, falling back to
// the newest staged segment when the status query is unavailable.
func (m *Manager) currentCoordinate(conn *sql.DB) (Coordinate, error) {
	status, err := m.dbService.MasterStatus(conn)
	if err == nil {
		return Coordinate{File: StripIndexSuffix(status.File), Position: status.Position}, nil
	}
	m.logger.Warnf("binlog status query failed, falling back to staged segments: %v", err)

	staged, stagedErr := m.binlogs.StagedSegments()
	if stagedErr != nil || len(staged) == 0 {
		return Coordinate{}, NewBinlogError("cannot determine current binlog position", err)
	}
	last := staged[len(staged)-1]
	return Coordinate{File: last.Name, Position: uint64(last.Size)}, nil
}

// stagingFile is a temporary file in the backup directory that either
// becomes an artifact or is removed.
type stagingFile struct {
	file      *os.File
	finalized bool
}

func (m *Manager) newStagingFile() (*stagingFile, error) {
	f, err := os.CreateTemp(m.cfg.BackupDir, ".dump-*")
	if err != nil {
		return nil, NewStorageError("failed to create staging file", err)
	}
	return &stagingFile{file: f}, nil
}

func (sf *stagingFile) File() *os.File {
	return sf.file
}

// Discard removes the staging file unless it was renamed into place
func (sf *stagingFile) Discard() {
	if sf.finalized {
		return
	}
	sf.file.Close()
	os.Remove(sf.file.Name())
}

// countingWriter tracks how many raw bytes the producer emitted
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// writeThroughPipeline runs produce against the staging file, inserting
// the configured compressor between producer and file. The returned
// count is the raw byte count before compression.
func (m *Manager) writeThroughPipeline(f *os.File, produce func(io.Writer) error) (int64, error) {
	var sink io.Writer = f
	var closer io.Closer

	if alg := m.cfg.CompressionAlgorithm(); alg != CompressionTypeNone {
		compressor, err := m.compression.ForType(alg)
		if err != nil {
			return 0, err
		}
		cw, err := compressor.NewWriter(f)
		if err != nil {
			return 0, err
		}
		sink = cw
		closer = cw
	}

	counter := &countingWriter{w: sink}
	if err := produce(counter); err != nil {
		if closer != nil {
			closer.Close()
		}
		return counter.n, err
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			return counter.n, NewCompressionError("failed to finalize compressed stream", err)
		}
	}
	if err := f.Sync(); err != nil {
		return counter.n, NewStorageError("failed to sync staging file", err)
	}
	return counter.n, nil
}

// finalizeArtifact encrypts the staged data into its final artifact
// path and writes the checksum sidecar.
func (m *Manager) finalizeArtifact(staging *stagingFile, name string, mode BackupMode, timestamp time.Time) (*Artifact, error) {
	if err := staging.File().Close(); err != nil {
		return nil, NewStorageError("failed to close staging file", err)
	}

	artifact := &Artifact{
		Database:    name,
		Mode:        mode,
		Timestamp:   timestamp,
		Compression: m.cfg.CompressionAlgorithm(),
		Encrypted:   true,
	}
	artifact.Path = filepath.Join(m.cfg.BackupDir, artifact.FileName())

	// Artifact names carry one-second granularity. Refuse to overwrite
	// an existing artifact and its marker instead of silently losing
	// the earlier run.
	if _, err := os.Stat(artifact.Path); err == nil {
		return nil, NewStorageError(fmt.Sprintf(
			"artifact %s already exists; another backup of %s finished within the same second",
			artifact.FileName(), name), nil)
	}

	if err := m.encryption.EncryptFile(staging.File().Name(), artifact.Path); err != nil {
		return nil, err
	}
	staging.finalized = true
	os.Remove(staging.File().Name())

	if m.cfg.Checksums {
		if _, err := WriteSidecar(artifact.Path); err != nil {
			os.Remove(artifact.Path)
			return nil, err
		}
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		return nil, NewStorageError("failed to stat artifact", err)
	}
	artifact.Size = info.Size()
	return artifact, nil
}

// replicate copies the artifact and its sidecar offsite. Failures are
// logged, never returned; the local artifact stays authoritative.
func (m *Manager) replicate(ctx context.Context, artifact *Artifact) {
	if m.offsite == nil {
		return
	}

	name := artifact.FileName()
	if err := m.offsite.Upload(ctx, artifact.Path, name); err != nil {
		m.logger.Warnf("offsite replication of %s to %s failed: %v", name, m.offsite.Name(), err)
		return
	}
	if m.cfg.Checksums {
		sidecar := SidecarPath(artifact.Path)
		remote := ChecksumDirName + "/" + filepath.Base(sidecar)
		if err := m.offsite.Upload(ctx, sidecar, remote); err != nil {
			m.logger.Warnf("offsite replication of %s checksum failed: %v", name, err)
		}
	}
	m.logger.WithFields(map[string]interface{}{
		"artifact": name,
		"store":    m.offsite.Name(),
	}).Info("artifact replicated offsite")
}
