package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetentionManager(t *testing.T) (*Manager, *Config) {
	t.Helper()
	cfg := testBackupConfig(t)
	svc := &fakeDBService{}
	m := newTestManager(t, cfg, svc, toolCommander(nil, "", ""))
	return m, cfg
}

// placeArtifact drops a minimal artifact file with sidecar and marker
func placeArtifact(t *testing.T, m *Manager, db string, mode BackupMode, ts time.Time, coord Coordinate) Artifact {
	t.Helper()
	artifact := Artifact{
		Database:    db,
		Mode:        mode,
		Timestamp:   ts,
		Compression: CompressionTypeGzip,
		Encrypted:   true,
	}
	artifact.Path = filepath.Join(m.cfg.BackupDir, artifact.FileName())
	require.NoError(t, os.WriteFile(artifact.Path, []byte("artifact"), 0o644))
	_, err := WriteSidecar(artifact.Path)
	require.NoError(t, err)
	if !coord.IsZero() {
		_, err = m.markers.Write(db, ts, coord)
		require.NoError(t, err)
	}
	return artifact
}

func TestCleanBackups_KeepsNewestFulls(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 2

	old1 := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	old2 := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})
	keep1 := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240103_120000"), Coordinate{File: "mysql-bin.000003", Position: 4})
	keep2 := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240104_120000"), Coordinate{File: "mysql-bin.000004", Position: 4})

	result, err := m.CleanBackups(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 2, result.Kept)

	for _, gone := range []Artifact{old1, old2} {
		_, err := os.Stat(gone.Path)
		assert.True(t, os.IsNotExist(err), "%s should be deleted", gone.FileName())
		_, err = os.Stat(SidecarPath(gone.Path))
		assert.True(t, os.IsNotExist(err), "sidecar of %s should be deleted", gone.FileName())
		_, err = m.markers.ForTimestamp("shop", gone.Timestamp)
		assert.Error(t, err, "marker of %s should be deleted", gone.FileName())
	}
	for _, kept := range []Artifact{keep1, keep2} {
		_, err := os.Stat(kept.Path)
		assert.NoError(t, err)
		_, err = m.markers.ForTimestamp("shop", kept.Timestamp)
		assert.NoError(t, err)
	}
}

func TestCleanBackups_RemovesOrphanedIncrementals(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 1

	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	orphan := placeArtifact(t, m, "shop", ModeIncremental, mustTime(t, "20240101_180000"), Coordinate{File: "mysql-bin.000002", Position: 4})
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000003", Position: 4})
	live := placeArtifact(t, m, "shop", ModeIncremental, mustTime(t, "20240102_180000"), Coordinate{File: "mysql-bin.000004", Position: 4})

	_, err := m.CleanBackups(context.Background(), false)
	require.NoError(t, err)

	_, err = os.Stat(orphan.Path)
	assert.True(t, os.IsNotExist(err), "incremental older than the oldest kept full should be deleted")
	_, err = os.Stat(live.Path)
	assert.NoError(t, err, "incremental based on a kept full must survive")
}

func TestCleanBackups_PerDatabaseIsolation(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 1

	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	shopKeep := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})
	crmOnly := placeArtifact(t, m, "crm", ModeFull, mustTime(t, "20240101_060000"), Coordinate{File: "mysql-bin.000001", Position: 4})

	result, err := m.CleanBackups(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = os.Stat(shopKeep.Path)
	assert.NoError(t, err)
	_, err = os.Stat(crmOnly.Path)
	assert.NoError(t, err, "the only full backup of a database is never deleted")
}

func TestCleanBackups_PrunesOffsiteCopies(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 1

	offsiteDir := t.TempDir()
	store, err := NewLocalOffsiteStore(offsiteDir)
	require.NoError(t, err)
	m.offsite = store

	old := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	keep := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})
	for _, artifact := range []Artifact{old, keep} {
		require.NoError(t, store.Upload(context.Background(), artifact.Path, artifact.FileName()))
		require.NoError(t, store.Upload(context.Background(), SidecarPath(artifact.Path),
			ChecksumDirName+"/"+artifact.FileName()+ChecksumSuffix))
	}

	_, err = m.CleanBackups(context.Background(), false)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(offsiteDir, old.FileName()))
	assert.True(t, os.IsNotExist(err), "offsite copy of the pruned backup should be deleted")
	_, err = os.Stat(filepath.Join(offsiteDir, ChecksumDirName, old.FileName()+ChecksumSuffix))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(offsiteDir, keep.FileName()))
	assert.NoError(t, err, "offsite copy of the retained backup stays")
}

func TestCleanBackups_DryRun(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 1

	old := placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})

	result, err := m.CleanBackups(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Deleted)
	assert.Contains(t, result.Removed, old.FileName())

	_, err = os.Stat(old.Path)
	assert.NoError(t, err, "dry run must not delete anything")
	_, err = m.markers.ForTimestamp("shop", old.Timestamp)
	assert.NoError(t, err)
}

func TestCleanBackups_Idempotent(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainFullBackups = 1

	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})

	first, err := m.CleanBackups(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deleted)

	second, err := m.CleanBackups(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 1, second.Kept)
}

func TestCleanBinlogs_DeletesBeforeRetainedFloor(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainGenerations = 2

	for _, name := range []string{"mysql-bin.000003", "mysql-bin.000004", "mysql-bin.000005", "mysql-bin.000006", "mysql-bin.000007"} {
		stageSegment(t, cfg.BinlogDir, name, "events")
	}

	// three generations; the oldest falls outside the retained window
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000003", Position: 4})
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240102_120000"), Coordinate{File: "mysql-bin.000005", Position: 4})
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240103_120000"), Coordinate{File: "mysql-bin.000006", Position: 4})

	result, err := m.CleanBinlogs(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.ElementsMatch(t, []string{"mysql-bin.000003", "mysql-bin.000004"}, result.Removed)

	staged, err := m.binlogs.StagedSegments()
	require.NoError(t, err)
	names := make([]string, len(staged))
	for i, segment := range staged {
		names[i] = segment.Name
	}
	assert.Equal(t, []string{"mysql-bin.000005", "mysql-bin.000006", "mysql-bin.000007"}, names)

	// sidecars of deleted segments go with them
	_, err = os.Stat(SidecarPath(filepath.Join(cfg.BinlogDir, "mysql-bin.000003")))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanBinlogs_FloorSpansDatabases(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainGenerations = 1

	for _, name := range []string{"mysql-bin.000001", "mysql-bin.000002", "mysql-bin.000003"} {
		stageSegment(t, cfg.BinlogDir, name, "events")
	}

	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240103_120000"), Coordinate{File: "mysql-bin.000003", Position: 4})
	// crm's retained generation still needs segment 000001
	placeArtifact(t, m, "crm", ModeFull, mustTime(t, "20240101_120000"), Coordinate{File: "mysql-bin.000001", Position: 4})

	result, err := m.CleanBinlogs(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 3, result.Kept)
}

func TestCleanBinlogs_NeverDeletesNewestSegment(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainGenerations = 1

	stageSegment(t, cfg.BinlogDir, "mysql-bin.000001", "events")
	stageSegment(t, cfg.BinlogDir, "mysql-bin.000002", "events")

	// the only marker points past every staged segment
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240105_120000"), Coordinate{File: "mysql-bin.000009", Position: 4})

	result, err := m.CleanBinlogs(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{"mysql-bin.000001"}, result.Removed)

	staged, err := m.binlogs.StagedSegments()
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "mysql-bin.000002", staged[0].Name)
}

func TestCleanBinlogs_NoMarkersKeepsEverything(t *testing.T) {
	m, cfg := newRetentionManager(t)

	stageSegment(t, cfg.BinlogDir, "mysql-bin.000001", "events")
	stageSegment(t, cfg.BinlogDir, "mysql-bin.000002", "events")

	result, err := m.CleanBinlogs(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 2, result.Kept)
}

func TestCleanBinlogs_DryRun(t *testing.T) {
	m, cfg := newRetentionManager(t)
	cfg.RetainGenerations = 1

	stageSegment(t, cfg.BinlogDir, "mysql-bin.000001", "events")
	stageSegment(t, cfg.BinlogDir, "mysql-bin.000002", "events")
	placeArtifact(t, m, "shop", ModeFull, mustTime(t, "20240105_120000"), Coordinate{File: "mysql-bin.000002", Position: 4})

	result, err := m.CleanBinlogs(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	staged, err := m.binlogs.StagedSegments()
	require.NoError(t, err)
	assert.Len(t, staged, 2, "dry run must not delete anything")
}
