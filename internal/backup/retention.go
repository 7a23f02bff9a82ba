package backup

import (
	"context"
	"os"
	"sort"
	"time"
)

// CleanupResult summarizes one cleaner run
type CleanupResult struct {
	Deleted int
	Kept    int
	DryRun  bool

	// Removed lists what was (or would be) deleted
	Removed []string
}

// CleanBackups enforces the full-backup retention policy: per database
// the newest RetainFullBackups full artifacts stay, older ones are
// deleted together with their coordinate markers and any incremental
// artifacts that can no longer be replayed onto a retained base.
// Offsite copies of pruned artifacts are removed as well.
func (m *Manager) CleanBackups(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	start := m.clock()
	result := &CleanupResult{DryRun: dryRun}

	lock := NewFileLock(m.cfg.BackupDir)
	if err := lock.Acquire(); err != nil {
		return result, err
	}
	defer lock.Release()

	fulls, err := ListArtifacts(m.cfg.BackupDir, "", ModeFull)
	if err != nil {
		return result, err
	}

	byDatabase := make(map[string][]Artifact)
	for _, artifact := range fulls {
		byDatabase[artifact.Database] = append(byDatabase[artifact.Database], artifact)
	}

	for name, artifacts := range byDatabase {
		// oldest first from ListArtifacts
		keepFrom := len(artifacts) - m.cfg.RetainFullBackups
		if keepFrom < 0 {
			keepFrom = 0
		}
		result.Kept += len(artifacts) - keepFrom

		for _, victim := range artifacts[:keepFrom] {
			if err := m.removeArtifact(ctx, victim, dryRun, result); err != nil {
				return result, err
			}
		}

		oldestKept := artifacts[keepFrom].Timestamp
		if err := m.cleanOrphanedIncrementals(ctx, name, oldestKept, dryRun, result); err != nil {
			return result, err
		}
	}

	m.logger.LogCleanup("backups", result.Deleted, result.Kept, dryRun, m.clock().Sub(start))
	return result, nil
}

// cleanOrphanedIncrementals deletes incremental artifacts older than
// the oldest retained full backup; their base generation is gone.
func (m *Manager) cleanOrphanedIncrementals(ctx context.Context, database string, oldestKept time.Time, dryRun bool, result *CleanupResult) error {
	incrementals, err := ListArtifacts(m.cfg.BackupDir, database, ModeIncremental)
	if err != nil {
		return err
	}
	for _, incremental := range incrementals {
		if incremental.Timestamp.Before(oldestKept) {
			if err := m.removeArtifact(ctx, incremental, dryRun, result); err != nil {
				return err
			}
		} else {
			result.Kept++
		}
	}
	return nil
}

// removeArtifact deletes one artifact, its checksum sidecar, its
// coordinate marker and any offsite copies. Offsite failures are
// warnings; the local retention policy is already enforced.
func (m *Manager) removeArtifact(ctx context.Context, artifact Artifact, dryRun bool, result *CleanupResult) error {
	result.Removed = append(result.Removed, artifact.FileName())
	result.Deleted++
	if dryRun {
		return nil
	}

	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return NewStorageError("failed to delete "+artifact.FileName(), err)
	}
	if err := os.Remove(SidecarPath(artifact.Path)); err != nil && !os.IsNotExist(err) {
		return NewStorageError("failed to delete checksum for "+artifact.FileName(), err)
	}

	if m.offsite != nil {
		name := artifact.FileName()
		if err := m.offsite.Delete(ctx, name); err != nil {
			m.logger.Warnf("failed to delete offsite copy of %s: %v", name, err)
		}
		if err := m.offsite.Delete(ctx, ChecksumDirName+"/"+name+ChecksumSuffix); err != nil {
			m.logger.Warnf("failed to delete offsite checksum of %s: %v", name, err)
		}
	}

	return m.markers.Delete(artifact.Database, artifact.Timestamp)
}

// CleanBinlogs deletes staged binlog segments no retained backup needs.
// Across all databases the oldest coordinate of the last
// RetainGenerations full generations is the floor; segments strictly
// before its file survive nowhere and are removed. The newest staged
// segment is never deleted.
func (m *Manager) CleanBinlogs(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	start := m.clock()
	result := &CleanupResult{DryRun: dryRun}

	lock := NewFileLock(m.cfg.BackupDir)
	if err := lock.Acquire(); err != nil {
		return result, err
	}
	defer lock.Release()

	floor, haveFloor, err := m.retainedFloor()
	if err != nil {
		return result, err
	}

	staged, err := m.binlogs.StagedSegments()
	if err != nil {
		return result, err
	}
	if len(staged) == 0 {
		m.logger.LogCleanup("binlogs", 0, 0, dryRun, m.clock().Sub(start))
		return result, nil
	}
	if !haveFloor {
		// No retained backup references any coordinate; deleting
		// segments would be guesswork.
		result.Kept = len(staged)
		m.logger.LogCleanup("binlogs", 0, result.Kept, dryRun, m.clock().Sub(start))
		return result, nil
	}

	floorSeq, err := SegmentSequence(floor.File)
	if err != nil {
		return result, err
	}

	newest := staged[len(staged)-1].Name
	for _, segment := range staged {
		seq, err := SegmentSequence(segment.Name)
		if err != nil {
			result.Kept++
			continue
		}
		if seq >= floorSeq || segment.Name == newest {
			result.Kept++
			continue
		}

		result.Removed = append(result.Removed, segment.Name)
		result.Deleted++
		if !dryRun {
			if err := m.binlogs.DeleteSegment(segment.Name); err != nil {
				return result, err
			}
		}
	}

	m.logger.LogCleanup("binlogs", result.Deleted, result.Kept, dryRun, m.clock().Sub(start))
	return result, nil
}

// retainedFloor finds the oldest coordinate any retained generation
// still needs, across all databases.
func (m *Manager) retainedFloor() (Coordinate, bool, error) {
	fulls, err := ListArtifacts(m.cfg.BackupDir, "", ModeFull)
	if err != nil {
		return Coordinate{}, false, err
	}

	byDatabase := make(map[string][]Artifact)
	for _, artifact := range fulls {
		byDatabase[artifact.Database] = append(byDatabase[artifact.Database], artifact)
	}

	var coords []Coordinate
	for name, artifacts := range byDatabase {
		keepFrom := len(artifacts) - m.cfg.RetainGenerations
		if keepFrom < 0 {
			keepFrom = 0
		}
		for _, artifact := range artifacts[keepFrom:] {
			marker, err := m.markers.ForTimestamp(name, artifact.Timestamp)
			if err != nil {
				if IsType(err, BackupErrorTypeNotFound) {
					continue
				}
				return Coordinate{}, false, err
			}
			coords = append(coords, marker.Coordinate)
		}
	}
	if len(coords) == 0 {
		return Coordinate{}, false, nil
	}

	sort.Slice(coords, func(i, j int) bool {
		before, err := coords[i].Before(coords[j])
		return err == nil && before
	})
	return coords[0], true, nil
}
