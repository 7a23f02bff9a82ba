package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format embedded in artifact and
// marker file names.
const TimestampLayout = "20060102_150405"

const (
	markerDirName  = "binlog_info"
	markerPrefix   = "last_binlog_info_"
	markerSuffix   = ".txt"
	markerFileMode = 0o644
)

// Marker records the binlog coordinate captured when a full backup of
// one database completed. Incremental backups extract everything
// written after the newest marker.
type Marker struct {
	Database   string
	Timestamp  time.Time
	Coordinate Coordinate
	Path       string
}

// MarkerStore reads and writes coordinate markers under
// <backupDir>/binlog_info/.
type MarkerStore struct {
	dir string
}

// NewMarkerStore creates a marker store rooted at backupDir
func NewMarkerStore(backupDir string) *MarkerStore {
	return &MarkerStore{dir: filepath.Join(backupDir, markerDirName)}
}

// Dir returns the marker directory
func (ms *MarkerStore) Dir() string {
	return ms.dir
}

// EnsureDir creates the marker directory if missing
func (ms *MarkerStore) EnsureDir() error {
	if err := os.MkdirAll(ms.dir, 0o755); err != nil {
		return NewStorageError("failed to create marker directory", err)
	}
	return nil
}

// markerFileName builds the file name for a database and timestamp
func markerFileName(database string, timestamp time.Time) string {
	return markerPrefix + database + "_" + timestamp.Format(TimestampLayout) + markerSuffix
}

// parseMarkerFileName extracts database and timestamp from a marker
// file name. Database names may contain underscores, so the timestamp
// is taken from the fixed-width tail.
func parseMarkerFileName(name string) (database string, timestamp time.Time, ok bool) {
	if !strings.HasPrefix(name, markerPrefix) || !strings.HasSuffix(name, markerSuffix) {
		return "", time.Time{}, false
	}

	core := strings.TrimSuffix(strings.TrimPrefix(name, markerPrefix), markerSuffix)
	if len(core) < len(TimestampLayout)+2 {
		return "", time.Time{}, false
	}

	tsPart := core[len(core)-len(TimestampLayout):]
	dbPart := core[:len(core)-len(TimestampLayout)-1]
	if core[len(core)-len(TimestampLayout)-1] != '_' || dbPart == "" {
		return "", time.Time{}, false
	}

	ts, err := time.Parse(TimestampLayout, tsPart)
	if err != nil {
		return "", time.Time{}, false
	}

	return dbPart, ts, true
}

// Write persists a marker atomically. The content is written to a
// temporary file in the same directory and renamed into place, so a
// reader never observes a partially written marker.
func (ms *MarkerStore) Write(database string, timestamp time.Time, coord Coordinate) (*Marker, error) {
	if coord.File == "" {
		return nil, NewMarkerError("refusing to write marker with empty segment file", nil).
			WithContext("database", database)
	}
	if _, err := SegmentSequence(coord.File); err != nil {
		return nil, err
	}

	if err := ms.EnsureDir(); err != nil {
		return nil, err
	}

	finalPath := filepath.Join(ms.dir, markerFileName(database, timestamp))

	tmp, err := os.CreateTemp(ms.dir, ".marker-*")
	if err != nil {
		return nil, NewMarkerError("failed to create temporary marker file", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.WriteString(coord.String() + "\n")
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		return nil, NewMarkerError("failed to write marker content", writeErr)
	}

	if err := os.Chmod(tmpPath, markerFileMode); err != nil {
		os.Remove(tmpPath)
		return nil, NewMarkerError("failed to set marker permissions", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, NewMarkerError("failed to move marker into place", err)
	}

	return &Marker{
		Database:   database,
		Timestamp:  timestamp,
		Coordinate: coord,
		Path:       finalPath,
	}, nil
}

// List returns all markers for a database, oldest first. A database of
// "" lists markers for every database.
func (ms *MarkerStore) List(database string) ([]Marker, error) {
	entries, err := os.ReadDir(ms.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("failed to read marker directory", err)
	}

	var markers []Marker
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		db, ts, ok := parseMarkerFileName(entry.Name())
		if !ok {
			continue
		}
		if database != "" && db != database {
			continue
		}

		path := filepath.Join(ms.dir, entry.Name())
		coord, err := ms.read(path)
		if err != nil {
			return nil, err
		}

		markers = append(markers, Marker{
			Database:   db,
			Timestamp:  ts,
			Coordinate: coord,
			Path:       path,
		})
	}

	sort.Slice(markers, func(i, j int) bool {
		return markers[i].Timestamp.Before(markers[j].Timestamp)
	})

	return markers, nil
}

// Latest returns the newest marker for a database, or a NotFound error
// when the database has no marker yet.
func (ms *MarkerStore) Latest(database string) (*Marker, error) {
	markers, err := ms.List(database)
	if err != nil {
		return nil, err
	}
	if len(markers) == 0 {
		return nil, NewNotFoundError(
			fmt.Sprintf("no binlog marker found for database %q, run a full backup first", database), nil).
			WithContext("database", database)
	}

	latest := markers[len(markers)-1]
	return &latest, nil
}

// ForTimestamp returns the marker written by the backup run with the
// given timestamp.
func (ms *MarkerStore) ForTimestamp(database string, timestamp time.Time) (*Marker, error) {
	path := filepath.Join(ms.dir, markerFileName(database, timestamp))
	coord, err := ms.read(path)
	if err != nil {
		return nil, err
	}

	return &Marker{
		Database:   database,
		Timestamp:  timestamp,
		Coordinate: coord,
		Path:       path,
	}, nil
}

// Delete removes a marker file. Missing files are not an error so
// cleanup stays idempotent.
func (ms *MarkerStore) Delete(database string, timestamp time.Time) error {
	path := filepath.Join(ms.dir, markerFileName(database, timestamp))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return NewMarkerError("failed to delete marker", err).
			WithContext("path", path)
	}
	return nil
}

func (ms *MarkerStore) read(path string) (Coordinate, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Coordinate{}, NewNotFoundError(
			fmt.Sprintf("marker file %s does not exist", filepath.Base(path)), err)
	}
	if err != nil {
		return Coordinate{}, NewMarkerError("failed to read marker file", err).
			WithContext("path", path)
	}

	coord, err := ParseCoordinate(string(content))
	if err != nil {
		if backupErr, ok := err.(*BackupError); ok {
			backupErr.WithContext("path", path)
		}
		return Coordinate{}, err
	}

	return coord, nil
}
