package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mariadb-backup/internal/errors"
	"mariadb-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Flavor identifies the server implementation behind the MySQL protocol
type Flavor string

const (
	FlavorMariaDB Flavor = "mariadb"
	FlavorMySQL   Flavor = "mysql"
)

// systemSchemas are never backed up or restored
var systemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
}

// BinaryLog describes one entry from SHOW BINARY LOGS
type BinaryLog struct {
	Name string
	Size int64
}

// Coordinate is a position in the binary log stream
type Coordinate struct {
	File     string
	Position uint64
}

// DatabaseService defines the server operations the backup tool needs
type DatabaseService interface {
	Connect(config ServerConfig) (*sql.DB, error)
	TestConnection(db *sql.DB) error
	Close(db *sql.DB) error
	ServerVersion(db *sql.DB) (string, Flavor, error)
	ListDatabases(db *sql.DB) ([]string, error)
	DatabaseExists(db *sql.DB, name string) (bool, error)
	DatabaseHasTables(db *sql.DB, name string) (bool, error)
	MasterStatus(db *sql.DB) (*Coordinate, error)
	BinaryLogs(db *sql.DB) ([]BinaryLog, error)
	FlushBinaryLogs(db *sql.DB) error
	BinaryLoggingEnabled(db *sql.DB) (bool, error)
	BinlogBasename(db *sql.DB) (string, error)
}

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// Connect establishes a connection to the server with retry logic.
// Only connection establishment retries; later statement failures are
// reported to the caller directly.
func (s *Service) Connect(config ServerConfig) (*sql.DB, error) {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"host": config.Host,
		"port": config.Port,
	}).Info("Attempting database connection")

	ctx, cancel := errors.CreateContextWithTimeout(s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var connectErr error

		db, connectErr = sql.Open("mysql", config.DSN())
		if connectErr != nil {
			return errors.WrapError(connectErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if testErr := s.TestConnection(db); testErr != nil {
			db.Close()
			return testErr
		}

		return nil
	})

	duration := time.Since(startTime)
	s.logger.LogDatabaseConnection(config.Host, "", err == nil, duration, err)

	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeConnection,
			fmt.Sprintf("cannot reach server at %s:%d", config.Host, config.Port), err)
	}

	return db, nil
}

// TestConnection verifies the connection is usable
func (s *Service) TestConnection(db *sql.DB) error {
	ctx, cancel := errors.CreateContextWithTimeout(10 * time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.NewRecoverableError(errors.ErrorTypeConnection,
			"database ping failed", err)
	}

	return nil
}

// Close closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// ServerVersion returns the version string and the detected flavor
func (s *Service) ServerVersion(db *sql.DB) (string, Flavor, error) {
	var version string
	if err := db.QueryRow("SELECT VERSION()").Scan(&version); err != nil {
		return "", "", errors.WrapError(err, "failed to query server version")
	}

	flavor := FlavorMySQL
	if strings.Contains(strings.ToLower(version), "mariadb") {
		flavor = FlavorMariaDB
	}

	return version, flavor, nil
}

// ListDatabases returns user databases, excluding system schemas
func (s *Service) ListDatabases(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SHOW DATABASES")
	if err != nil {
		return nil, errors.WrapError(err, "failed to list databases")
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WrapError(err, "failed to scan database name")
		}
		if systemSchemas[name] {
			continue
		}
		databases = append(databases, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to iterate databases")
	}

	return databases, nil
}

// DatabaseExists reports whether the server knows the named database
func (s *Service) DatabaseExists(db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRow(
		"SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?",
		name,
	).Scan(&found)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapError(err, "failed to check database existence")
	}

	return true, nil
}

// DatabaseHasTables reports whether the database contains at least one table
func (s *Service) DatabaseHasTables(db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = ?",
		name,
	).Scan(&count)
	if err != nil {
		return false, errors.WrapError(err, "failed to count tables")
	}

	return count > 0, nil
}

// MasterStatus returns the server's current binlog write coordinate.
// The result column count varies across server versions, so the scan
// adapts to what the server sends.
func (s *Service) MasterStatus(db *sql.DB) (*Coordinate, error) {
	rows, err := db.Query("SHOW MASTER STATUS")
	if err != nil {
		return nil, errors.WrapError(err, "failed to query master status")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.WrapError(err, "failed to read master status")
		}
		return nil, errors.NewAppError(errors.ErrorTypeSQL,
			"server returned no master status, binary logging may be disabled", nil)
	}

	var file string
	var position uint64
	var doDB, ignoreDB, gtid sql.NullString

	cols, _ := rows.Columns()
	switch len(cols) {
	case 5:
		err = rows.Scan(&file, &position, &doDB, &ignoreDB, &gtid)
	case 4:
		err = rows.Scan(&file, &position, &doDB, &ignoreDB)
	default:
		err = rows.Scan(&file, &position)
	}
	if err != nil {
		return nil, errors.WrapError(err, "failed to scan master status")
	}

	return &Coordinate{File: file, Position: position}, nil
}

// BinaryLogs returns the binary log segments the server currently tracks
func (s *Service) BinaryLogs(db *sql.DB) ([]BinaryLog, error) {
	rows, err := db.Query("SHOW BINARY LOGS")
	if err != nil {
		return nil, errors.WrapError(err, "failed to list binary logs")
	}
	defer rows.Close()

	var logs []BinaryLog
	for rows.Next() {
		var log BinaryLog
		var encrypted sql.NullString

		cols, _ := rows.Columns()
		if len(cols) >= 3 {
			err = rows.Scan(&log.Name, &log.Size, &encrypted)
		} else {
			err = rows.Scan(&log.Name, &log.Size)
		}
		if err != nil {
			return nil, errors.WrapError(err, "failed to scan binary log entry")
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to iterate binary logs")
	}

	return logs, nil
}

// FlushBinaryLogs rotates the active binlog segment so the previous one
// becomes immutable and safe to stage
func (s *Service) FlushBinaryLogs(db *sql.DB) error {
	if _, err := db.Exec("FLUSH BINARY LOGS"); err != nil {
		return errors.WrapError(err, "failed to flush binary logs")
	}
	return nil
}

// BinaryLoggingEnabled reports whether the server writes a binary log.
// Incremental backups and point-in-time recovery need it on.
func (s *Service) BinaryLoggingEnabled(db *sql.DB) (bool, error) {
	var enabled bool
	if err := db.QueryRow("SELECT @@log_bin").Scan(&enabled); err != nil {
		return false, errors.WrapError(err, "failed to query binary logging state")
	}
	return enabled, nil
}

// BinlogBasename returns the server-side path prefix of binlog files
func (s *Service) BinlogBasename(db *sql.DB) (string, error) {
	var basename string
	if err := db.QueryRow("SELECT @@log_bin_basename").Scan(&basename); err != nil {
		return "", errors.WrapError(err, "failed to query binlog basename")
	}
	return basename, nil
}
