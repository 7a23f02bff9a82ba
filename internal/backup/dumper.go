package backup

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"mariadb-backup/internal/container"
	"mariadb-backup/internal/database"
)

// Dumper produces logical dumps with the server's dump tool. MariaDB
// ships mariadb-dump, older installations only mysqldump; the runner
// resolves whichever exists.
type Dumper struct {
	runner *container.Runner
	server database.ServerConfig
	tool   string
}

// NewDumper creates a dumper, resolving the dump tool once
func NewDumper(runner *container.Runner, server database.ServerConfig) (*Dumper, error) {
	tool, err := runner.ResolveTool("mariadb-dump", "mysqldump")
	if err != nil {
		return nil, NewDumpError("no dump tool available", err)
	}

	return &Dumper{runner: runner, server: server, tool: tool}, nil
}

// connectionArgs builds the client connection flags. In container mode
// the tool talks to the local server over its socket, so only the user
// is passed; the password travels via MYSQL_PWD either way.
func (d *Dumper) connectionArgs() []string {
	args := []string{"-u", d.server.Username}
	if !d.runner.InContainer() {
		args = append(args,
			"-h", d.server.Host,
			"-P", strconv.Itoa(d.server.Port))
	}
	return args
}

// Dump streams a consistent logical dump of one database to w.
// The dump is transactionally consistent and includes routines,
// triggers and events so a restore reproduces the full schema.
func (d *Dumper) Dump(ctx context.Context, databaseName string, w io.Writer) error {
	args := d.connectionArgs()
	args = append(args,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--databases", databaseName,
	)

	if err := d.runner.Run(ctx, d.tool, args, w, nil); err != nil {
		return NewDumpError(
			fmt.Sprintf("dump of database %q failed", databaseName), err).
			WithContext("database", databaseName)
	}

	return nil
}

// Importer feeds SQL into the server through the client tool. Used for
// dump imports and binlog replay output.
type Importer struct {
	runner *container.Runner
	server database.ServerConfig
	tool   string
}

// NewImporter creates an importer, resolving the client tool once
func NewImporter(runner *container.Runner, server database.ServerConfig) (*Importer, error) {
	tool, err := runner.ResolveTool("mariadb", "mysql")
	if err != nil {
		return nil, NewRestoreError("no client tool available", err)
	}

	return &Importer{runner: runner, server: server, tool: tool}, nil
}

func (i *Importer) connectionArgs() []string {
	args := []string{"-u", i.server.Username}
	if !i.runner.InContainer() {
		args = append(args,
			"-h", i.server.Host,
			"-P", strconv.Itoa(i.server.Port))
	}
	return args
}

// Import streams SQL from r into the server. databaseName may be empty
// for statements that carry their own USE, as dumps taken with
// --databases do.
func (i *Importer) Import(ctx context.Context, databaseName string, r io.Reader) error {
	args := i.connectionArgs()
	if databaseName != "" {
		args = append(args, databaseName)
	}

	if err := i.runner.Run(ctx, i.tool, args, nil, r); err != nil {
		return NewRestoreError("SQL import failed", err).
			WithContext("database", databaseName)
	}

	return nil
}

// ImportLenient is Import with --force: statement errors are reported
// by the client but the stream keeps replaying. Used for binlog replay
// when the operator accepts partial application.
func (i *Importer) ImportLenient(ctx context.Context, databaseName string, r io.Reader) error {
	args := i.connectionArgs()
	args = append(args, "--force")
	if databaseName != "" {
		args = append(args, databaseName)
	}

	if err := i.runner.Run(ctx, i.tool, args, nil, r); err != nil {
		return NewRestoreError("SQL import failed", err).
			WithContext("database", databaseName)
	}

	return nil
}
