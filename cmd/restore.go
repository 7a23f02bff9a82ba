package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mariadb-backup/internal/backup"
	"mariadb-backup/internal/display"
	apperrors "mariadb-backup/internal/errors"
)

// RestoreAll restores every database that has a full backup
const RestoreAll = "ALL"

func newRestoreCommand() *cobra.Command {
	var (
		databaseName string
		backupFile   string
		toTimestamp  string
		toLatest     bool
		strict       bool
		yes          bool
		reportFile   string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a database from a backup, optionally to a point in time",
		Long: `Restores a database from a full backup artifact. With --last or
--to-timestamp the binary logs recorded since that backup are replayed
on top of the base import, up to the next backup generation, the given
timestamp, or the end of the staged segments.

The backup is chosen with --backup-file (a file name or LATEST); when
the flag is omitted on a terminal an interactive picker lists the
available artifacts. --database ALL restores the latest full backup of
every database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(); err != nil {
				return err
			}
			if databaseName == "" {
				return fmt.Errorf("--database is required (a name or %s)", RestoreAll)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			printer := newPrinter()

			opts := backup.RestoreOptions{
				BackupFile: backupFile,
				ToLatest:   toLatest,
				Strict:     strict,
			}
			if toTimestamp != "" {
				target, err := time.ParseInLocation("2006-01-02 15:04:05", toTimestamp, time.Local)
				if err != nil {
					return apperrors.NewAppError(apperrors.ErrorTypeConfiguration,
						fmt.Sprintf("invalid --to-timestamp %q, expected YYYY-MM-DD HH:MM:SS", toTimestamp), err)
				}
				opts.ToTime = &target
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := backup.NewManager(ctx, cfg, logger)
			if err != nil {
				return err
			}

			if databaseName == RestoreAll {
				if !yes {
					if ok := confirmRestore(printer, "every database with a full backup"); !ok {
						printer.Info("restore cancelled")
						return nil
					}
				}
				results, err := manager.RunRestoreAll(ctx, opts)
				for _, result := range results {
					if result.Err != nil {
						printer.Error(fmt.Sprintf("%s: %v", result.Database, result.Err))
					} else {
						printer.Success(fmt.Sprintf("%s restored from %s (%d segments replayed)",
							result.Database, result.Artifact, result.SegmentsReplayed))
					}
				}
				if reportFile != "" {
					if reportErr := writeRestoreReport(reportFile, results); reportErr != nil {
						return reportErr
					}
				}
				return err
			}

			opts.Database = databaseName
			if opts.BackupFile == "" {
				selected, err := pickBackupFile(cfg, databaseName)
				if err != nil {
					return err
				}
				opts.BackupFile = selected
			}
			if !yes {
				if ok := confirmRestore(printer, databaseName); !ok {
					printer.Info("restore cancelled")
					return nil
				}
			}

			result, err := manager.RunRestore(ctx, opts)
			if err != nil {
				return err
			}
			if reportFile != "" {
				if err := writeRestoreReport(reportFile, []backup.RestoreResult{*result}); err != nil {
					return err
				}
			}

			printer.Success(fmt.Sprintf("%s restored from %s (%d segments replayed)",
				result.Database, result.Artifact, result.SegmentsReplayed))
			if result.SegmentsFailed > 0 {
				printer.Warning(fmt.Sprintf("%d binlog segments failed to replay, the restore may be incomplete",
					result.SegmentsFailed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseName, "database", "", "database to restore, or "+RestoreAll)
	cmd.Flags().StringVar(&backupFile, "backup-file", "", "backup artifact file name, or "+backup.LatestBackup)
	cmd.Flags().StringVar(&toTimestamp, "to-timestamp", "", `replay binlogs up to "YYYY-MM-DD HH:MM:SS"`)
	cmd.Flags().BoolVar(&toLatest, "last", false, "replay all available binlogs after the base import")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort when a binlog segment fails to replay")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&reportFile, "report", "", "write a YAML summary to this file")

	return cmd
}

type restoreReportEntry struct {
	Database         string `yaml:"database"`
	Artifact         string `yaml:"artifact,omitempty"`
	SegmentsReplayed int    `yaml:"segments_replayed"`
	SegmentsFailed   int    `yaml:"segments_failed"`
	Error            string `yaml:"error,omitempty"`
}

func writeRestoreReport(path string, results []backup.RestoreResult) error {
	entries := make([]restoreReportEntry, len(results))
	for i, result := range results {
		entries[i] = restoreReportEntry{
			Database:         result.Database,
			Artifact:         result.Artifact,
			SegmentsReplayed: result.SegmentsReplayed,
			SegmentsFailed:   result.SegmentsFailed,
		}
		if result.Err != nil {
			entries[i].Error = result.Err.Error()
		}
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to build restore report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write restore report: %w", err)
	}
	return nil
}

// pickBackupFile lets the operator choose an artifact on a terminal and
// falls back to the latest full backup otherwise.
func pickBackupFile(cfg *backup.Config, databaseName string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return backup.LatestBackup, nil
	}

	artifacts, err := backup.ListArtifacts(cfg.BackupDir, databaseName, backup.ModeFull)
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", apperrors.NewAppError(apperrors.ErrorTypeRestore,
			fmt.Sprintf("no full backups found for %s", databaseName), nil)
	}

	items := make([]display.PickerItem, len(artifacts))
	for i, artifact := range artifacts {
		items[i] = display.PickerItem{
			Label:   artifact.FileName(),
			Details: fmt.Sprintf("%s, %d bytes", artifact.Timestamp.Format("2006-01-02 15:04:05"), artifact.Size),
		}
	}

	theme := display.DefaultTheme()
	colorSys := display.NewColorSystem()
	if noColor {
		theme = display.PlainTheme()
		colorSys = display.NewPlainColorSystem()
	}
	picker := display.NewPicker("Select a backup to restore", items, os.Stdout, os.Stdin, colorSys, theme)
	choice, err := picker.Pick()
	if err != nil {
		return "", err
	}
	return artifacts[choice].FileName(), nil
}

func confirmRestore(printer *display.Printer, what string) bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return true
	}

	theme := display.DefaultTheme()
	colorSys := display.NewColorSystem()
	if noColor {
		theme = display.PlainTheme()
		colorSys = display.NewPlainColorSystem()
	}
	ok, err := display.Confirm(
		fmt.Sprintf("Restoring %s overwrites existing data. Continue?", what),
		false, os.Stdout, os.Stdin, colorSys, theme)
	if err != nil {
		return false
	}
	return ok
}
