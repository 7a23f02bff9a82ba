package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mariadb-backup/internal/backup"
	"mariadb-backup/internal/display"
)

func newCleanupBackupsCommand() *cobra.Command {
	var (
		dryRun     bool
		retain     int
		reportFile string
	)

	cmd := &cobra.Command{
		Use:   "cleanup-backups",
		Short: "Delete full backups beyond the retention window",
		Long: `Per database, keeps the newest full backup artifacts and deletes
older ones together with their checksum sidecars, coordinate markers
and incremental artifacts that no retained full backup can serve as a
base for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retain") {
				cfg.RetainFullBackups = retain
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			printer := newPrinter()

			manager, err := backup.NewManager(context.Background(), cfg, logger)
			if err != nil {
				return err
			}

			result, err := manager.CleanBackups(context.Background(), dryRun)
			if err != nil {
				return err
			}
			printCleanupResult(printer, "backups", result)
			if reportFile != "" {
				return writeCleanupReport(reportFile, "backups", result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted without deleting")
	cmd.Flags().IntVar(&retain, "retain", backup.DefaultRetainFullBackups, "full backups to keep per database")
	cmd.Flags().StringVar(&reportFile, "report", "", "write a YAML summary to this file")

	return cmd
}

func newCleanupBinlogsCommand() *cobra.Command {
	var (
		dryRun      bool
		generations int
		reportFile  string
	)

	cmd := &cobra.Command{
		Use:   "cleanup-binlogs",
		Short: "Delete staged binlog segments no retained backup needs",
		Long: `Computes the oldest binlog coordinate any retained backup generation
still references and deletes every staged segment before it. The
newest staged segment is never deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("generations") {
				cfg.RetainGenerations = generations
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			printer := newPrinter()

			manager, err := backup.NewManager(context.Background(), cfg, logger)
			if err != nil {
				return err
			}

			result, err := manager.CleanBinlogs(context.Background(), dryRun)
			if err != nil {
				return err
			}
			printCleanupResult(printer, "binlog segments", result)
			if reportFile != "" {
				return writeCleanupReport(reportFile, "binlogs", result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted without deleting")
	cmd.Flags().IntVar(&generations, "generations", backup.DefaultRetainGenerations, "full backup generations whose binlogs to keep")
	cmd.Flags().StringVar(&reportFile, "report", "", "write a YAML summary to this file")

	return cmd
}

func printCleanupResult(printer *display.Printer, kind string, result *backup.CleanupResult) {
	verb := "deleted"
	if result.DryRun {
		verb = "would delete"
	}
	for _, name := range result.Removed {
		printer.Info(fmt.Sprintf("%s %s", verb, name))
	}
	printer.Success(fmt.Sprintf("%s: %s %d, kept %d", kind, verb, result.Deleted, result.Kept))
}

type cleanupReport struct {
	Kind    string   `yaml:"kind"`
	DryRun  bool     `yaml:"dry_run"`
	Deleted int      `yaml:"deleted"`
	Kept    int      `yaml:"kept"`
	Removed []string `yaml:"removed,omitempty"`
}

func writeCleanupReport(path, kind string, result *backup.CleanupResult) error {
	data, err := yaml.Marshal(cleanupReport{
		Kind:    kind,
		DryRun:  result.DryRun,
		Deleted: result.Deleted,
		Kept:    result.Kept,
		Removed: result.Removed,
	})
	if err != nil {
		return fmt.Errorf("failed to build cleanup report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cleanup report: %w", err)
	}
	return nil
}
