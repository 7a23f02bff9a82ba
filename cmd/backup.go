package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mariadb-backup/internal/backup"
)

func newBackupCommand() *cobra.Command {
	var (
		full         bool
		incremental  bool
		databaseName string
		includeEmpty bool
		noCompress   bool
		noChecksums  bool
		parallel     int
		compression  string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create full or incremental database backups",
		Long: `Creates backup artifacts for one or all non-system databases.

Full mode dumps each database, records its binary-log coordinate and
finalizes a compressed, encrypted, checksummed artifact. Incremental
mode extracts the binlog statements since the last recorded coordinate
into a new artifact; it requires an earlier full backup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(); err != nil {
				return err
			}
			if full == incremental {
				return fmt.Errorf("exactly one of --full or --incremental is required")
			}

			mode := backup.ModeFull
			if incremental {
				mode = backup.ModeIncremental
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if noCompress {
				cfg.Compress = false
			}
			if noChecksums {
				cfg.Checksums = false
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Parallelism = parallel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			printer := newPrinter()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := backup.NewManager(ctx, cfg, logger)
			if err != nil {
				return err
			}

			printer.Header(fmt.Sprintf("%s backup", mode))
			summary, err := manager.RunBackup(ctx, backup.BackupOptions{
				Mode:         mode,
				Database:     databaseName,
				IncludeEmpty: includeEmpty,
			})

			for _, result := range summary.Results {
				switch {
				case result.Err != nil:
					printer.Error(fmt.Sprintf("%s: %v", result.Database, result.Err))
				case result.Skipped:
					printer.Info(fmt.Sprintf("%s: skipped", result.Database))
				default:
					printer.Success(fmt.Sprintf("%s: %s (%d bytes)",
						result.Database, result.Artifact, result.Size))
				}
			}
			if err != nil {
				return err
			}

			printer.Success(fmt.Sprintf("backup run %s finished: %d succeeded, %d skipped",
				summary.RunID, summary.Succeeded(), summary.Skipped()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "take full dumps")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "extract binlog deltas since the last backup")
	cmd.Flags().StringVar(&databaseName, "database", "", "back up only this database")
	cmd.Flags().BoolVar(&includeEmpty, "include-empty", false, "also back up databases without tables")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "skip compression")
	cmd.Flags().BoolVar(&noChecksums, "no-checksums", false, "skip checksum sidecars")
	cmd.Flags().IntVar(&parallel, "parallel", backup.DefaultParallelism, "concurrent full dumps")
	cmd.Flags().StringVar(&compression, "compression", "", "compression algorithm (gzip, zstd, lz4)")
	viper.BindPFlag("compression", cmd.Flags().Lookup("compression"))

	return cmd
}
