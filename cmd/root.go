package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mariadb-backup/internal/backup"
	"mariadb-backup/internal/database"
	"mariadb-backup/internal/display"
	apperrors "mariadb-backup/internal/errors"
	"mariadb-backup/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	// Server connection flags
	serverHost     string
	serverPort     int
	serverUser     string
	serverPassword string
	containerName  string

	// Layout flags
	backupDir string
	binlogDir string
	keyFile   string

	// Operation flags
	verbose   bool
	debug     bool
	quiet     bool
	logFile   string
	logFormat string
	noColor   bool
	noIcons   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mariadb-backup",
	Short: "Backup, point-in-time restore and retention for MariaDB",
	Long: `mariadb-backup takes logical full backups of a MariaDB server, tracks
binary-log coordinates for point-in-time recovery, extracts incremental
binlog deltas, and prunes old backups and staged binlog segments on
retention policies. Artifacts are compressed, encrypted and
checksummed; the server may run directly on the host or inside a
Docker container.

Examples:
  # Full backup of every non-system database
  mariadb-backup backup --full --container mariadb

  # Incremental backup of one database
  mariadb-backup backup --incremental --database shop

  # Restore the latest full backup and replay binlogs to a timestamp
  mariadb-backup restore --database shop --backup-file LATEST \
                         --to-timestamp "2024-01-05 14:30:00"

  # Enforce retention policies
  mariadb-backup cleanup-backups
  mariadb-backup cleanup-binlogs --dry-run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code the error
// category demands.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mariadb-backup.yaml)")

	// Server connection flags
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "127.0.0.1", "database server host")
	rootCmd.PersistentFlags().IntVar(&serverPort, "port", 3306, "database server port")
	rootCmd.PersistentFlags().StringVar(&serverUser, "user", "root", "database username")
	rootCmd.PersistentFlags().StringVar(&serverPassword, "password", "", "database password")
	rootCmd.PersistentFlags().StringVar(&containerName, "container", "", "Docker container running the server (empty for host tools)")

	// Layout flags
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "backups", "directory for backup artifacts")
	rootCmd.PersistentFlags().StringVar(&binlogDir, "binlog-dir", "", "directory for staged binlog segments (default <backup-dir>/binlogs)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "encryption key file (default "+backup.DefaultKeyFileName+")")

	// Operation flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().BoolVar(&noIcons, "no-icons", false, "disable Unicode icons")

	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.username", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("server.password", rootCmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("container", rootCmd.PersistentFlags().Lookup("container"))
	viper.BindPFlag("backup_dir", rootCmd.PersistentFlags().Lookup("backup-dir"))
	viper.BindPFlag("binlog_dir", rootCmd.PersistentFlags().Lookup("binlog-dir"))
	viper.BindPFlag("key_file", rootCmd.PersistentFlags().Lookup("key"))

	rootCmd.AddCommand(
		newBackupCommand(),
		newRestoreCommand(),
		newCleanupBackupsCommand(),
		newCleanupBinlogsCommand(),
		newEncryptCommand(),
		createVersionCommand(),
		createConfigCommand(),
	)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mariadb-backup")
	}

	viper.SetEnvPrefix("MARIADB_BACKUP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds the effective configuration from config file,
// environment and flags.
func loadConfig() (*backup.Config, error) {
	cfg := &backup.Config{Compress: true, Checksums: true}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "cannot parse configuration", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the run logger from the operation flags
func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if debug {
		level = logging.LogLevelDebug
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  logFormat,
		LogFile: logFile,
	})
}

// newPrinter builds the status printer for the run narrative
func newPrinter() *display.Printer {
	theme := display.DefaultTheme()
	colorSys := display.NewColorSystem()
	if noColor {
		theme = display.PlainTheme()
		colorSys = display.NewPlainColorSystem()
	}
	return display.NewPrinter(display.PrinterOptions{
		ColorSys: colorSys,
		Theme:    theme,
		UseIcons: !noIcons,
		Quiet:    quiet,
	})
}

func validateFlags() error {
	if (verbose || debug) && quiet {
		return fmt.Errorf("--quiet cannot be combined with --verbose or --debug")
	}
	return nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mariadb-backup version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand printing a sample
// configuration file.
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sample := backup.Config{
				Server: database.ServerConfig{
					Host:     "127.0.0.1",
					Port:     3306,
					Username: "root",
					Password: "secret",
				},
				Container: "mariadb",
				Compress:  true,
				Checksums: true,
			}
			sample.SetDefaults()

			out, err := yaml.Marshal(&sample)
			if err != nil {
				return err
			}
			fmt.Println("# Sample mariadb-backup configuration")
			fmt.Println("# Save as ~/.mariadb-backup.yaml or pass with --config")
			fmt.Print(string(out))
			return nil
		},
	}
}
