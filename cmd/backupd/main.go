package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gormlogger "gorm.io/gorm/logger"

	"github.com/arkeepbackup/backupd/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliConfig bundles the resolved internal/config.Options with the one
// setting that never belongs in a shared Options struct: the master key.
type cliConfig struct {
	options   config.Options
	masterKey string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{options: config.Defaults()}

	root := &cobra.Command{
		Use:   "backupd",
		Short: "backupd — version-controlled backup orchestration daemon",
		Long: `backupd schedules and drives backups of networked devices and
shares: it wakes devices over LAN, mounts their shares, runs an external
deduplicating backup engine against them, and tracks job history and
snapshots for browsing and restore.`,
	}

	root.PersistentFlags().StringVar(&cfg.options.ConfigStoreRoot, "data-dir", config.EnvOrDefault("BACKUPD_DATA_DIR", cfg.options.ConfigStoreRoot), "Directory for declarative configuration (devices/shares)")
	root.PersistentFlags().StringVar(&cfg.options.StateDir, "state-dir", config.EnvOrDefault("BACKUPD_STATE_DIR", cfg.options.StateDir), "Directory for mount points and the execution log file (the Job Sink database location is set by --db-dsn)")
	root.PersistentFlags().StringVar(&cfg.options.RepositoryBasePath, "repo-base", config.EnvOrDefault("BACKUPD_REPO_BASE", cfg.options.RepositoryBasePath), "Base directory under which per-share repositories are created")
	root.PersistentFlags().StringVar(&cfg.options.RestoreRoot, "restore-root", config.EnvOrDefault("BACKUPD_RESTORE_ROOT", cfg.options.RestoreRoot), "Base directory restores are written under")
	root.PersistentFlags().StringVar(&cfg.options.EngineBinaryPath, "engine-path", config.EnvOrDefault("BACKUPD_ENGINE_PATH", cfg.options.EngineBinaryPath), "Path to the external backup engine binary")
	root.PersistentFlags().StringVar(&cfg.options.DBDriver, "db-driver", config.EnvOrDefault("BACKUPD_DB_DRIVER", cfg.options.DBDriver), "Job Sink database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.options.DBDSN, "db-dsn", config.EnvOrDefault("BACKUPD_DB_DSN", cfg.options.DBDSN), "Job Sink database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.masterKey, "master-key", config.EnvOrDefault("BACKUPD_MASTER_KEY", ""), "Master key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.options.LogLevel, "log-level", config.EnvOrDefault("BACKUPD_LOG_LEVEL", cfg.options.LogLevel), "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.options.CompletedJobTTL, "job-ttl", envDurationOrDefault("BACKUPD_JOB_TTL", cfg.options.CompletedJobTTL), "How long a completed job stays queryable before eviction")
	root.PersistentFlags().DurationVar(&cfg.options.WakeWaitSeconds, "wake-wait", envDurationOrDefault("BACKUPD_WAKE_WAIT", cfg.options.WakeWaitSeconds), "Grace period after a wake-on-LAN packet before mounting")
	root.PersistentFlags().IntVar(&cfg.options.PBKDF2Iterations, "pbkdf2-iterations", envIntOrDefault("BACKUPD_PBKDF2_ITERATIONS", cfg.options.PBKDF2Iterations), "PBKDF2 iteration count for derived repository keys")
	root.PersistentFlags().Float64Var(&cfg.options.WarningPercent, "warning-percent", envFloatOrDefault("BACKUPD_WARNING_PERCENT", cfg.options.WarningPercent), "Storage usage percentage considered a warning")
	root.PersistentFlags().Float64Var(&cfg.options.CriticalPercent, "critical-percent", envFloatOrDefault("BACKUPD_CRITICAL_PERCENT", cfg.options.CriticalPercent), "Storage usage percentage considered critical")
	root.PersistentFlags().Float64Var(&cfg.options.ExhaustedPercent, "exhausted-percent", envFloatOrDefault("BACKUPD_EXHAUSTED_PERCENT", cfg.options.ExhaustedPercent), "Storage usage percentage considered exhausted")
	root.PersistentFlags().Int64Var(&cfg.options.MinimumFreeBytes, "min-free-bytes", envInt64OrDefault("BACKUPD_MIN_FREE_BYTES", cfg.options.MinimumFreeBytes), "Minimum free bytes required regardless of percentage thresholds")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newDeviceCmd(cfg))
	root.AddCommand(newShareCmd(cfg))
	root.AddCommand(newBackupCmd(cfg))
	root.AddCommand(newCancelCmd(cfg))
	root.AddCommand(newJobsCmd(cfg))
	root.AddCommand(newSnapshotsCmd(cfg))
	root.AddCommand(newBrowseCmd(cfg))
	root.AddCommand(newRestoreCmd(cfg))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backupd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func requireMasterKey(cfg *cliConfig) error {
	if cfg.masterKey == "" {
		return fmt.Errorf("master key is required — set --master-key or BACKUPD_MASTER_KEY")
	}
	return nil
}

func signalContext() (func(), chan struct{}) {
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(done)
	}()
	return func() { signal.Stop(sigCh) }, done
}

// gormLogLevel maps the application log level to a GORM verbosity, a
// concern internal/logging has no opinion on since it only builds *zap.Logger.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return defaultVal
	}
	return f
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
