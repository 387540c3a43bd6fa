// Package config holds the process-wide options recognized by backupd (§6):
// repository/restore paths, the engine binary, storage thresholds, and the
// timing knobs for the Job Registry and Orchestrator. Options are populated
// from cobra flags that default to environment variables, the same
// flag-then-env pattern used by the teacher's cmd/server/main.go.
package config

import (
	"fmt"
	"os"
	"time"
)

// Options is the fully resolved process configuration. The zero value is not
// meaningful — start from Defaults or construct it directly in tests.
type Options struct {
	// RepositoryBasePath is the root directory under which per-share engine
	// repositories live: {RepositoryBasePath}/{device_id}/{share_id}.
	RepositoryBasePath string
	// EngineBinaryPath is the name or absolute path of the backup engine CLI.
	EngineBinaryPath string
	// RestoreRoot is the only directory tree restore targets may resolve into.
	RestoreRoot string
	// ConfigStoreRoot is the directory holding the devices/ and shares/ YAML trees.
	ConfigStoreRoot string
	// StateDir holds the Log Store's newline-delimited JSON file and the
	// mounts/ directory. The Job Sink database location comes from DBDSN.
	StateDir string
	DBDriver string
	DBDSN    string
	LogLevel string

	WarningPercent     float64
	CriticalPercent    float64
	ExhaustedPercent   float64
	MinimumFreeBytes   int64
	CompletedJobTTL    time.Duration
	// ProgressInterval and ProgressThreshold carry the progress-broadcast
	// defaults; internal/jobregistry uses its own constants and does not
	// read them.
	ProgressInterval   time.Duration
	ProgressThreshold  float64
	WakeWaitSeconds    time.Duration
	PBKDF2Iterations   int
}

// Defaults returns an Options populated with the defaults documented in
// spec §6, before flags or environment variables are applied.
func Defaults() Options {
	return Options{
		RepositoryBasePath: "./repositories",
		EngineBinaryPath:   "backup-engine",
		RestoreRoot:        "./restores",
		ConfigStoreRoot:    "./config",
		StateDir:           "./state",
		DBDriver:           "sqlite",
		DBDSN:              "./state/backupd.db",
		LogLevel:           "info",
		WarningPercent:     80,
		CriticalPercent:    90,
		ExhaustedPercent:   95,
		MinimumFreeBytes:   1 << 30, // 1 GiB
		CompletedJobTTL:    time.Hour,
		ProgressInterval:   500 * time.Millisecond,
		ProgressThreshold:  1.0,
		WakeWaitSeconds:    30 * time.Second,
		PBKDF2Iterations:   150_000,
	}
}

// Validate rejects configurations that would make the orchestrator unsafe to
// run, mirroring the teacher's "secret key is required" startup check.
func (o Options) Validate() error {
	if o.RepositoryBasePath == "" {
		return fmt.Errorf("config: repository_base_path must not be empty")
	}
	if o.EngineBinaryPath == "" {
		return fmt.Errorf("config: engine_binary_path must not be empty")
	}
	if o.RestoreRoot == "" {
		return fmt.Errorf("config: restore_root must not be empty")
	}
	if o.WarningPercent <= 0 || o.CriticalPercent <= o.WarningPercent || o.ExhaustedPercent <= o.CriticalPercent {
		return fmt.Errorf("config: storage thresholds must satisfy 0 < warning < critical < exhausted")
	}
	if o.PBKDF2Iterations < 1000 {
		return fmt.Errorf("config: pbkdf2_iterations must be at least 1000, got %d", o.PBKDF2Iterations)
	}
	return nil
}

// EnvOrDefault returns the value of the named environment variable, or def if
// it is unset or empty. Used to seed cobra flag defaults before parsing.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
