// Package engine wraps the external deduplicating backup engine as a child
// process addressed through a JSON event stream (§4.4). Like the teacher's
// restic.Wrapper, this package never reimplements the engine's deduplication
// or repository format — it only drives the CLI and parses what it prints.
package engine

import (
	"errors"
	"time"
)

// BackupStatus is the terminal status of a Backup record (§3).
type BackupStatus string

const (
	BackupSuccess BackupStatus = "success"
	BackupPartial BackupStatus = "partial"
	BackupFailed  BackupStatus = "failed"
)

// Backup is the snapshot record returned by the engine (§3).
type Backup struct {
	ID              string
	DeviceID        string
	ShareID         string
	DeviceName      string
	ShareName       string
	Timestamp       time.Time
	Status          BackupStatus
	Paths           map[string]string // share name -> absolute path at backup time
	NewFiles        uint64
	ChangedFiles    uint64
	UnmodifiedFiles uint64
	NewDirs         uint64
	ChangedDirs     uint64
	BytesAdded      uint64
	BytesProcessed  uint64
	Duration        time.Duration
	ErrorMessage    string
	CreatedByJobID  string
}

// FileEntry is one row of a Browse listing (§4.4).
type FileEntry struct {
	Path    string
	Type    string // "file" or "dir"
	Size    uint64
	ModTime time.Time
}

// BackupMetadata carries the engine's repository-level metadata for a single
// backup, returned alongside Stats by GetBackupDetailComplete.
type BackupMetadata struct {
	Hostname string
	Tags     []string
	ParentID string
}

// Stats is the engine's reported size/index statistics for one backup.
type Stats struct {
	TotalSize     uint64
	TotalFileCount uint64
}

// Rules mirrors configstore.IncludeExcludeRules without importing that
// package — the engine client only needs the plain string slices to build
// CLI flags, it has no business depending on the configuration data model.
type Rules struct {
	ExcludePatterns  []string
	ExcludeRegex     []string
	IncludeOnlyRegex []string
	ExcludeIfPresent []string
}

// ProgressEvent is one JSON-line event parsed from the engine's --json
// stream. MessageType distinguishes "status", "summary", "warning", "error".
type ProgressEvent struct {
	MessageType    string  `json:"message_type"`
	PercentDone    float64 `json:"percent_done"`
	FilesDone      uint64  `json:"files_done"`
	TotalFiles     uint64  `json:"total_files"`
	BytesDone      uint64  `json:"bytes_done"`
	TotalBytes     uint64  `json:"total_bytes"`
	Message        string  `json:"message"`
	Raw            string  `json:"-"`
}

// ProgressFunc receives a live ProgressEvent during CreateBackup. Returning
// an error cancels the operation: the child process is sent SIGTERM and is
// killed only if it has not exited after backupGracePeriod.
type ProgressFunc func(event ProgressEvent) error

// WarningFunc / ErrorFunc receive non-fatal and fatal textual events.
type WarningFunc func(message string)
type ErrorFunc func(message string)

// ErrRepositoryMissing is returned when the engine's exit code/stderr
// indicates the repository does not exist or its config could not be opened
// (§4.4 error mapping) — callers must not treat this as a generic failure.
var ErrRepositoryMissing = errors.New("engine: repository missing or config unreadable")

// ErrCancelled is returned by CreateBackup when the operation was stopped by
// the cancellation context rather than failing on its own.
var ErrCancelled = errors.New("engine: backup cancelled")
