// Package logstore implements the Log Store (§4.7): a hybrid in-memory +
// append-only NDJSON persistence layer for per-backup progress, warning, and
// error logs. It reuses the atomic temp-file+rename durability idiom the
// configstore package takes from the teacher's connection-state save/load
// pattern, specialized to append rather than overwrite.
package logstore

import "time"

// ProgressLogEntry is one ordered progress update within a backup's log
// (§3). CurrentFile is empty when the engine did not report a per-file name
// for this update.
type ProgressLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
	PercentDone float64   `json:"percent_done"`
	CurrentFile string    `json:"current_file,omitempty"`
	FilesDone   uint64    `json:"files_done"`
	BytesDone   uint64    `json:"bytes_done"`
}

// BackupExecutionLog is keyed by backup id (or, when a snapshot never
// materialized, by job id) and is append-only within a single run (§3
// invariant): once created, Warnings/Errors/Progress only grow until the
// entry is persisted.
type BackupExecutionLog struct {
	Key       string             `json:"key"`
	JobID     string             `json:"job_id"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Warnings  []string           `json:"warnings,omitempty"`
	Errors    []string           `json:"errors,omitempty"`
	Progress  []ProgressLogEntry `json:"progress,omitempty"`
}
