// Package jobregistry is the single source of truth for job state,
// concurrency, and cancellation (§4.3). It generalizes the teacher's
// agentmanager.Manager — a mutex-guarded map keyed by ID, written to from
// multiple goroutines (scheduler fires, manual cancels, the orchestrator) —
// into a registry of running and recently-finished backup jobs instead of
// connected agents.
package jobregistry

import "time"

// JobType distinguishes how a job was started (§3).
type JobType string

const (
	JobManual    JobType = "manual"
	JobScheduled JobType = "scheduled"
	JobRetry     JobType = "retry"
)

// JobStatus is the lifecycle status of a Job (§3). Invariant: once a status
// leaves Running it never re-enters it.
type JobStatus string

const (
	JobRunning           JobStatus = "running"
	JobCompleted         JobStatus = "completed"
	JobFailed            JobStatus = "failed"
	JobCancelled         JobStatus = "cancelled"
	JobPartiallyComplete JobStatus = "partially_completed"
)

// CancellationMessage is the canonical error_message written by Cancel (§4.3).
const CancellationMessage = "Backup cancelled by user"

// Job is the in-memory unit of work (§3). ShareID is empty for a
// device-level job covering all of a device's enabled shares.
type Job struct {
	ID                string
	DeviceID          string
	ShareID           string
	Type              JobType
	Status            JobStatus
	StartedAt         time.Time
	CompletedAt       time.Time
	ErrorMessage      string
	FilesProcessed    uint64
	BytesTransferred  uint64
	SnapshotID        string
	CommandLine       string // secrets redacted before storage, never raw
}

// IsTerminal reports whether status is one a finalized job can hold.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobPartiallyComplete:
		return true
	default:
		return false
	}
}

// Progress is one EmitProgress update for a running job (§4.3).
type Progress struct {
	JobID            string
	Percent          float64
	FilesProcessed   uint64
	BytesTransferred uint64
	Message          string
}

// ProgressSubscriber receives throttled Progress events.
type ProgressSubscriber func(Progress)
