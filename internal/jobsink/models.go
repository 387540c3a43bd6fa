package jobsink

import (
	"time"

	"github.com/arkeepbackup/backupd/internal/jobregistry"
)

// BackupJobRow is the durable row persisted for every jobregistry.Job
// (§4.3's write-through contract). Unlike the teacher's Job (which only
// records pending/running/succeeded/failed against a Policy+Agent), this
// row is the full jobregistry.Job shape: device- or share-scoped, with the
// engine-reported snapshot id and redacted command line.
type BackupJobRow struct {
	ID                string `gorm:"type:text;primaryKey"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeviceID          string `gorm:"not null;index"`
	ShareID           string `gorm:"not null;default:'';index"`
	JobType           string `gorm:"not null"`
	Status            string `gorm:"not null;default:'running';index"`
	StartedAt         time.Time `gorm:"not null;index"`
	CompletedAt       *time.Time
	ErrorMessage      string `gorm:"type:text;not null;default:''"`
	FilesProcessed    uint64 `gorm:"not null;default:0"`
	BytesTransferred  uint64 `gorm:"not null;default:0"`
	SnapshotID        string `gorm:"not null;default:''"`
	CommandLine       string `gorm:"type:text;not null;default:''"`
}

func (BackupJobRow) TableName() string { return "backup_jobs" }

func fromJob(job jobregistry.Job) BackupJobRow {
	row := BackupJobRow{
		ID:               job.ID,
		DeviceID:         job.DeviceID,
		ShareID:          job.ShareID,
		JobType:          string(job.Type),
		Status:           string(job.Status),
		StartedAt:        job.StartedAt,
		ErrorMessage:     job.ErrorMessage,
		FilesProcessed:   job.FilesProcessed,
		BytesTransferred: job.BytesTransferred,
		SnapshotID:       job.SnapshotID,
		CommandLine:      job.CommandLine,
	}
	if !job.CompletedAt.IsZero() {
		completedAt := job.CompletedAt
		row.CompletedAt = &completedAt
	}
	return row
}

func (row BackupJobRow) toJob() jobregistry.Job {
	job := jobregistry.Job{
		ID:               row.ID,
		DeviceID:         row.DeviceID,
		ShareID:          row.ShareID,
		Type:             jobregistry.JobType(row.JobType),
		Status:           jobregistry.JobStatus(row.Status),
		StartedAt:        row.StartedAt,
		ErrorMessage:     row.ErrorMessage,
		FilesProcessed:   row.FilesProcessed,
		BytesTransferred: row.BytesTransferred,
		SnapshotID:       row.SnapshotID,
		CommandLine:      row.CommandLine,
	}
	if row.CompletedAt != nil {
		job.CompletedAt = *row.CompletedAt
	}
	return job
}
