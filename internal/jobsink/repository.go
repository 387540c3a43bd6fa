package jobsink

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arkeepbackup/backupd/internal/jobregistry"
)

// ErrNotFound is returned when a requested job row does not exist.
var ErrNotFound = errors.New("jobsink: not found")

// ListOptions paginates ListJobs, mirroring the teacher's repository
// pagination convention (limit/offset, most-recent-first ordering).
type ListOptions struct {
	Limit  int
	Offset int
}

// Repository persists jobregistry.Job rows and implements jobregistry.Sink.
type Repository struct {
	db *gorm.DB
}

// NewRepository returns a Repository backed by db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveJob upserts the row for job.ID — satisfies jobregistry.Sink. Every
// Track/Untrack/Cancel write-through lands here via ON CONFLICT DO UPDATE so
// the row always reflects the job's latest known state regardless of
// whether it already existed.
func (r *Repository) SaveJob(ctx context.Context, job jobregistry.Job) error {
	row := fromJob(job)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("jobsink: failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the persisted row for id.
func (r *Repository) GetJob(ctx context.Context, id string) (jobregistry.Job, error) {
	var row BackupJobRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobregistry.Job{}, ErrNotFound
		}
		return jobregistry.Job{}, fmt.Errorf("jobsink: failed to get job %s: %w", id, err)
	}
	return row.toJob(), nil
}

// ListJobs returns jobs most-recently-started-first, optionally scoped to
// deviceID (empty string means all devices).
func (r *Repository) ListJobs(ctx context.Context, deviceID string, opts ListOptions) ([]jobregistry.Job, int64, error) {
	var rows []BackupJobRow
	var total int64

	query := r.db.WithContext(ctx).Model(&BackupJobRow{})
	if deviceID != "" {
		query = query.Where("device_id = ?", deviceID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobsink: failed to count jobs: %w", err)
	}

	listQuery := r.db.WithContext(ctx)
	if deviceID != "" {
		listQuery = listQuery.Where("device_id = ?", deviceID)
	}
	if err := listQuery.
		Order("started_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("jobsink: failed to list jobs: %w", err)
	}

	jobs := make([]jobregistry.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, total, nil
}

// DeleteJob removes the persisted row for id. Deleting a device or share
// does not call it, so their historical job rows remain.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&BackupJobRow{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("jobsink: failed to delete job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
