package scheduler

import (
	"context"
	"time"

	"github.com/arkeepbackup/backupd/internal/configstore"
	"github.com/arkeepbackup/backupd/internal/jobregistry"
)

// BackupRunner is the subset of *orchestrator.Orchestrator the scheduler
// depends on. Declared here, implemented there, so the scheduler can be
// tested against a fake without constructing real protocol drivers, an
// engine binary, and a storage monitor.
type BackupRunner interface {
	ExecuteDeviceBackup(ctx context.Context, deviceID string, jobType jobregistry.JobType) (jobregistry.Job, error)
	ExecuteShareBackup(ctx context.Context, deviceID, shareID string, jobType jobregistry.JobType) (jobregistry.Job, error)
}

// skipReasonAlreadyRunning is the canonical log reason recorded when a fire
// is suppressed because a job for the same target is already running (§4.2).
const skipReasonAlreadyRunning = "AlreadyRunning"

// desiredTrigger is one row of the trigger set Reconcile computes from
// configuration: exactly one per enabled share that has an effective
// schedule, whether that schedule is the share's own or inherited from its
// device (§4.2 "a share may be covered by at most one active trigger").
type desiredTrigger struct {
	DeviceID        string
	DeviceName      string
	ShareID         string
	ShareName       string
	Schedule        configstore.Schedule
	IsShareSchedule bool
}

func triggerKey(shareID string) string {
	return "share:" + shareID
}

func scheduleChanged(a, b configstore.Schedule) bool {
	return a.Cron != b.Cron || a.Window != b.Window
}

// inWindow reports whether t's local clock time falls within w. An empty
// window means unrestricted (§3).
func inWindow(w configstore.Window, t time.Time) bool {
	if w.Start == "" && w.End == "" {
		return true
	}
	cur := t.Format("15:04")
	if w.Start <= w.End {
		return cur >= w.Start && cur <= w.End
	}
	// Overnight window, e.g. 22:00-06:00.
	return cur >= w.Start || cur <= w.End
}
