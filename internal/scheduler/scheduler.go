// Package scheduler implements the Scheduler (§4.2): a persistent cron-driven
// trigger that materializes planned backups into Orchestrator calls, survives
// restarts, and reconciles its trigger set with the declarative
// configuration. It wraps go-co-op/gocron the same way the teacher's
// server/internal/scheduler wraps it — one gocron job per target, singleton
// mode so an overrunning job is never double-fired — generalized from
// per-policy agent dispatch to per-share orchestrator calls, and adds
// robfig/cron parsing to detect a single missed fire across downtime (§8
// scenario 5), which the teacher's scheduler never needed because its agent
// dispatch model has no equivalent catch-up requirement.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
	"github.com/arkeepbackup/backupd/internal/jobregistry"
)

// Scheduler turns configstore schedules into live gocron triggers and keeps
// them in sync via Reconcile.
type Scheduler struct {
	mu        sync.Mutex
	cron      gocron.Scheduler
	cronParse cron.Parser
	installed map[string]configstore.Schedule

	configStore *configstore.Store
	runner      BackupRunner
	jobs        *jobregistry.Registry
	logger      *zap.Logger
}

// New returns a Scheduler. Call Start to install the initial trigger set and
// begin firing.
func New(configStore *configstore.Store, runner BackupRunner, jobs *jobregistry.Registry, logger *zap.Logger) (*Scheduler, error) {
	cronScheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:        cronScheduler,
		cronParse:   cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		installed:   make(map[string]configstore.Schedule),
		configStore: configStore,
		runner:      runner,
		jobs:        jobs,
		logger:      logger.Named("scheduler"),
	}, nil
}

// Start reconciles the trigger set against current configuration and begins
// the gocron ticker. Call once at service startup.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("triggers", len(s.installed)))
	return nil
}

// Stop shuts the gocron ticker down, waiting for any in-flight task function
// to return (within gocron's stop timeout); the task runs the orchestrator
// call synchronously, so an in-flight task is a running backup.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// ScheduleShareBackup persists schedule onto share and reconciles (§4.2).
func (s *Scheduler) ScheduleShareBackup(ctx context.Context, deviceID, shareID string, schedule configstore.Schedule) error {
	device, err := s.findDeviceByID(deviceID)
	if err != nil {
		return err
	}
	share, err := s.findShareByID(shareID)
	if err != nil {
		return err
	}
	share.Schedule = schedule
	share.UpdatedAt = time.Now().UTC()
	if err := s.configStore.PutShare(device.Name, share, "schedule share backup"); err != nil {
		return fmt.Errorf("scheduler: failed to persist share schedule: %w", err)
	}
	return s.Reconcile(ctx)
}

// ScheduleDeviceBackup persists schedule onto device as the fallback schedule
// for any of its shares that have none of their own, and reconciles (§4.2).
func (s *Scheduler) ScheduleDeviceBackup(ctx context.Context, deviceID string, schedule configstore.Schedule) error {
	device, err := s.findDeviceByID(deviceID)
	if err != nil {
		return err
	}
	device.Schedule = schedule
	device.UpdatedAt = time.Now().UTC()
	if err := s.configStore.PutDevice(device, "schedule device backup"); err != nil {
		return fmt.Errorf("scheduler: failed to persist device schedule: %w", err)
	}
	return s.Reconcile(ctx)
}

// UnscheduleShareBackup clears share's own schedule. Idempotent: absent share
// or already-unscheduled share are both a no-op (§4.2).
func (s *Scheduler) UnscheduleShareBackup(ctx context.Context, shareID string) error {
	share, err := s.findShareByID(shareID)
	if err != nil {
		return nil
	}
	if !share.Schedule.Enabled() {
		return nil
	}
	device, err := s.findDeviceByID(share.DeviceID)
	if err != nil {
		return err
	}
	share.Schedule = configstore.Schedule{}
	share.UpdatedAt = time.Now().UTC()
	if err := s.configStore.PutShare(device.Name, share, "unschedule share backup"); err != nil {
		return fmt.Errorf("scheduler: failed to clear share schedule: %w", err)
	}
	return s.Reconcile(ctx)
}

// UnscheduleDeviceBackup clears device's fallback schedule. Idempotent (§4.2).
func (s *Scheduler) UnscheduleDeviceBackup(ctx context.Context, deviceID string) error {
	device, err := s.findDeviceByID(deviceID)
	if err != nil {
		return nil
	}
	if !device.Schedule.Enabled() {
		return nil
	}
	device.Schedule = configstore.Schedule{}
	device.UpdatedAt = time.Now().UTC()
	if err := s.configStore.PutDevice(device, "unschedule device backup"); err != nil {
		return fmt.Errorf("scheduler: failed to clear device schedule: %w", err)
	}
	return s.Reconcile(ctx)
}

// TriggerImmediateBackup bypasses the schedule and enqueues a Manual job
// immediately (§4.2). shareID empty dispatches a device-level job.
func (s *Scheduler) TriggerImmediateBackup(ctx context.Context, deviceID, shareID string) (jobregistry.Job, error) {
	if shareID != "" {
		return s.runner.ExecuteShareBackup(ctx, deviceID, shareID, jobregistry.JobManual)
	}
	return s.runner.ExecuteDeviceBackup(ctx, deviceID, jobregistry.JobManual)
}

// CancelJob delegates to the Job Registry (§4.2).
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	return s.jobs.Cancel(ctx, jobID)
}

// Reconcile diffs the desired trigger set (derived from configuration)
// against the installed one and installs/removes gocron jobs to match. After
// it returns, the trigger set mirrors enabled configuration (§4.2), except
// for triggers that failed to install, which are logged and skipped.
// Reconcile is idempotent: calling it twice in a row with unchanged
// configuration installs nothing new and removes nothing.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	desired, err := s.computeDesiredTriggers()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.installed {
		if _, ok := desired[key]; !ok {
			s.cron.RemoveByTags(key)
			delete(s.installed, key)
		}
	}

	for key, trg := range desired {
		if existing, ok := s.installed[key]; ok {
			if !scheduleChanged(existing, trg.Schedule) {
				continue
			}
			s.cron.RemoveByTags(key)
			delete(s.installed, key)
		}
		if err := s.installTriggerLocked(key, trg); err != nil {
			s.logger.Error("failed to install trigger", zap.String("target", key), zap.Error(err))
		}
	}

	return nil
}

func (s *Scheduler) computeDesiredTriggers() (map[string]desiredTrigger, error) {
	devices, err := s.configStore.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to list devices: %w", err)
	}

	desired := make(map[string]desiredTrigger)
	for _, device := range devices {
		shares, err := s.configStore.ListShares(device.Name)
		if err != nil {
			return nil, fmt.Errorf("scheduler: failed to list shares for device %s: %w", device.Name, err)
		}
		for _, share := range shares {
			if !share.Enabled {
				continue
			}
			schedule, isShareSchedule := configstore.EffectiveSchedule(share, device)
			if !schedule.Enabled() {
				continue
			}
			desired[triggerKey(share.ID)] = desiredTrigger{
				DeviceID:        device.ID,
				DeviceName:      device.Name,
				ShareID:         share.ID,
				ShareName:       share.Name,
				Schedule:        schedule,
				IsShareSchedule: isShareSchedule,
			}
		}
	}
	return desired, nil
}

// installTriggerLocked installs one gocron job for trg. Called with s.mu
// held. If the schedule's persisted LastFireAt shows at least one cron
// instant was missed (e.g. the process was down), exactly one catch-up fire
// is dispatched asynchronously before the regular ticker takes over (§8
// scenario 5: coalesce, never run more than one catch-up).
func (s *Scheduler) installTriggerLocked(key string, trg desiredTrigger) error {
	if missed, err := s.hadMissedFire(trg.Schedule); err != nil {
		s.logger.Warn("failed to evaluate missed fires, skipping catch-up", zap.String("target", key), zap.Error(err))
	} else if missed {
		s.logger.Info("coalescing missed schedule into a single catch-up run", zap.String("target", key))
		go s.fire(trg)
	}

	_, err := s.cron.NewJob(
		gocron.CronJob(trg.Schedule.Cron, true),
		gocron.NewTask(func() { s.fire(trg) }),
		gocron.WithTags(key),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("invalid cron %q for %s: %w", trg.Schedule.Cron, key, err)
	}
	s.installed[key] = trg.Schedule

	if err := s.recordFireNow(trg); err != nil {
		s.logger.Warn("failed to record baseline fire time", zap.String("target", key), zap.Error(err))
	}
	return nil
}

// hadMissedFire reports whether schedule's next cron instant after its last
// recorded fire has already passed (§8 misfire coalescing). A schedule with
// no prior recorded fire (first install ever) is never considered missed.
func (s *Scheduler) hadMissedFire(schedule configstore.Schedule) (bool, error) {
	if schedule.LastFireAt.IsZero() {
		return false, nil
	}
	spec, err := s.cronParse.Parse(schedule.Cron)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", schedule.Cron, err)
	}
	next := spec.Next(schedule.LastFireAt)
	return next.Before(time.Now()), nil
}

// fire is the gocron task body for one share's trigger: it honors the
// schedule's time window, suppresses a fire when a job for the same target
// is already running (§4.2 AlreadyRunning), dispatches the orchestrator call,
// and records the new LastFireAt.
func (s *Scheduler) fire(trg desiredTrigger) {
	if !inWindow(trg.Schedule.Window, time.Now()) {
		s.logger.Debug("skip: outside schedule window", zap.String("share_id", trg.ShareID))
		return
	}
	if s.jobs.IsActive(trg.DeviceID, trg.ShareID) {
		s.logger.Info("skip fire", zap.String("reason", skipReasonAlreadyRunning), zap.String("share_id", trg.ShareID))
		return
	}

	ctx := context.Background()
	if _, err := s.runner.ExecuteShareBackup(ctx, trg.DeviceID, trg.ShareID, jobregistry.JobScheduled); err != nil {
		s.logger.Warn("scheduled backup failed to start", zap.String("share_id", trg.ShareID), zap.Error(err))
	}

	if err := s.recordFireNow(trg); err != nil {
		s.logger.Warn("failed to record fire timestamp", zap.String("share_id", trg.ShareID), zap.Error(err))
	}
}

// recordFireNow persists LastFireAt = now onto whichever record owns the
// schedule (share or device), so a later restart can detect a missed fire.
func (s *Scheduler) recordFireNow(trg desiredTrigger) error {
	now := time.Now().UTC()
	if trg.IsShareSchedule {
		share, err := s.findShareByID(trg.ShareID)
		if err != nil {
			return err
		}
		share.Schedule.LastFireAt = now
		share.UpdatedAt = now
		return s.configStore.PutShare(trg.DeviceName, share, "record scheduled fire")
	}

	device, err := s.findDeviceByID(trg.DeviceID)
	if err != nil {
		return err
	}
	device.Schedule.LastFireAt = now
	device.UpdatedAt = now
	return s.configStore.PutDevice(device, "record scheduled fire")
}

func (s *Scheduler) findDeviceByID(deviceID string) (configstore.Device, error) {
	devices, err := s.configStore.ListDevices()
	if err != nil {
		return configstore.Device{}, fmt.Errorf("scheduler: failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return configstore.Device{}, fmt.Errorf("scheduler: device %s not found", deviceID)
}

func (s *Scheduler) findShareByID(shareID string) (configstore.Share, error) {
	shares, err := s.configStore.ListAllShares()
	if err != nil {
		return configstore.Share{}, fmt.Errorf("scheduler: failed to list shares: %w", err)
	}
	for _, sh := range shares {
		if sh.ID == shareID {
			return sh, nil
		}
	}
	return configstore.Share{}, fmt.Errorf("scheduler: share %s not found", shareID)
}
