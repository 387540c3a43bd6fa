package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
	"github.com/arkeepbackup/backupd/internal/jobregistry"
)

type fakeSink struct{}

func (fakeSink) SaveJob(ctx context.Context, job jobregistry.Job) error { return nil }

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) ExecuteDeviceBackup(ctx context.Context, deviceID string, jobType jobregistry.JobType) (jobregistry.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "device:"+deviceID)
	return jobregistry.Job{ID: uuid.NewString(), DeviceID: deviceID, Type: jobType, Status: jobregistry.JobCompleted}, nil
}

func (f *fakeRunner) ExecuteShareBackup(ctx context.Context, deviceID, shareID string, jobType jobregistry.JobType) (jobregistry.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "share:"+shareID)
	return jobregistry.Job{ID: uuid.NewString(), DeviceID: deviceID, ShareID: shareID, Type: jobType, Status: jobregistry.JobCompleted}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T) (*Scheduler, *configstore.Store, *fakeRunner) {
	t.Helper()
	logger := zap.NewNop()
	store, err := configstore.New(t.TempDir(), logger)
	require.NoError(t, err)
	runner := &fakeRunner{}
	jobs := jobregistry.New(fakeSink{}, time.Hour, logger)
	sched, err := New(store, runner, jobs, logger)
	require.NoError(t, err)
	return sched, store, runner
}

func mustPutDevice(t *testing.T, store *configstore.Store, dev configstore.Device) configstore.Device {
	t.Helper()
	now := time.Now().UTC()
	dev.CreatedAt, dev.UpdatedAt = now, now
	require.NoError(t, store.PutDevice(dev, "test"))
	return dev
}

func mustPutShare(t *testing.T, store *configstore.Store, deviceName string, share configstore.Share) configstore.Share {
	t.Helper()
	now := time.Now().UTC()
	share.CreatedAt, share.UpdatedAt = now, now
	require.NoError(t, store.PutShare(deviceName, share, "test"))
	return share
}

func TestReconcile_InstallsTriggerForShareSchedule(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true, Schedule: configstore.Schedule{Cron: "0 0 3 * * *"}})

	require.NoError(t, sched.Reconcile(context.Background()))

	assert.Len(t, sched.installed, 1)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true, Schedule: configstore.Schedule{Cron: "0 0 3 * * *"}})

	require.NoError(t, sched.Reconcile(context.Background()))
	first := sched.installed["share:"+mustOnlyShareID(t, store, dev.Name)]

	require.NoError(t, sched.Reconcile(context.Background()))
	second := sched.installed["share:"+mustOnlyShareID(t, store, dev.Name)]

	assert.Equal(t, first, second)
	assert.Len(t, sched.installed, 1)
}

func mustOnlyShareID(t *testing.T, store *configstore.Store, deviceName string) string {
	t.Helper()
	shares, err := store.ListShares(deviceName)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	return shares[0].ID
}

func TestReconcile_ShareScheduleWinsOverDeviceSchedule(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{
		ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local",
		Schedule: configstore.Schedule{Cron: "0 0 1 * * *"},
	})
	share := mustPutShare(t, store, dev.Name, configstore.Share{
		ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true,
		Schedule: configstore.Schedule{Cron: "0 0 3 * * *"},
	})

	require.NoError(t, sched.Reconcile(context.Background()))

	installed, ok := sched.installed[triggerKey(share.ID)]
	require.True(t, ok)
	assert.Equal(t, "0 0 3 * * *", installed.Cron)
}

func TestReconcile_DeviceScheduleAppliesWhenShareHasNone(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{
		ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local",
		Schedule: configstore.Schedule{Cron: "0 0 1 * * *"},
	})
	share := mustPutShare(t, store, dev.Name, configstore.Share{
		ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true,
	})

	require.NoError(t, sched.Reconcile(context.Background()))

	installed, ok := sched.installed[triggerKey(share.ID)]
	require.True(t, ok)
	assert.Equal(t, "0 0 1 * * *", installed.Cron)
}

func TestReconcile_RemovesTriggerWhenShareDisabled(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true, Schedule: configstore.Schedule{Cron: "0 0 3 * * *"}})
	require.NoError(t, sched.Reconcile(context.Background()))
	require.Len(t, sched.installed, 1)

	share.Enabled = false
	mustPutShare(t, store, dev.Name, share)
	require.NoError(t, sched.Reconcile(context.Background()))

	assert.Empty(t, sched.installed)
}

func TestFire_SkipsWhenAlreadyRunning(t *testing.T) {
	sched, store, runner := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true, Schedule: configstore.Schedule{Cron: "0 0 3 * * *"}})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.jobs.Track(runCtx, jobregistry.Job{
		ID: uuid.NewString(), DeviceID: dev.ID, ShareID: share.ID, Type: jobregistry.JobScheduled, Status: jobregistry.JobRunning, StartedAt: time.Now(),
	}, cancel))

	sched.fire(desiredTrigger{DeviceID: dev.ID, DeviceName: dev.Name, ShareID: share.ID, ShareName: share.Name, Schedule: share.Schedule, IsShareSchedule: true})

	assert.Equal(t, 0, runner.callCount())
}

func TestFire_SkipsWhenOutsideWindow(t *testing.T) {
	sched, store, runner := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true})

	now := time.Now()
	closedWindow := configstore.Window{Start: now.Add(-2 * time.Hour).Format("15:04"), End: now.Add(-time.Hour).Format("15:04")}
	schedule := configstore.Schedule{Cron: "0 0 3 * * *", Window: closedWindow}

	sched.fire(desiredTrigger{DeviceID: dev.ID, DeviceName: dev.Name, ShareID: share.ID, ShareName: share.Name, Schedule: schedule, IsShareSchedule: true})

	assert.Equal(t, 0, runner.callCount())
}

func TestFire_DispatchesAndRecordsLastFireAt(t *testing.T) {
	sched, store, runner := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true, Schedule: configstore.Schedule{Cron: "0 0 3 * * *"}})

	sched.fire(desiredTrigger{DeviceID: dev.ID, DeviceName: dev.Name, ShareID: share.ID, ShareName: share.Name, Schedule: share.Schedule, IsShareSchedule: true})

	assert.Equal(t, 1, runner.callCount())
	updated, err := store.GetShare(dev.Name, share.Name)
	require.NoError(t, err)
	assert.False(t, updated.Schedule.LastFireAt.IsZero())
}

func TestHadMissedFire_NoPriorFireIsNeverMissed(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	missed, err := sched.hadMissedFire(configstore.Schedule{Cron: "0 0 3 * * *"})
	require.NoError(t, err)
	assert.False(t, missed)
}

func TestHadMissedFire_DetectsOneMissedFireAfterSuspend(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	// Every 5 minutes, last fired 17 minutes ago: at least one instant missed.
	schedule := configstore.Schedule{Cron: "0 */5 * * * *", LastFireAt: time.Now().Add(-17 * time.Minute)}

	missed, err := sched.hadMissedFire(schedule)

	require.NoError(t, err)
	assert.True(t, missed)
}

func TestHadMissedFire_NoneWhenRecentlyFired(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	schedule := configstore.Schedule{Cron: "0 */5 * * * *", LastFireAt: time.Now().Truncate(5 * time.Minute)}

	missed, err := sched.hadMissedFire(schedule)

	require.NoError(t, err)
	assert.False(t, missed)
}

func TestInWindow_EmptyWindowIsUnrestricted(t *testing.T) {
	assert.True(t, inWindow(configstore.Window{}, time.Now()))
}

func TestInWindow_SameDayRange(t *testing.T) {
	w := configstore.Window{Start: "09:00", End: "17:00"}
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, inWindow(w, noon))
	assert.False(t, inWindow(w, midnight))
}

func TestInWindow_OvernightRange(t *testing.T) {
	w := configstore.Window{Start: "22:00", End: "06:00"}
	lateNight := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)

	assert.True(t, inWindow(w, lateNight))
	assert.True(t, inWindow(w, earlyMorning))
	assert.False(t, inWindow(w, afternoon))
}

func TestUnscheduleShareBackup_IsIdempotent(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true})

	require.NoError(t, sched.UnscheduleShareBackup(context.Background(), share.ID))
	require.NoError(t, sched.UnscheduleShareBackup(context.Background(), share.ID))
}

func TestTriggerImmediateBackup_ShareLevel(t *testing.T) {
	sched, store, runner := newTestScheduler(t)
	dev := mustPutDevice(t, store, configstore.Device{ID: uuid.NewString(), Name: "nas1", Protocol: configstore.ProtocolSMB, Host: "nas1.local"})
	share := mustPutShare(t, store, dev.Name, configstore.Share{ID: uuid.NewString(), DeviceID: dev.ID, Name: "photos", Path: "/photos", Enabled: true})

	job, err := sched.TriggerImmediateBackup(context.Background(), dev.ID, share.ID)

	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobCompleted, job.Status)
	assert.Equal(t, 1, runner.callCount())
}
