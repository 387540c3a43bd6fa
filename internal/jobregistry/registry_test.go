package jobregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu    sync.Mutex
	saved []Job
}

func (f *fakeSink) SaveJob(ctx context.Context, job Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, job)
	return nil
}

func (f *fakeSink) last() Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

func newTestRegistry(sink Sink) *Registry {
	return New(sink, time.Hour, zap.NewNop())
}

func TestRegistry_TrackWritesRunningImmediately(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := Job{ID: "job-1", DeviceID: "dev-1", Type: JobManual}
	require.NoError(t, reg.Track(ctx, job, cancel))

	got, ok := reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, JobRunning, got.Status)
	assert.Equal(t, JobRunning, sink.last().Status)
}

func TestRegistry_CancelIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())

	job := Job{ID: "job-2", DeviceID: "dev-1"}
	require.NoError(t, reg.Track(ctx, job, cancel))

	require.NoError(t, reg.Cancel(ctx, "job-2"))
	got, ok := reg.Get("job-2")
	require.True(t, ok)
	assert.Equal(t, JobCancelled, got.Status)
	assert.Equal(t, CancellationMessage, got.ErrorMessage)

	// Calling Cancel again, and calling it on an unknown job, must be safe.
	require.NoError(t, reg.Cancel(ctx, "job-2"))
	require.NoError(t, reg.Cancel(ctx, "no-such-job"))
}

func TestRegistry_CancelPrecedenceOverFinalize(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())

	job := Job{ID: "job-3", DeviceID: "dev-1"}
	require.NoError(t, reg.Track(ctx, job, cancel))
	require.NoError(t, reg.Cancel(ctx, "job-3"))

	// Orchestrator finalization races in afterwards and tries to mark it
	// Completed — Cancelled must win.
	err := reg.Untrack(ctx, "job-3", Job{ID: "job-3", Status: JobCompleted})
	require.NoError(t, err)

	got, ok := reg.Get("job-3")
	require.True(t, ok)
	assert.Equal(t, JobCancelled, got.Status)
}

func TestRegistry_UntrackMovesToCompletedRing(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())

	job := Job{ID: "job-4", DeviceID: "dev-1"}
	require.NoError(t, reg.Track(ctx, job, cancel))
	require.NoError(t, reg.Untrack(ctx, "job-4", Job{ID: "job-4", Status: JobCompleted, CompletedAt: time.Now()}))

	_, activeStillThere := reg.active["job-4"]
	assert.False(t, activeStillThere)

	got, ok := reg.Get("job-4")
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.Status)
}

func TestRegistry_GetExpiresAfterTTL(t *testing.T) {
	sink := &fakeSink{}
	reg := New(sink, -time.Second, zap.NewNop()) // already-expired TTL
	ctx, cancel := context.WithCancel(context.Background())

	job := Job{ID: "job-5", DeviceID: "dev-1"}
	require.NoError(t, reg.Track(ctx, job, cancel))
	require.NoError(t, reg.Untrack(ctx, "job-5", Job{ID: "job-5", Status: JobFailed}))

	_, ok := reg.Get("job-5")
	assert.False(t, ok)
}

func TestRegistry_EmitProgress_Throttling(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Track(ctx, Job{ID: "job-6"}, cancel))

	var received []Progress
	reg.Subscribe(func(p Progress) { received = append(received, p) })

	reg.EmitProgress(Progress{JobID: "job-6", Percent: 0.1}) // below 1.0 delta, but soon after Track's initial 0%
	reg.EmitProgress(Progress{JobID: "job-6", Percent: 5.0}) // delta >= 1.0, must emit

	require.GreaterOrEqual(t, len(received), 1)
	last := received[len(received)-1]
	assert.Equal(t, 5.0, last.Percent)
}

func TestRegistry_IsActive(t *testing.T) {
	sink := &fakeSink{}
	reg := newTestRegistry(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, reg.IsActive("dev-1", "share-1"))
	require.NoError(t, reg.Track(ctx, Job{ID: "job-7", DeviceID: "dev-1", ShareID: "share-1"}, cancel))
	assert.True(t, reg.IsActive("dev-1", "share-1"))
}
