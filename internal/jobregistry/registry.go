package jobregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink persists job rows durably; the registry writes through to it on every
// Track/Untrack/Cancel so an external observer sees state changes
// immediately rather than only at job completion (§4.3). Implemented by
// internal/jobsink.
type Sink interface {
	SaveJob(ctx context.Context, job Job) error
}

type completedEntry struct {
	job       Job
	expiresAt time.Time
}

type throttleState struct {
	lastPercent   float64
	lastEmittedAt time.Time
}

// Registry is the Job Registry (§4.3). The zero value is not usable — create
// instances with New.
type Registry struct {
	mu                sync.Mutex
	active            map[string]*Job
	cancelHandles     map[string]context.CancelFunc
	completed         map[string]completedEntry
	progressThrottle  map[string]*throttleState
	subscribers       []ProgressSubscriber

	sink   Sink
	ttl    time.Duration
	logger *zap.Logger
}

// New returns an empty Registry. ttl is the completed-job retention window
// (§6 default: 1 hour).
func New(sink Sink, ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		active:           make(map[string]*Job),
		cancelHandles:    make(map[string]context.CancelFunc),
		completed:        make(map[string]completedEntry),
		progressThrottle: make(map[string]*throttleState),
		sink:             sink,
		ttl:              ttl,
		logger:           logger.Named("jobregistry"),
	}
}

// Subscribe registers fn to receive every throttled Progress event.
func (r *Registry) Subscribe(fn ProgressSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Track places job into active state, atomically alongside its cancel
// handle, emits an initial 0% progress event, and writes through to the
// Sink so the Running row is visible immediately (§4.3).
func (r *Registry) Track(ctx context.Context, job Job, cancel context.CancelFunc) error {
	r.mu.Lock()
	jobCopy := job
	jobCopy.Status = JobRunning
	r.active[job.ID] = &jobCopy
	r.cancelHandles[job.ID] = cancel
	r.progressThrottle[job.ID] = &throttleState{lastPercent: -1}
	r.mu.Unlock()

	if err := r.sink.SaveJob(ctx, jobCopy); err != nil {
		return fmt.Errorf("jobregistry: failed to persist tracked job %s: %w", job.ID, err)
	}

	r.EmitProgress(Progress{JobID: job.ID, Percent: 0})
	return nil
}

// Untrack removes job_id from active, discards its cancel handle (without
// invoking it — the caller has already finished the job by the time it
// calls Untrack), writes the final record through the Sink, and if the
// final status is terminal inserts it into the completed ring with a fresh
// TTL (§4.3).
func (r *Registry) Untrack(ctx context.Context, jobID string, final Job) error {
	r.mu.Lock()
	// External cancel is sticky: if Cancel already marked this job
	// Cancelled, finalization must not downgrade it to Failed/Completed
	// (§4.3 cancellation precedence).
	if existing, ok := r.active[jobID]; ok && existing.Status == JobCancelled {
		final.Status = JobCancelled
		final.ErrorMessage = existing.ErrorMessage
		final.CompletedAt = existing.CompletedAt
	}

	delete(r.active, jobID)
	delete(r.cancelHandles, jobID)
	delete(r.progressThrottle, jobID)

	if final.Status.IsTerminal() {
		r.completed[jobID] = completedEntry{job: final, expiresAt: time.Now().Add(r.ttl)}
	}
	r.mu.Unlock()

	if err := r.sink.SaveJob(ctx, final); err != nil {
		return fmt.Errorf("jobregistry: failed to persist final job %s: %w", jobID, err)
	}
	return nil
}

// Cancel triggers the cancel token for job_id (if active), sets its status
// to Cancelled with the canonical message, and writes through immediately.
// Idempotent: calling Cancel on a job that has already finalized, or that
// does not exist, is a safe no-op (§4.3).
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	job, ok := r.active[jobID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancelHandles[jobID]

	job.Status = JobCancelled
	job.CompletedAt = time.Now().UTC()
	job.ErrorMessage = CancellationMessage
	jobCopy := *job
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := r.sink.SaveJob(ctx, jobCopy); err != nil {
		return fmt.Errorf("jobregistry: failed to persist cancelled job %s: %w", jobID, err)
	}
	r.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// Get returns job_id from active or, failing that, from the unexpired
// completed ring. A lazy sweep of expired completed entries runs on every
// call (§4.3).
func (r *Registry) Get(jobID string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepExpiredLocked()

	if job, ok := r.active[jobID]; ok {
		return *job, true
	}
	if entry, ok := r.completed[jobID]; ok {
		return entry.job, true
	}
	return Job{}, false
}

// List returns every active job plus every unexpired completed job, in no
// particular order.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepExpiredLocked()

	jobs := make([]Job, 0, len(r.active)+len(r.completed))
	for _, j := range r.active {
		jobs = append(jobs, *j)
	}
	for _, e := range r.completed {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// IsActive reports whether a job for the given target is currently Running,
// used by the Scheduler to suppress concurrent fires for the same target
// (§4.2 AlreadyRunning skip reason).
func (r *Registry) IsActive(deviceID, shareID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.active {
		if j.DeviceID == deviceID && j.ShareID == shareID {
			return true
		}
	}
	return false
}

func (r *Registry) sweepExpiredLocked() {
	now := time.Now()
	for id, entry := range r.completed {
		if now.After(entry.expiresAt) {
			delete(r.completed, id)
		}
	}
}

// progressThrottleInterval is the minimum time between emitted progress
// events for the same job, absent a large-enough percent delta (§6 default
// progress_broadcast_interval_ms: 500).
const progressThrottleInterval = 500 * time.Millisecond

// progressPercentThreshold is the minimum |Δpercent| that forces an emit
// regardless of elapsed time (§6 default progress_percent_threshold: 1.0).
const progressPercentThreshold = 1.0

// EmitProgress applies the throttling rule — emit iff this is the job's
// first event, |Δpercent| ≥ 1.0, or Δt ≥ 500ms since the last emission — and
// forwards to subscribers when the rule passes (§4.3). It also updates the
// active job's FilesProcessed/BytesTransferred fields so Get reflects live
// progress.
func (r *Registry) EmitProgress(p Progress) {
	r.mu.Lock()
	if job, ok := r.active[p.JobID]; ok {
		job.FilesProcessed = p.FilesProcessed
		job.BytesTransferred = p.BytesTransferred
	}

	state, ok := r.progressThrottle[p.JobID]
	if !ok {
		state = &throttleState{lastPercent: -1}
		r.progressThrottle[p.JobID] = state
	}

	now := time.Now()
	first := state.lastEmittedAt.IsZero()
	delta := p.Percent - state.lastPercent
	if delta < 0 {
		delta = -delta
	}
	shouldEmit := first || delta >= progressPercentThreshold || now.Sub(state.lastEmittedAt) >= progressThrottleInterval

	if shouldEmit {
		state.lastPercent = p.Percent
		state.lastEmittedAt = now
	}
	subscribers := append([]ProgressSubscriber(nil), r.subscribers...)
	r.mu.Unlock()

	if !shouldEmit {
		return
	}
	for _, sub := range subscribers {
		sub(p)
	}
}
