// Package orchestrator implements the Orchestrator (§4.1): it executes one
// backup job end-to-end for a device or a share, composing the Protocol
// Registry, Storage Monitor, Engine Client, Job Registry, Credential Store,
// and Log Store. It generalizes the teacher's agent/internal/executor's
// deserialize-run-report sequence (resolve sources, run hooks, invoke
// restic, report status) into the wake/mount/gate/init/stream/finalize
// sequence this spec requires, with Docker sources and shell hooks dropped.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
	"github.com/arkeepbackup/backupd/internal/credential"
	"github.com/arkeepbackup/backupd/internal/engine"
	"github.com/arkeepbackup/backupd/internal/jobregistry"
	"github.com/arkeepbackup/backupd/internal/logstore"
	"github.com/arkeepbackup/backupd/internal/protocol"
	"github.com/arkeepbackup/backupd/internal/storagemonitor"
)

// Orchestrator composes the core collaborators to run backup jobs.
type Orchestrator struct {
	configStore *configstore.Store
	protocols   *protocol.Registry
	storage     *storagemonitor.Monitor
	engine      *engine.Client
	jobs        *jobregistry.Registry
	creds       *credential.Store
	logs        *logstore.Store
	opts        Options
	logger      *zap.Logger
}

// New returns an Orchestrator wired to its collaborators.
func New(
	configStore *configstore.Store,
	protocols *protocol.Registry,
	storage *storagemonitor.Monitor,
	engineClient *engine.Client,
	jobs *jobregistry.Registry,
	creds *credential.Store,
	logs *logstore.Store,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		configStore: configStore,
		protocols:   protocols,
		storage:     storage,
		engine:      engineClient,
		jobs:        jobs,
		creds:       creds,
		logs:        logs,
		opts:        opts,
		logger:      logger.Named("orchestrator"),
	}
}

func (o *Orchestrator) findDeviceByID(deviceID string) (configstore.Device, error) {
	devices, err := o.configStore.ListDevices()
	if err != nil {
		return configstore.Device{}, fmt.Errorf("orchestrator: failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return configstore.Device{}, ErrDeviceNotFound
}

func (o *Orchestrator) findShareByID(shareID string) (configstore.Share, error) {
	shares, err := o.configStore.ListAllShares()
	if err != nil {
		return configstore.Share{}, fmt.Errorf("orchestrator: failed to list shares: %w", err)
	}
	for _, s := range shares {
		if s.ID == shareID {
			return s, nil
		}
	}
	return configstore.Share{}, ErrShareNotFound
}

// ExecuteDeviceBackup runs every enabled share of device belonging sequentially,
// rolling the per-share outcomes up into a single device-level Job (§4.1).
func (o *Orchestrator) ExecuteDeviceBackup(ctx context.Context, deviceID string, jobType jobregistry.JobType) (jobregistry.Job, error) {
	device, err := o.findDeviceByID(deviceID)
	if err != nil {
		return jobregistry.Job{}, err
	}

	shares, err := o.configStore.ListShares(device.Name)
	if err != nil {
		return jobregistry.Job{}, fmt.Errorf("orchestrator: failed to list shares for device %s: %w", device.Name, err)
	}
	var enabled []configstore.Share
	for _, s := range shares {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	if len(enabled) == 0 {
		return jobregistry.Job{}, ErrNoEnabledShares
	}

	job := jobregistry.Job{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Type:      jobType,
		StartedAt: time.Now().UTC(),
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.jobs.Track(ctx, job, cancel); err != nil {
		return jobregistry.Job{}, err
	}

	var succeeded, failed []string
	cancelled := false
	for _, share := range enabled {
		if runCtx.Err() != nil {
			cancelled = true
			break
		}
		if err := o.executeShare(runCtx, device, share, &job); err != nil {
			if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
				cancelled = true
				break
			}
			failed = append(failed, share.Name)
			o.logger.Warn("share backup failed", zap.String("device", device.Name), zap.String("share", share.Name), zap.Error(err))
			continue
		}
		succeeded = append(succeeded, share.Name)
	}

	job.CompletedAt = time.Now().UTC()
	switch {
	case cancelled:
		job.Status = jobregistry.JobCancelled
		job.ErrorMessage = jobregistry.CancellationMessage
	case len(failed) == 0:
		job.Status = jobregistry.JobCompleted
	case len(succeeded) == 0:
		job.Status = jobregistry.JobFailed
		job.ErrorMessage = fmt.Sprintf("all shares failed: %s", strings.Join(failed, ", "))
	default:
		var lines []string
		for _, name := range failed {
			lines = append(lines, fmt.Sprintf("Share '%s' failed", name))
		}
		job.Status = jobregistry.JobPartiallyComplete
		job.ErrorMessage = fmt.Sprintf("%s. Partially completed: %d/%d shares backed up",
			strings.Join(lines, "; "), len(succeeded), len(enabled))
	}

	if err := o.jobs.Untrack(context.Background(), job.ID, job); err != nil {
		o.logger.Error("failed to untrack device job", zap.String("job_id", job.ID), zap.Error(err))
	}
	return job, nil
}

// ExecuteShareBackup runs one share's backup to completion (§4.1).
func (o *Orchestrator) ExecuteShareBackup(ctx context.Context, deviceID, shareID string, jobType jobregistry.JobType) (jobregistry.Job, error) {
	device, err := o.findDeviceByID(deviceID)
	if err != nil {
		return jobregistry.Job{}, err
	}
	share, err := o.findShareByID(shareID)
	if err != nil {
		return jobregistry.Job{}, err
	}
	if share.DeviceID != device.ID {
		return jobregistry.Job{}, ErrShareMismatch
	}
	if !share.Enabled {
		return jobregistry.Job{}, ErrShareDisabled
	}

	job := jobregistry.Job{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		ShareID:   shareID,
		Type:      jobType,
		StartedAt: time.Now().UTC(),
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.jobs.Track(ctx, job, cancel); err != nil {
		return jobregistry.Job{}, err
	}

	runErr := o.executeShare(runCtx, device, share, &job)
	job.CompletedAt = time.Now().UTC()

	switch {
	case runErr == nil:
		job.Status = jobregistry.JobCompleted
	case errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		job.Status = jobregistry.JobCancelled
		job.ErrorMessage = jobregistry.CancellationMessage
	case errors.Is(runErr, ErrStorageExhausted):
		job.Status = jobregistry.JobFailed
		job.ErrorMessage = fmt.Sprintf("Backup cannot proceed: %v", runErr)
	default:
		job.Status = jobregistry.JobFailed
		job.ErrorMessage = runErr.Error()
	}

	if err := o.jobs.Untrack(context.Background(), job.ID, job); err != nil {
		o.logger.Error("failed to untrack share job", zap.String("job_id", job.ID), zap.Error(err))
	}
	return job, nil
}

// RetryFailedJob resolves jobID, requires it to be Failed, and dispatches a
// new Retry-typed job against the same target (§4.1).
func (o *Orchestrator) RetryFailedJob(ctx context.Context, jobID string) (jobregistry.Job, error) {
	prior, ok := o.jobs.Get(jobID)
	if !ok {
		return jobregistry.Job{}, ErrJobNotFound
	}
	if prior.Status != jobregistry.JobFailed {
		return jobregistry.Job{}, ErrJobNotFailed
	}
	if prior.ShareID != "" {
		return o.ExecuteShareBackup(ctx, prior.DeviceID, prior.ShareID, jobregistry.JobRetry)
	}
	return o.ExecuteDeviceBackup(ctx, prior.DeviceID, jobregistry.JobRetry)
}

// executeShare runs the full 12-step per-share sequence (§4.1) and mutates
// job in place (CommandLine, SnapshotID, progress counters). The returned
// error is usually one of this package's taxonomy values, wrapped with
// context; repository-directory creation and storage-probe failures are
// returned as plain wrapped errors.
func (o *Orchestrator) executeShare(ctx context.Context, device configstore.Device, share configstore.Share, job *jobregistry.Job) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	// Step 1: resolve driver.
	driver, err := o.protocols.Get(device.Protocol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMountFailed, err)
	}

	// Step 2: wake, best-effort.
	if device.WakeOnLANEnabled && device.WakeOnLANMAC != "" {
		if err := o.protocols.WakeIfNeeded(ctx, device); err != nil && !errors.Is(err, protocol.ErrAlreadyWoken) {
			o.logger.Warn("wake-on-lan failed, continuing", zap.String("device", device.Name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(o.opts.WakeWait):
		}
	}

	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	devicePassword, err := o.creds.Decrypt(device.EncryptedPassword)
	if err != nil {
		return fmt.Errorf("%w: failed to decrypt device password: %v", ErrMountFailed, err)
	}

	// Step 3: mount.
	localPath, err := protocol.MountWithBackoff(ctx, driver, device, share, devicePassword, o.opts.ConnectionTestBackoff)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMountFailed, err)
	}
	defer func() {
		if uerr := driver.Unmount(context.Background(), localPath); uerr != nil {
			o.logger.Warn("unmount failed", zap.String("path", localPath), zap.Error(uerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	// Step 4: effective rules.
	rules := configstore.EffectiveRules(share, device)
	engineRules := engine.Rules{
		ExcludePatterns:  rules.ExcludePatterns,
		ExcludeRegex:     rules.ExcludeRegex,
		IncludeOnlyRegex: rules.IncludeOnlyRegex,
		ExcludeIfPresent: rules.ExcludeIfPresent,
	}

	// Step 5: repository path.
	repoPath := filepath.Join(o.opts.RepositoryBasePath, device.ID, share.ID)
	if err := os.MkdirAll(repoPath, 0o750); err != nil {
		return fmt.Errorf("orchestrator: failed to create repository directory %s: %w", repoPath, err)
	}

	// Step 6: storage gate.
	storageStatus, err := o.storage.Status(ctx, repoPath)
	if err != nil {
		return fmt.Errorf("orchestrator: failed to probe storage for %s: %w", repoPath, err)
	}
	if storageStatus.ThresholdLevel == storagemonitor.Exhausted {
		return fmt.Errorf("%w: %s", ErrStorageExhausted, storageStatus.Message)
	}
	if storageStatus.ThresholdLevel == storagemonitor.Critical {
		o.logger.Warn("storage critical, continuing", zap.String("share", share.Name), zap.String("message", storageStatus.Message))
	}

	// Step 7: repository init + password.
	exists, err := o.engine.RepositoryExists(ctx, repoPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineInitFailed, err)
	}
	repoPassword, err := o.derivePassword(device, &share, devicePassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineInitFailed, err)
	}
	if !exists {
		if err := o.engine.Init(ctx, repoPath, repoPassword); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineInitFailed, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	// Step 8: redacted command line.
	job.CommandLine = buildCommandLine(repoPath, []string{localPath}, engineRules)

	// Step 9: stream the backup, recording progress under the job id (the
	// snapshot id is not known until the stream completes).
	logKey := job.ID
	o.logs.GetOrCreate(logKey, job.ID)

	onProgress := func(ev engine.ProgressEvent) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.jobs.EmitProgress(jobregistry.Progress{
			JobID:            job.ID,
			Percent:          ev.PercentDone,
			FilesProcessed:   ev.FilesDone,
			BytesTransferred: ev.BytesDone,
			Message:          ev.Message,
		})
		o.logs.AddProgressEntry(logKey, job.ID, logstore.ProgressLogEntry{
			Timestamp:   time.Now().UTC(),
			Message:     ev.Message,
			PercentDone: ev.PercentDone,
			FilesDone:   ev.FilesDone,
			BytesDone:   ev.BytesDone,
		})
		return nil
	}
	onWarning := func(msg string) { o.logs.AddWarning(logKey, job.ID, msg) }
	onError := func(msg string) { o.logs.AddError(logKey, job.ID, msg) }

	backup, err := o.engine.CreateBackup(ctx, repoPath, repoPassword, []string{localPath}, engineRules, onProgress, onWarning, onError)
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			o.logs.AddError(logKey, job.ID, "backup cancelled")
			if perr := o.logs.Persist(logKey); perr != nil {
				o.logger.Warn("failed to persist cancelled backup log", zap.Error(perr))
			}
			return ErrCancelled
		}
		o.logs.AddError(logKey, job.ID, err.Error())
		if perr := o.logs.Persist(logKey); perr != nil {
			o.logger.Warn("failed to persist failed backup log", zap.Error(perr))
		}
		return fmt.Errorf("%w: %v", ErrEngineBackupFailed, err)
	}

	// Step 10: success finalization.
	job.SnapshotID = backup.ID
	job.FilesProcessed = backup.NewFiles + backup.ChangedFiles + backup.UnmodifiedFiles
	job.BytesTransferred = backup.BytesProcessed

	o.logs.Rekey(logKey, backup.ID)
	logKey = backup.ID
	o.logs.AddProgressEntry(logKey, job.ID, logstore.ProgressLogEntry{
		Timestamp:   time.Now().UTC(),
		Message:     "backup complete",
		PercentDone: 100,
		FilesDone:   job.FilesProcessed,
		BytesDone:   job.BytesTransferred,
	})
	if err := o.logs.Persist(logKey); err != nil {
		o.logger.Warn("failed to persist completed backup log", zap.Error(err))
	}

	// Step 12 (unmount) runs via the deferred call above.
	return nil
}

// derivePassword implements §4.1's password derivation rule: a share's own
// repository password wins verbatim; failing that, a cached derived key is
// reused; failing that, a fresh PBKDF2 key is derived from the device
// password and a (created-if-absent) salt, then cached encrypted on the share.
func (o *Orchestrator) derivePassword(device configstore.Device, share *configstore.Share, devicePassword string) (string, error) {
	if share.EncryptedRepositoryPassword != "" {
		return o.creds.Decrypt(share.EncryptedRepositoryPassword)
	}
	if share.DerivedKeyEnc != "" {
		return o.creds.Decrypt(share.DerivedKeyEnc)
	}
	if devicePassword == "" {
		return "", fmt.Errorf("share %s has no repository password and device %s has no password to derive one from", share.Name, device.Name)
	}

	var salt []byte
	if share.RepoKeySaltB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(share.RepoKeySaltB64)
		if err != nil {
			return "", fmt.Errorf("corrupt repository key salt for share %s: %w", share.Name, err)
		}
		salt = decoded
	} else {
		newSalt, err := credential.NewSalt()
		if err != nil {
			return "", err
		}
		salt = newSalt
		share.RepoKeySaltB64 = base64.StdEncoding.EncodeToString(salt)
	}

	key := o.creds.DeriveKey(devicePassword, salt)
	keyB64 := base64.StdEncoding.EncodeToString(key)

	enc, err := o.creds.Encrypt(keyB64)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt derived key for share %s: %w", share.Name, err)
	}
	share.DerivedKeyEnc = enc
	share.UpdatedAt = time.Now().UTC()

	if err := o.configStore.PutShare(device.Name, *share, "derive repository key"); err != nil {
		return "", fmt.Errorf("failed to persist derived key for share %s: %w", share.Name, err)
	}
	return keyB64, nil
}

// buildCommandLine mirrors the argument list engine.Client.CreateBackup
// sends the engine binary, for display on the job row — the password is
// never included; it travels only via environment variable (§4.1 step 8).
func buildCommandLine(repoPath string, sources []string, rules engine.Rules) string {
	args := []string{"backup", "--json"}
	for _, p := range rules.ExcludePatterns {
		args = append(args, "--exclude", p)
	}
	for _, p := range rules.ExcludeRegex {
		args = append(args, "--iexclude", p)
	}
	for _, p := range rules.ExcludeIfPresent {
		args = append(args, "--exclude-if-present", p)
	}
	args = append(args, sources...)
	return fmt.Sprintf("engine %s (repository=%s)", strings.Join(args, " "), repoPath)
}

// repositoryAccess resolves the repository path and password for share
// without mounting or running a backup — the device-password decryption and
// steps 5 and 7 of executeShare, which browse/restore/list need.
func (o *Orchestrator) repositoryAccess(shareID string) (share configstore.Share, device configstore.Device, repoPath, password string, err error) {
	share, err = o.findShareByID(shareID)
	if err != nil {
		return
	}
	device, err = o.findDeviceByID(share.DeviceID)
	if err != nil {
		return
	}

	devicePassword, derr := o.creds.Decrypt(device.EncryptedPassword)
	if derr != nil {
		err = fmt.Errorf("failed to decrypt device password: %w", derr)
		return
	}

	repoPath = filepath.Join(o.opts.RepositoryBasePath, device.ID, share.ID)
	password, err = o.derivePassword(device, &share, devicePassword)
	return
}

// ListSnapshots lists every Backup recorded in share's repository (§4.4).
func (o *Orchestrator) ListSnapshots(ctx context.Context, shareID string) ([]engine.Backup, error) {
	_, _, repoPath, password, err := o.repositoryAccess(shareID)
	if err != nil {
		return nil, err
	}
	return o.engine.ListBackups(ctx, repoPath, password)
}

// BrowseSnapshot lists the contents of path inside backupID (§4.4).
func (o *Orchestrator) BrowseSnapshot(ctx context.Context, shareID, backupID, path string) ([]engine.FileEntry, error) {
	_, _, repoPath, password, err := o.repositoryAccess(shareID)
	if err != nil {
		return nil, err
	}
	return o.engine.Browse(ctx, repoPath, password, backupID, path)
}

// RestoreSnapshot restores backupID into {RestoreRoot}/{share_id}/{backupID}
// (optionally limited to includePaths) and returns the destination (§4.4).
// A destination that resolves outside RestoreRoot is rejected.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context, shareID, backupID string, includePaths []string) (string, error) {
	_, _, repoPath, password, err := o.repositoryAccess(shareID)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(o.opts.RestoreRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve restore root %s: %w", o.opts.RestoreRoot, err)
	}
	target := filepath.Join(root, shareID, backupID)
	if rel, rerr := filepath.Rel(root, target); rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("restore target %s is outside the restore root %s", target, root)
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return "", fmt.Errorf("failed to create restore target %s: %w", target, err)
	}
	if err := o.engine.Restore(ctx, repoPath, password, backupID, target, includePaths); err != nil {
		return "", err
	}
	return target, nil
}
