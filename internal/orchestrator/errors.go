package orchestrator

import "errors"

// Failure taxonomy produced by the Orchestrator (§4.1).
var (
	ErrDeviceNotFound     = errors.New("orchestrator: device not found")
	ErrShareNotFound      = errors.New("orchestrator: share not found")
	ErrShareMismatch      = errors.New("orchestrator: share does not belong to device")
	ErrShareDisabled      = errors.New("orchestrator: share is disabled")
	ErrNoEnabledShares    = errors.New("orchestrator: device has no enabled shares")
	ErrMountFailed        = errors.New("orchestrator: mount failed")
	ErrStorageExhausted   = errors.New("orchestrator: storage exhausted")
	ErrEngineInitFailed   = errors.New("orchestrator: engine init failed")
	ErrEngineBackupFailed = errors.New("orchestrator: engine backup failed")
	ErrCancelled          = errors.New("orchestrator: cancelled")
	ErrJobNotFound        = errors.New("orchestrator: job not found")
	ErrJobNotFailed       = errors.New("orchestrator: job is not in a failed state")
)
