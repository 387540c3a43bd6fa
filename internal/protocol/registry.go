// Package protocol implements the Protocol Registry (§4.5): one Driver per
// transport (SMB, SSH/SFTP, rsync), each wrapping the host's mount tooling via
// exec.Command the same way the teacher's restic.Wrapper drives the restic
// binary — this package never reimplements SMB/SSH/rsync wire protocols
// itself, only the mount/unmount/test-connection contract on top of them.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

// ErrUnsupportedProtocol is returned by Registry.Get for an unregistered
// configstore.Protocol value.
var ErrUnsupportedProtocol = errors.New("protocol: unsupported protocol")

// ErrAlreadyWoken guards against redundant magic-packet floods; callers that
// see it may proceed straight to TestConnection.
var ErrAlreadyWoken = errors.New("protocol: wake already in flight for this device")

// Driver is implemented once per transport. Mount must be safe to call
// concurrently for the same (device, share) — the reference-counting
// contract of §4.5 is the driver's responsibility, not the caller's.
type Driver interface {
	// Protocol identifies which configstore.Protocol this driver serves.
	Protocol() configstore.Protocol

	// SupportsWOL reports whether this transport's devices can be woken by
	// magic packet (true for all three current drivers — WOL is a network
	// primitive independent of the mount transport, but the contract is
	// still per-driver per §4.5).
	SupportsWOL() bool

	// RequiresAuth reports whether Mount/TestConnection expect a non-empty
	// password for a typical device of this protocol.
	RequiresAuth() bool

	// WakeDevice sends a Wake-on-LAN magic packet for device, if it has one
	// configured. A no-op (nil error) when WakeOnLANEnabled is false.
	WakeDevice(ctx context.Context, device configstore.Device) error

	// TestConnection verifies the device is reachable and credentials (if
	// any) are accepted, without mounting anything.
	TestConnection(ctx context.Context, device configstore.Device, password string) error

	// Mount makes share's remote path available at a local filesystem path
	// and returns that path. Concurrent Mount calls for the same
	// (device.Host, share.Path) return the same local path and increment a
	// shared refcount; Unmount only tears down the kernel mount once every
	// caller has released it.
	Mount(ctx context.Context, device configstore.Device, share configstore.Share, password string) (localPath string, err error)

	// Unmount releases one reference to localPath (as returned by Mount),
	// unmounting for real only when the last reference is released.
	Unmount(ctx context.Context, localPath string) error
}

// Registry holds one Driver per protocol and performs wake-on-LAN ahead of
// connection attempts for devices that have it enabled.
type Registry struct {
	mu      sync.RWMutex
	drivers map[configstore.Protocol]Driver
	woken   map[string]time.Time // device ID -> last wake, de-dupes repeated wakes
	logger  *zap.Logger
}

// NewRegistry returns an empty Registry. Drivers are added with Register.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[configstore.Protocol]Driver),
		woken:   make(map[string]time.Time),
		logger:  logger.Named("protocol"),
	}
}

// Register installs driver under its own Protocol() key.
func (r *Registry) Register(driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver.Protocol()] = driver
}

// Get returns the Driver registered for proto.
func (r *Registry) Get(proto configstore.Protocol) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[proto]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, proto)
	}
	return d, nil
}

// WakeIfNeeded sends a magic packet when device has Wake-on-LAN configured
// and no wake has been sent for it in the last wakeCooldown, and returns as
// soon as the packet is sent. Waiting for the device is left to the caller
// (the orchestrator sleeps WakeWait, then retries Mount with backoff).
const wakeCooldown = 30 * time.Second

func (r *Registry) WakeIfNeeded(ctx context.Context, device configstore.Device) error {
	if !device.WakeOnLANEnabled || device.WakeOnLANMAC == "" {
		return nil
	}

	r.mu.Lock()
	if last, ok := r.woken[device.ID]; ok && time.Since(last) < wakeCooldown {
		r.mu.Unlock()
		return ErrAlreadyWoken
	}
	r.woken[device.ID] = time.Now()
	r.mu.Unlock()

	broadcast := BroadcastAddressForHost(device.Host)
	if err := SendMagicPacket(device.WakeOnLANMAC, broadcast); err != nil {
		return fmt.Errorf("protocol: failed to wake %s: %w", device.Name, err)
	}
	r.logger.Info("sent wake-on-lan packet", zap.String("device", device.Name), zap.String("broadcast", broadcast))
	return nil
}

// TestConnectionWithBackoff wraps a Driver's TestConnection in bounded
// exponential backoff (§4.5: transient failures right after a wake — the
// device's network stack coming up, NIC renegotiation — should be retried
// rather than surfaced immediately). maxElapsed bounds total retry time.
func TestConnectionWithBackoff(ctx context.Context, driver Driver, device configstore.Device, password string, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxElapsed

	operation := func() error {
		return driver.TestConnection(ctx, device, password)
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// MountWithBackoff wraps a Driver's Mount in the same bounded-retry policy as
// TestConnectionWithBackoff, for the same reason.
func MountWithBackoff(ctx context.Context, driver Driver, device configstore.Device, share configstore.Share, password string, maxElapsed time.Duration) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxElapsed

	var localPath string
	operation := func() error {
		p, err := driver.Mount(ctx, device, share, password)
		if err != nil {
			return err
		}
		localPath = p
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return localPath, nil
}
