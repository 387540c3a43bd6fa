package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a requested device or share does not exist.
var ErrNotFound = errors.New("configstore: not found")

// ErrInvalidPath is returned by validation when a device or share name would
// escape the store root or collide with a reserved filesystem name.
var ErrInvalidPath = errors.New("configstore: invalid path component")

// Store is a typed key/value configuration collaborator backed by a YAML file
// tree rooted at Root. Devices live at "devices/{name}.yaml"; shares live at
// "shares/{device_name}/{share_name}.yaml". Every write is committed
// atomically via temp-file-then-rename, the same durability pattern the
// teacher's connection manager uses for its agent-state file.
//
// Store is safe for concurrent use: all reads take a read lock, all writes
// (and read-modify-write sequences like cascading deletes) take a write lock.
type Store struct {
	root   string
	mu     sync.RWMutex
	logger *zap.Logger
}

// New returns a Store rooted at root, creating the devices/ and shares/
// subdirectories if they do not already exist.
func New(root string, logger *zap.Logger) (*Store, error) {
	for _, sub := range []string{"devices", "shares"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o750); err != nil {
			return nil, fmt.Errorf("configstore: failed to create %s: %w", sub, err)
		}
	}
	return &Store{root: root, logger: logger.Named("configstore")}, nil
}

// validateName enforces §6's path-component policy: reject "..", path
// separators, null bytes, leading/trailing dots, and the empty string.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: reserved name %q", ErrInvalidPath, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidPath, name)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: %q contains a null byte", ErrInvalidPath, name)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("%w: %q has a leading or trailing dot", ErrInvalidPath, name)
	}
	return nil
}

func devicePath(root, name string) string {
	return filepath.Join(root, "devices", name+".yaml")
}

func sharePath(root, deviceName, shareName string) string {
	return filepath.Join(root, "shares", deviceName, shareName+".yaml")
}

// commit marshals v as YAML and writes it to path atomically: write to a temp
// file in the same directory, close it (no fsync), then rename over the
// destination. message is accepted for interface symmetry with a VCS-backed
// implementation and is logged, matching the commit-message contract in §6.
func commit(path string, v interface{}, message string, logger *zap.Logger) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("configstore: failed to marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("configstore: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("configstore: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("configstore: failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configstore: failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("configstore: failed to commit %s: %w", path, err)
	}
	ok = true

	logger.Info("config committed", zap.String("path", path), zap.String("message", message))
	return nil
}

// PutDevice writes dev to "devices/{dev.Name}.yaml", committed atomically.
func (s *Store) PutDevice(dev Device, message string) error {
	if err := validateName(dev.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return commit(devicePath(s.root, dev.Name), dev, message, s.logger)
}

// GetDevice reads the device named name. Returns ErrNotFound if absent.
func (s *Store) GetDevice(name string) (Device, error) {
	if err := validateName(name); err != nil {
		return Device{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dev Device
	if err := readYAML(devicePath(s.root, name), &dev); err != nil {
		return Device{}, err
	}
	return dev, nil
}

// ListDevices returns every device, ordered by name.
func (s *Store) ListDevices() ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, "devices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("configstore: failed to list devices: %w", err)
	}

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		var dev Device
		if err := readYAML(filepath.Join(dir, e.Name()), &dev); err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// DeleteDevice removes the device and cascades to every share it owns (§3
// invariant: deleting a device cascades to its shares and repositories — the
// repository directories themselves are the orchestrator's concern, this
// only removes the declarative records).
func (s *Store) DeleteDevice(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(devicePath(s.root, name)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("configstore: failed to delete device %s: %w", name, err)
	}

	shareDir := filepath.Join(s.root, "shares", name)
	if err := os.RemoveAll(shareDir); err != nil {
		return fmt.Errorf("configstore: failed to cascade-delete shares for device %s: %w", name, err)
	}
	s.logger.Info("device deleted, shares cascaded", zap.String("device", name))
	return nil
}

// PutShare writes share under its owning device's share directory.
func (s *Store) PutShare(deviceName string, share Share, message string) error {
	if err := validateName(deviceName); err != nil {
		return err
	}
	if err := validateName(share.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return commit(sharePath(s.root, deviceName, share.Name), share, message, s.logger)
}

// GetShare reads the named share belonging to deviceName.
func (s *Store) GetShare(deviceName, shareName string) (Share, error) {
	if err := validateName(deviceName); err != nil {
		return Share{}, err
	}
	if err := validateName(shareName); err != nil {
		return Share{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var share Share
	if err := readYAML(sharePath(s.root, deviceName, shareName), &share); err != nil {
		return Share{}, err
	}
	return share, nil
}

// ListShares returns every share owned by deviceName, ordered by name.
func (s *Store) ListShares(deviceName string) ([]Share, error) {
	if err := validateName(deviceName); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, "shares", deviceName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("configstore: failed to list shares for %s: %w", deviceName, err)
	}

	shares := make([]Share, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		var share Share
		if err := readYAML(filepath.Join(dir, e.Name()), &share); err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Name < shares[j].Name })
	return shares, nil
}

// DeleteShare removes a single share (§3: deleting a share cancels any
// running job against it — that cancellation is the orchestrator/job
// registry's responsibility, not this store's).
func (s *Store) DeleteShare(deviceName, shareName string) error {
	if err := validateName(deviceName); err != nil {
		return err
	}
	if err := validateName(shareName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(sharePath(s.root, deviceName, shareName)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("configstore: failed to delete share %s/%s: %w", deviceName, shareName, err)
	}
	return nil
}

// ListAllShares returns every share across every device, ordered by device
// name then share name. Used by the Scheduler's Reconcile to compute the
// desired trigger set without one ListShares call per device.
func (s *Store) ListAllShares() ([]Share, error) {
	devices, err := s.ListDevices()
	if err != nil {
		return nil, err
	}
	var all []Share
	for _, dev := range devices {
		shares, err := s.ListShares(dev.Name)
		if err != nil {
			return nil, err
		}
		all = append(all, shares...)
	}
	return all, nil
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("configstore: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("configstore: corrupted file %s: %w", path, err)
	}
	return nil
}
