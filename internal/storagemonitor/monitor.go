// Package storagemonitor implements the Storage Monitor (§4.6): it maps a
// filesystem path to a StorageStatus using the host volume that contains it.
//
// The teacher's agent declared github.com/shirou/gopsutil/v4 in its go.mod
// for exactly this purpose (host resource metrics) but left it as an unwired
// TODO stub (agent/internal/metrics/metrics.go). This package is where that
// dependency is actually put to work: disk.UsageWithContext gives free/used
// bytes for the mount containing a path, cross-platform (Linux/macOS/Windows),
// without hand-rolling syscall.Statfs_t per GOOS.
package storagemonitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// ThresholdLevel classifies a StorageStatus by how full its volume is (§3).
type ThresholdLevel string

const (
	Normal    ThresholdLevel = "normal"
	Warning   ThresholdLevel = "warning"
	Critical  ThresholdLevel = "critical"
	Exhausted ThresholdLevel = "exhausted"
)

// Thresholds configures the percentage boundaries and minimum-free-bytes
// floor used to classify a StorageStatus (§6 defaults: 80/90/95%, 1 GiB).
type Thresholds struct {
	WarningPercent   float64
	CriticalPercent  float64
	ExhaustedPercent float64
	MinimumFreeBytes int64
}

// DefaultThresholds returns the defaults documented in spec §4.6.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningPercent:   80,
		CriticalPercent:  90,
		ExhaustedPercent: 95,
		MinimumFreeBytes: 1 << 30,
	}
}

// Status is the StorageStatus record (§3).
type Status struct {
	Path             string
	TotalBytes       uint64
	UsedBytes        uint64
	AvailableBytes   uint64
	UsedPercentage   float64
	ThresholdLevel   ThresholdLevel
	Message          string
}

// Monitor reports capacity for filesystem paths against a configured set of
// Thresholds.
type Monitor struct {
	thresholds Thresholds
}

// New returns a Monitor using the given Thresholds.
func New(thresholds Thresholds) *Monitor {
	return &Monitor{thresholds: thresholds}
}

// Status returns the StorageStatus of the volume containing path.
func (m *Monitor) Status(ctx context.Context, path string) (Status, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Status{}, fmt.Errorf("storagemonitor: failed to read usage for %s: %w", path, err)
	}

	level, message := m.classify(usage.UsedPercent, usage.Free)

	return Status{
		Path:           path,
		TotalBytes:     usage.Total,
		UsedBytes:      usage.Used,
		AvailableBytes: usage.Free,
		UsedPercentage: usage.UsedPercent,
		ThresholdLevel: level,
		Message:        message,
	}, nil
}

// HasSufficientSpace reports whether path can absorb an additional
// estimatedBytes without crossing into Exhausted or below the configured
// minimum-free-bytes floor (§4.6).
func (m *Monitor) HasSufficientSpace(ctx context.Context, path string, estimatedBytes int64) (bool, error) {
	status, err := m.Status(ctx, path)
	if err != nil {
		return false, err
	}
	if status.ThresholdLevel == Exhausted {
		return false, nil
	}
	required := estimatedBytes + m.thresholds.MinimumFreeBytes
	return int64(status.AvailableBytes) >= required, nil
}

func (m *Monitor) classify(usedPercent float64, availableBytes uint64) (ThresholdLevel, string) {
	switch {
	case usedPercent >= m.thresholds.ExhaustedPercent || int64(availableBytes) < m.thresholds.MinimumFreeBytes:
		return Exhausted, fmt.Sprintf("storage exhausted: %.1f%% used", usedPercent)
	case usedPercent >= m.thresholds.CriticalPercent:
		return Critical, fmt.Sprintf("storage critical: %.1f%% used", usedPercent)
	case usedPercent >= m.thresholds.WarningPercent:
		return Warning, fmt.Sprintf("storage warning: %.1f%% used", usedPercent)
	default:
		return Normal, fmt.Sprintf("storage normal: %.1f%% used", usedPercent)
	}
}
