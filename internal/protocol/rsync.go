package protocol

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

// RsyncDriver has no real "mount" primitive — rsync is a sync tool, not a
// filesystem. It honors the Driver contract by materializing a local mirror
// directory on Mount (an rsync pull of the remote tree) and re-syncing on
// every TestConnection-free Mount call beyond the first, which keeps the
// Orchestrator's "mount, then run the engine against a local path" sequence
// uniform across all three protocols (§4.5, §9).
type RsyncDriver struct {
	wolCapable
	mountRoot string
	table     *mountTable
	logger    *zap.Logger
}

func NewRsyncDriver(mountRoot string, logger *zap.Logger) *RsyncDriver {
	return &RsyncDriver{
		mountRoot: mountRoot,
		table:     newMountTable(),
		logger:    logger.Named("protocol.rsync"),
	}
}

func (d *RsyncDriver) Protocol() configstore.Protocol { return configstore.ProtocolRsync }

func (d *RsyncDriver) RequiresAuth() bool { return true }

func (d *RsyncDriver) remoteSpec(device configstore.Device, remotePath string) string {
	host := device.Host
	if device.Username != "" {
		host = device.Username + "@" + device.Host
	}
	return fmt.Sprintf("rsync://%s/%s", host, remotePath)
}

func (d *RsyncDriver) TestConnection(ctx context.Context, device configstore.Device, password string) error {
	cmd := d.command(ctx, []string{"--list-only", d.remoteSpec(device, "")}, device, password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("protocol: rsync test-connection to %s failed: %w: %s", device.Host, err, string(out))
	}
	return nil
}

func (d *RsyncDriver) Mount(ctx context.Context, device configstore.Device, share configstore.Share, password string) (string, error) {
	key := mountKey(device.Host, share.Path)
	path, owner, err := d.table.acquireOrWait(key, func() (string, error) {
		localPath := filepath.Join(d.mountRoot, "rsync", device.Name, share.Name)
		if err := os.MkdirAll(localPath, 0o750); err != nil {
			return "", fmt.Errorf("protocol: failed to create mirror directory %s: %w", localPath, err)
		}

		if err := d.sync(ctx, device, share, password, localPath); err != nil {
			os.RemoveAll(localPath)
			return "", err
		}

		d.logger.Info("synced rsync mirror", zap.String("remote", share.Path), zap.String("local", localPath))
		return localPath, nil
	})
	if err != nil {
		return "", err
	}

	// The owner already synced as part of creating the mirror. Every other
	// caller joining an existing mirror re-syncs so a Mount call always
	// reflects the remote's current contents, not just whatever was there
	// when the mirror was first created.
	if !owner {
		if err := d.sync(ctx, device, share, password, path); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (d *RsyncDriver) sync(ctx context.Context, device configstore.Device, share configstore.Share, password, localPath string) error {
	args := []string{"-a", "--delete", d.remoteSpec(device, share.Path) + "/", localPath + "/"}
	cmd := d.command(ctx, args, device, password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("protocol: rsync of %s to %s failed: %w: %s", share.Path, localPath, err, string(out))
	}
	return nil
}

func (d *RsyncDriver) Unmount(ctx context.Context, localPath string) error {
	shouldRemove, err := d.table.releaseByPath(localPath)
	if err != nil {
		return err
	}
	if !shouldRemove {
		return nil
	}
	if err := os.RemoveAll(localPath); err != nil {
		return fmt.Errorf("protocol: failed to remove rsync mirror %s: %w", localPath, err)
	}
	d.logger.Info("removed rsync mirror", zap.String("local", localPath))
	return nil
}

func (d *RsyncDriver) teardown(ctx context.Context) {
	for _, path := range d.table.teardownAll() {
		if err := os.RemoveAll(path); err != nil {
			d.logger.Warn("failed to remove mirror during shutdown", zap.String("local", path), zap.Error(err))
		}
	}
}

func (d *RsyncDriver) command(ctx context.Context, args []string, device configstore.Device, password string) *exec.Cmd {
	if device.Port != 0 {
		args = append([]string{"--port", strconv.Itoa(device.Port)}, args...)
	}
	cmd := exec.CommandContext(ctx, "rsync", args...)
	if password != "" {
		cmd.Env = append(os.Environ(), "RSYNC_PASSWORD="+password)
	}
	return cmd
}
