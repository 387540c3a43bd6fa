package protocol

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
)

// SMBDriver mounts CIFS/SMB shares via the host's mount.cifs helper, the same
// "shell out to the platform tool rather than reimplement the protocol"
// approach the teacher uses for restic itself (exec.CommandContext +
// captured stderr for diagnostics).
type SMBDriver struct {
	wolCapable
	mountRoot string
	table     *mountTable
	logger    *zap.Logger
}

// NewSMBDriver returns a driver that mounts shares under mountRoot (a
// directory this process can write mount points into, e.g. /var/lib/backupd/mounts).
func NewSMBDriver(mountRoot string, logger *zap.Logger) *SMBDriver {
	return &SMBDriver{
		mountRoot: mountRoot,
		table:     newMountTable(),
		logger:    logger.Named("protocol.smb"),
	}
}

func (d *SMBDriver) Protocol() configstore.Protocol { return configstore.ProtocolSMB }

func (d *SMBDriver) RequiresAuth() bool { return true }

func (d *SMBDriver) TestConnection(ctx context.Context, device configstore.Device, password string) error {
	target := fmt.Sprintf("//%s/IPC$", device.Host)
	args := []string{"-L", device.Host, "-N"}
	if device.Username != "" {
		args = []string{"-L", device.Host, "-U", device.Username}
	}
	cmd := exec.CommandContext(ctx, "smbclient", args...)
	if device.Username != "" && password != "" {
		cmd.Env = append(os.Environ(), "PASSWD="+password)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("protocol: smb test-connection to %s (%s) failed: %w: %s", device.Host, target, err, string(out))
	}
	return nil
}

func (d *SMBDriver) Mount(ctx context.Context, device configstore.Device, share configstore.Share, password string) (string, error) {
	key := mountKey(device.Host, share.Path)
	path, _, err := d.table.acquireOrWait(key, func() (string, error) {
		localPath := filepath.Join(d.mountRoot, "smb", device.Name, share.Name)
		if err := os.MkdirAll(localPath, 0o750); err != nil {
			return "", fmt.Errorf("protocol: failed to create mount point %s: %w", localPath, err)
		}

		remote := fmt.Sprintf("//%s/%s", device.Host, share.Path)
		options := fmt.Sprintf("username=%s,password=%s", device.Username, password)
		if device.Port != 0 {
			options += fmt.Sprintf(",port=%d", device.Port)
		}

		cmd := exec.CommandContext(ctx, "mount", "-t", "cifs", remote, localPath, "-o", options)
		if out, err := cmd.CombinedOutput(); err != nil {
			os.Remove(localPath)
			return "", fmt.Errorf("protocol: smb mount of %s at %s failed: %w: %s", remote, localPath, err, string(out))
		}

		d.logger.Info("mounted smb share", zap.String("remote", remote), zap.String("local", localPath))
		return localPath, nil
	})
	return path, err
}

func (d *SMBDriver) Unmount(ctx context.Context, localPath string) error {
	shouldUnmount, err := d.table.releaseByPath(localPath)
	if err != nil {
		return err
	}
	if !shouldUnmount {
		return nil
	}

	cmd := exec.CommandContext(ctx, "umount", localPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("protocol: smb unmount of %s failed: %w: %s", localPath, err, string(out))
	}
	d.logger.Info("unmounted smb share", zap.String("local", localPath))
	return nil
}

// teardown force-unmounts every tracked mount. The serve command's stop path
// does not call it: mounts still tracked at exit are left in place.
func (d *SMBDriver) teardown(ctx context.Context) {
	for _, path := range d.table.teardownAll() {
		cmd := exec.CommandContext(ctx, "umount", "-l", path)
		if err := cmd.Run(); err != nil {
			d.logger.Warn("failed to force-unmount during shutdown", zap.String("local", path), zap.Error(err))
		}
	}
}
