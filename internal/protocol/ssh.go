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

// SSHDriver mounts remote directories over SFTP using sshfs, and tests
// connectivity with a bare `ssh ... true` round trip. Password auth is
// passed to sshfs via sshpass so the password never touches argv; deployments
// that prefer key-based auth can leave Device.EncryptedPassword empty and
// rely on the operating SSH agent/known host key setup instead.
type SSHDriver struct {
	wolCapable
	mountRoot string
	table     *mountTable
	logger    *zap.Logger
}

func NewSSHDriver(mountRoot string, logger *zap.Logger) *SSHDriver {
	return &SSHDriver{
		mountRoot: mountRoot,
		table:     newMountTable(),
		logger:    logger.Named("protocol.ssh"),
	}
}

func (d *SSHDriver) Protocol() configstore.Protocol { return configstore.ProtocolSSH }

// RequiresAuth is false: key-based auth via the host's SSH agent/known_hosts
// is the common case for this protocol, unlike SMB/rsync which are almost
// always password-driven in this deployment's target environments.
func (d *SSHDriver) RequiresAuth() bool { return false }

func (d *SSHDriver) sshArgs(device configstore.Device) []string {
	args := []string{"-o", "BatchMode=no", "-o", "StrictHostKeyChecking=accept-new"}
	if device.Port != 0 {
		args = append(args, "-p", strconv.Itoa(device.Port))
	}
	if device.Username != "" {
		args = append(args, device.Username+"@"+device.Host)
	} else {
		args = append(args, device.Host)
	}
	return args
}

func (d *SSHDriver) TestConnection(ctx context.Context, device configstore.Device, password string) error {
	args := append(d.sshArgs(device), "true")
	cmd := d.command(ctx, "ssh", args, password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("protocol: ssh test-connection to %s failed: %w: %s", device.Host, err, string(out))
	}
	return nil
}

func (d *SSHDriver) Mount(ctx context.Context, device configstore.Device, share configstore.Share, password string) (string, error) {
	key := mountKey(device.Host, share.Path)
	path, _, err := d.table.acquireOrWait(key, func() (string, error) {
		localPath := filepath.Join(d.mountRoot, "ssh", device.Name, share.Name)
		if err := os.MkdirAll(localPath, 0o750); err != nil {
			return "", fmt.Errorf("protocol: failed to create mount point %s: %w", localPath, err)
		}

		remote := share.Path
		if device.Username != "" {
			remote = device.Username + "@" + device.Host + ":" + share.Path
		} else {
			remote = device.Host + ":" + share.Path
		}

		args := []string{"-o", "StrictHostKeyChecking=accept-new"}
		if device.Port != 0 {
			args = append(args, "-p", strconv.Itoa(device.Port))
		}
		args = append(args, remote, localPath)

		cmd := d.command(ctx, "sshfs", args, password)
		if out, err := cmd.CombinedOutput(); err != nil {
			os.Remove(localPath)
			return "", fmt.Errorf("protocol: sshfs mount of %s at %s failed: %w: %s", remote, localPath, err, string(out))
		}

		d.logger.Info("mounted ssh share", zap.String("remote", remote), zap.String("local", localPath))
		return localPath, nil
	})
	return path, err
}

func (d *SSHDriver) Unmount(ctx context.Context, localPath string) error {
	shouldUnmount, err := d.table.releaseByPath(localPath)
	if err != nil {
		return err
	}
	if !shouldUnmount {
		return nil
	}

	cmd := exec.CommandContext(ctx, "fusermount", "-u", localPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("protocol: sshfs unmount of %s failed: %w: %s", localPath, err, string(out))
	}
	d.logger.Info("unmounted ssh share", zap.String("local", localPath))
	return nil
}

func (d *SSHDriver) teardown(ctx context.Context) {
	for _, path := range d.table.teardownAll() {
		cmd := exec.CommandContext(ctx, "fusermount", "-uz", path)
		if err := cmd.Run(); err != nil {
			d.logger.Warn("failed to force-unmount during shutdown", zap.String("local", path), zap.Error(err))
		}
	}
}

// command builds an exec.Cmd that runs name under sshpass when a password is
// supplied, keeping the secret out of the process's own argv by passing it
// through sshpass's -e environment-variable mode.
func (d *SSHDriver) command(ctx context.Context, name string, args []string, password string) *exec.Cmd {
	if password == "" {
		return exec.CommandContext(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, "sshpass", append([]string{"-e", name}, args...)...)
	cmd.Env = append(os.Environ(), "SSHPASS="+password)
	return cmd
}
