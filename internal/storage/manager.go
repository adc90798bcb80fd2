// Package storage provides the disposable storage resources containers are
// built from: scratch directories, loop-mounted images and union mounts.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/system"
)

// MountTable reports whether a target is currently mounted.
type MountTable interface {
	Mounted(target string) (bool, error)
}

// HostMounts reads the host mount table.
type HostMounts struct{}

// Mounted implements MountTable.
func (HostMounts) Mounted(target string) (bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(filepath.Clean(target)))
	if err != nil {
		return false, err
	}
	return len(mounts) > 0, nil
}

// Manager performs the host operations behind every resource.
type Manager struct {
	runner system.Runner
	mounts MountTable
	loops  *LoopManager
	log    *logrus.Entry
}

// NewManager creates a new storage manager
func NewManager(runner system.Runner, mounts MountTable) *Manager {
	return &Manager{
		runner: runner,
		mounts: mounts,
		loops:  NewLoopManager(runner),
		log:    logrus.WithField("source", "storage"),
	}
}

// Mounted reports whether target is in the mount table. Errors reading
// the table count as not mounted.
func (m *Manager) Mounted(target string) bool {
	ok, err := m.mounts.Mounted(target)
	if err != nil {
		m.log.WithError(err).WithField("target", target).Debug("failed to read mount table")
		return false
	}
	return ok
}

// Mount mounts source on target unless target is already mounted.
func (m *Manager) Mount(ctx context.Context, fsType, source, target, options string) error {
	if m.Mounted(target) {
		return nil
	}
	if err := m.MkdirAll(ctx, target); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	args := []string{"-t", fsType}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, source, target)

	if _, err := m.runner.Run(ctx, system.Command{Name: "mount", Args: args, Sudo: true}); err != nil {
		return fmt.Errorf("failed to mount %s to %s: %w", source, target, err)
	}
	return nil
}

// Unmount unmounts a mount point
func (m *Manager) Unmount(ctx context.Context, target string, force bool) error {
	umount := func(args ...string) error {
		_, err := m.runner.Run(ctx, system.Command{
			Name: "umount",
			Args: append(args, target),
			Sudo: true,
		})
		return err
	}

	if !force {
		return umount()
	}

	// Try normal unmount first
	if err := umount(); err == nil {
		return nil
	}

	// Try force unmount
	if err := umount("-f"); err == nil {
		return nil
	}

	// Try lazy unmount as last resort
	return umount("-l")
}

// MakeFilesystem creates a filesystem on a device or image file
func (m *Manager) MakeFilesystem(ctx context.Context, device, fsType string) error {
	var cmd system.Command
	switch fsType {
	case "ext2", "ext3", "ext4":
		cmd = system.Command{Name: "mkfs." + fsType, Args: []string{"-q", "-F", device}}
	case "xfs":
		cmd = system.Command{Name: "mkfs.xfs", Args: []string{"-q", "-f", device}}
	case "btrfs":
		cmd = system.Command{Name: "mkfs.btrfs", Args: []string{"-q", "-f", device}}
	default:
		return system.InvalidArgument("unsupported filesystem: %s", fsType)
	}
	cmd.Sudo = true
	if _, err := m.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to create %s filesystem on %s: %w", fsType, device, err)
	}
	return nil
}

// MkdirAll creates path and any missing parents.
func (m *Manager) MkdirAll(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0755)
}

// RemoveAll removes path recursively. A missing path is not an error.
func (m *Manager) RemoveAll(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

// RemoveEmpty removes an empty directory. A missing path is not an error.
func (m *Manager) RemoveEmpty(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path)
}
