package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/nace/lxkit/internal/system"
)

const (
	// DefaultDeviceSizeMB is used when no size is given.
	DefaultDeviceSizeMB = 2000
	// DefaultDeviceFS is used when no filesystem is given.
	DefaultDeviceFS = "ext4"
	tmpfsDevice     = "none"
)

// DeviceOptions shape a VirtualDevice.
type DeviceOptions struct {
	SizeMB int
	FSType string
	// Tmpfs backs the device with memory instead of an image file.
	Tmpfs bool
}

// VirtualDevice is a fixed-size filesystem: a sparse image file mounted
// over a loop device, or a tmpfs.
type VirtualDevice struct {
	m      *Manager
	name   string
	tmpDir string
	opts   DeviceOptions
}

// NewVirtualDevice describes a device called name under tmpDir. Nothing is
// created until Create.
func (m *Manager) NewVirtualDevice(name, tmpDir string, opts DeviceOptions) (*VirtualDevice, error) {
	if name == "" || tmpDir == "" {
		return nil, system.InvalidArgument("virtual device requires a name and a tmp dir")
	}
	if opts.SizeMB < 0 {
		return nil, system.InvalidArgument("virtual device size must not be negative: %d", opts.SizeMB)
	}
	if opts.SizeMB == 0 && !opts.Tmpfs {
		opts.SizeMB = DefaultDeviceSizeMB
	}
	if opts.FSType == "" {
		opts.FSType = DefaultDeviceFS
	}
	return &VirtualDevice{m: m, name: name, tmpDir: tmpDir, opts: opts}, nil
}

// DevicePath is the image file, or "none" for tmpfs.
func (d *VirtualDevice) DevicePath() string {
	if d.opts.Tmpfs {
		return tmpfsDevice
	}
	return d.imagePath()
}

func (d *VirtualDevice) imagePath() string {
	return filepath.Join(d.tmpDir, "virt-imgs", d.name)
}

// TargetPath is the mount point.
func (d *VirtualDevice) TargetPath() string {
	return filepath.Join(d.tmpDir, "virt-mnts", d.name)
}

// Create allocates and formats the image. An existing image is reused.
func (d *VirtualDevice) Create(ctx context.Context) error {
	if err := d.m.MkdirAll(ctx, filepath.Dir(d.imagePath())); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := d.m.MkdirAll(ctx, d.TargetPath()); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	if d.opts.Tmpfs {
		return nil
	}
	if _, err := os.Stat(d.imagePath()); err == nil {
		return nil
	}

	if err := allocateSparse(d.imagePath(), int64(d.opts.SizeMB)*units.MiB); err != nil {
		return err
	}
	d.m.log.WithField("image", d.imagePath()).Debugf("allocated %s image", system.FormatSize(d.opts.SizeMB))
	return d.m.MakeFilesystem(ctx, d.imagePath(), d.opts.FSType)
}

func allocateSparse(path string, size int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to allocate image file: %w", err)
	}
	return file.Close()
}

// Mount mounts the device on TargetPath. Mounting twice is a no-op.
func (d *VirtualDevice) Mount(ctx context.Context) error {
	if d.opts.Tmpfs {
		var options string
		if d.opts.SizeMB > 0 {
			options = fmt.Sprintf("size=%dm", d.opts.SizeMB)
		}
		return d.m.Mount(ctx, "tmpfs", tmpfsDevice, d.TargetPath(), options)
	}
	return d.m.Mount(ctx, d.opts.FSType, d.imagePath(), d.TargetPath(), "loop")
}

// Unmount releases the mount point and any loop device left behind.
func (d *VirtualDevice) Unmount(ctx context.Context) error {
	if d.m.Mounted(d.TargetPath()) {
		if err := d.m.Unmount(ctx, d.TargetPath(), true); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", d.TargetPath(), err)
		}
	}
	if d.opts.Tmpfs {
		return nil
	}
	if loop := d.m.loops.FindByFile(ctx, d.imagePath()); loop != "" {
		return d.m.loops.Detach(ctx, loop)
	}
	return nil
}

// Destroy unmounts and removes the image and the mount point. It can be
// called any number of times.
func (d *VirtualDevice) Destroy(ctx context.Context) error {
	if err := d.Unmount(ctx); err != nil {
		return err
	}
	if err := d.m.RemoveAll(ctx, d.imagePath()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", d.imagePath(), err)
	}
	if err := d.m.RemoveEmpty(ctx, d.TargetPath()); err != nil {
		return fmt.Errorf("failed to remove mount point %s: %w", d.TargetPath(), err)
	}
	return nil
}

// Describe implements Resource.
func (d *VirtualDevice) Describe() Descriptor {
	return Descriptor{
		Kind:   KindVirtualDevice,
		Name:   d.name,
		Dir:    d.tmpDir,
		SizeMB: d.opts.SizeMB,
		FSType: d.opts.FSType,
		Tmpfs:  d.opts.Tmpfs,
	}
}
