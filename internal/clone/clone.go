// Package clone copies a stopped container to a new, independent
// container under a new name.
package clone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/identity"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// DefaultDeviceDir holds the images of device-backed clones.
const DefaultDeviceDir = "/opt/lxc-vbd"

// Options describe one clone.
type Options struct {
	Original string
	Name     string

	// DeviceSizeMB puts the new rootfs on a loop-mounted image of this
	// size instead of a plain directory.
	DeviceSizeMB int
	FSType       string
	DeviceDir    string

	// Networking, when it has an address, is written into the new rootfs.
	Networking identity.Networking
}

// Probes detect how the source rootfs can be copied.
type Probes struct {
	BlockDevice func(path string) bool
	Btrfs       func(path string) bool
}

// Cloner performs clones.
type Cloner struct {
	runner  system.Runner
	storage *storage.Manager
	cfg     container.Config
	probes  Probes
	opts    []container.Option
	log     *logrus.Entry
}

// ClonerOption customizes a Cloner.
type ClonerOption func(*Cloner)

// WithProbes replaces the rootfs type detection.
func WithProbes(p Probes) ClonerOption {
	return func(c *Cloner) {
		if p.BlockDevice != nil {
			c.probes.BlockDevice = p.BlockDevice
		}
		if p.Btrfs != nil {
			c.probes.Btrfs = p.Btrfs
		}
	}
}

// WithContainerOptions passes options to every container handle created.
func WithContainerOptions(opts ...container.Option) ClonerOption {
	return func(c *Cloner) {
		c.opts = append(c.opts, opts...)
	}
}

// New creates a Cloner.
func New(runner system.Runner, mgr *storage.Manager, cfg container.Config, opts ...ClonerOption) *Cloner {
	c := &Cloner{
		runner:  runner,
		storage: mgr,
		cfg:     cfg,
		probes: Probes{
			BlockDevice: system.IsBlockDevice,
			Btrfs:       system.IsBtrfs,
		},
		log: logrus.WithField("source", "clone"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cloner) handle(name string) *container.Container {
	return container.New(name, c.runner, c.cfg, c.opts...)
}

func (c *Cloner) validate(ctx context.Context, opts Options) (orig, dest *container.Container, err error) {
	if opts.Original == "" || opts.Name == "" {
		return nil, nil, system.InvalidArgument("clone requires an original and a new name")
	}
	if opts.Original == opts.Name {
		return nil, nil, system.InvalidArgument("new name must differ from the original (%s)", opts.Name)
	}
	if opts.DeviceSizeMB < 0 {
		return nil, nil, system.InvalidArgument("device size must not be negative: %d", opts.DeviceSizeMB)
	}

	orig = c.handle(opts.Original)
	dest = c.handle(opts.Name)
	if !orig.Exists(ctx) {
		return nil, nil, system.InvalidArgument("requested original container does not exist (%s)", opts.Original)
	}
	if dest.Exists(ctx) {
		return nil, nil, system.InvalidArgument("requested new container already exists (%s)", opts.Name)
	}
	if orig.Running(ctx) {
		return nil, nil, system.InvalidState("requested original container is currently running (%s)", opts.Original)
	}
	return orig, dest, nil
}

// Clone copies opts.Original to opts.Name. Everything created along the
// way is destroyed again if a later step fails.
func (c *Cloner) Clone(ctx context.Context, opts Options) (_ *container.Container, err error) {
	orig, dest, err := c.validate(ctx, opts)
	if err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"original": opts.Original, "name": opts.Name})

	cleanup := system.NewCleanupStack()
	defer func() {
		if err == nil {
			cleanup.Clear()
			return
		}
		log.WithError(err).Warn("clone failed, rolling back")
		if cerr := cleanup.Execute(); cerr != nil {
			log.WithError(cerr).Error("rollback incomplete")
		}
	}()

	dir, err := c.copyMetadata(ctx, orig, dest, cleanup)
	if err != nil {
		return nil, err
	}

	rootfs, err := c.copyRootfs(ctx, orig, dir, opts, cleanup)
	if err != nil {
		return nil, err
	}

	if err := identity.RewriteNames(dir, orig.Name(), dest.Name()); err != nil {
		return nil, err
	}
	if err := identity.SetRootfs(dest.ConfigPath(), rootfs); err != nil {
		return nil, err
	}
	if err := identity.RewriteHostnames(rootfs, orig.Name(), dest.Name()); err != nil {
		return nil, err
	}
	if err := identity.RandomizeHWAddr(dest.ConfigPath()); err != nil {
		return nil, err
	}

	if opts.Networking.Address != "" {
		n := opts.Networking
		n.Hostname = dest.Name()
		if err := identity.ApplyNetworking(rootfs, n); err != nil {
			return nil, err
		}
	}

	log.WithField("rootfs", rootfs).Info("container cloned")
	return dest, nil
}

func (c *Cloner) copyMetadata(ctx context.Context, orig, dest *container.Container, cleanup *system.CleanupStack) (string, error) {
	dir, err := c.storage.NewCloneDirectory(dest.Name(), filepath.Dir(orig.Path()))
	if err != nil {
		return "", err
	}
	if err := dir.Create(ctx); err != nil {
		return "", err
	}
	cleanup.Add(func() error { return dir.Destroy(context.Background()) })

	for _, file := range identity.NameFiles {
		src := filepath.Join(orig.Path(), file)
		if _, err := os.Stat(src); os.IsNotExist(err) && file != "config" {
			continue
		}
		if err := system.CopyFile(src, filepath.Join(dir.TargetPath(), file)); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", file, err)
		}
	}
	return dir.TargetPath(), nil
}

func (c *Cloner) copyRootfs(ctx context.Context, orig *container.Container, dir string, opts Options, cleanup *system.CleanupStack) (string, error) {
	src := orig.Rootfs()
	switch {
	case opts.DeviceSizeMB > 0:
		return c.copyDevice(ctx, src, opts, cleanup)
	case c.probes.BlockDevice(src):
		return "", fmt.Errorf("%w: cloning a block device backed rootfs (%s)", system.ErrUnimplemented, src)
	case c.snapshotCapable(ctx, src):
		return c.copyBtrfs(ctx, src, dir, cleanup)
	default:
		return c.copyFilesystem(ctx, src, dir)
	}
}

func (c *Cloner) snapshotCapable(ctx context.Context, path string) bool {
	if !c.probes.Btrfs(path) {
		return false
	}
	res, err := c.runner.Run(ctx, system.Command{
		Name:         "btrfs",
		Args:         []string{"subvolume", "show", path},
		Sudo:         true,
		AllowFailure: true,
	})
	return err == nil && res.Success()
}

func (c *Cloner) rsync(ctx context.Context, src, dst string) error {
	_, err := c.runner.Run(ctx, system.Command{
		Name: "rsync",
		Args: []string{"-ax", src + "/", dst + "/"},
		Sudo: true,
	})
	if err != nil {
		return fmt.Errorf("failed to copy rootfs: %w", err)
	}
	return nil
}

func (c *Cloner) copyFilesystem(ctx context.Context, src, dir string) (string, error) {
	rootfs := filepath.Join(dir, "rootfs")
	if err := c.storage.MkdirAll(ctx, rootfs); err != nil {
		return "", err
	}
	// rootfs lives inside the clone directory, which rollback removes.
	if err := c.rsync(ctx, src, rootfs); err != nil {
		return "", err
	}
	return rootfs, nil
}

func (c *Cloner) copyDevice(ctx context.Context, src string, opts Options, cleanup *system.CleanupStack) (string, error) {
	deviceDir := opts.DeviceDir
	if deviceDir == "" {
		deviceDir = DefaultDeviceDir
	}
	dev, err := c.storage.NewVirtualDevice(opts.Name, deviceDir, storage.DeviceOptions{
		SizeMB: opts.DeviceSizeMB,
		FSType: opts.FSType,
	})
	if err != nil {
		return "", err
	}
	if err := dev.Create(ctx); err != nil {
		return "", err
	}
	cleanup.Add(func() error { return dev.Destroy(context.Background()) })

	if err := dev.Mount(ctx); err != nil {
		return "", err
	}
	if err := c.rsync(ctx, src, dev.TargetPath()); err != nil {
		return "", err
	}
	return dev.TargetPath(), nil
}

func (c *Cloner) copyBtrfs(ctx context.Context, src, dir string, cleanup *system.CleanupStack) (string, error) {
	rootfs := filepath.Join(dir, "rootfs")
	_, err := c.runner.Run(ctx, system.Command{
		Name: "btrfs",
		Args: []string{"subvolume", "snapshot", src, rootfs},
		Sudo: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to snapshot rootfs: %w", err)
	}
	cleanup.Add(func() error {
		_, err := c.runner.Run(context.Background(), system.Command{
			Name: "btrfs",
			Args: []string{"subvolume", "delete", rootfs},
			Sudo: true,
		})
		return err
	})
	return rootfs, nil
}
