package ephemeral

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/identity"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// Create builds every resource of the session without starting the
// container. On failure, or when ctx is cancelled before it returns,
// whatever was built is torn down before the error is returned.
func (s *Session) Create(ctx context.Context) (err error) {
	defer func() {
		if cause := interrupted(ctx); cause != nil {
			err = cause
		}
		if err == nil {
			return
		}
		s.log.WithError(err).Warn("failed to create ephemeral container, cleaning up")
		if cerr := s.Cleanup(); cerr != nil {
			s.log.WithError(cerr).Error("cleanup incomplete")
		}
	}()

	orig := container.New(s.opts.Original, s.deps.Runner, s.deps.Container, s.deps.ContainerOptions...)
	if err := s.copyFiles(orig); err != nil {
		return err
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	if err := identity.RandomizeHWAddr(s.lxc.ConfigPath()); err != nil {
		return err
	}
	if err := s.buildOverlay(ctx, orig); err != nil {
		return err
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	if err := s.renameIdentity(); err != nil {
		return err
	}
	if err := s.discoverBinds(ctx); err != nil {
		return err
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	if s.opts.Networking.Address != "" {
		n := s.opts.Networking
		n.Hostname = s.hostname
		if err := identity.ApplyNetworking(s.Rootfs(), n); err != nil {
			return err
		}
	}
	s.log.Info("ephemeral container created")
	return nil
}

// copyFiles copies the regular files of the original container directory.
func (s *Session) copyFiles(orig *container.Container) error {
	entries, err := os.ReadDir(orig.Path())
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", orig.Path(), err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(orig.Path(), e.Name())
		if err := system.CopyFile(src, filepath.Join(s.path, e.Name())); err != nil {
			return fmt.Errorf("failed to copy %s: %w", e.Name(), err)
		}
	}
	if err := os.MkdirAll(s.Rootfs(), 0755); err != nil {
		return fmt.Errorf("failed to create rootfs: %w", err)
	}
	return nil
}

func (s *Session) buildOverlay(ctx context.Context, orig *container.Container) error {
	mgr := s.deps.Storage
	if s.opts.Directory {
		dir := s.opts.DirectoryPath
		if dir == "" {
			dir = s.opts.TmpDir
		}
		upper, err := mgr.NewOverlayDirectory(s.name, dir)
		if err != nil {
			return err
		}
		s.upper = upper
		if err := upper.Create(ctx); err != nil {
			return err
		}
	} else {
		upper, err := mgr.NewVirtualDevice(s.name, s.opts.TmpDir, storage.DeviceOptions{
			SizeMB: s.opts.DeviceSizeMB,
			Tmpfs:  s.opts.DeviceSizeMB == 0,
		})
		if err != nil {
			return err
		}
		s.upper = upper
		if err := upper.Create(ctx); err != nil {
			return err
		}
		if err := upper.Mount(ctx); err != nil {
			return err
		}
	}

	overlay, err := mgr.NewOverlayMount(orig.Rootfs(), s.upper.TargetPath(), s.Rootfs(), s.opts.Union)
	if err != nil {
		return err
	}
	s.overlay = overlay
	return overlay.Mount(ctx)
}

func (s *Session) renameIdentity() error {
	if err := identity.RewriteNames(s.path, s.opts.Original, s.name); err != nil {
		return err
	}
	if err := identity.SetRootfs(s.lxc.ConfigPath(), s.Rootfs()); err != nil {
		return err
	}
	return identity.RewriteHostnames(s.Rootfs(), s.opts.Original, s.hostname)
}

var rootfsPrefix = regexp.MustCompile(`^.+rootfs/`)

// IsBindLine reports whether fields, one split fstab line, is a bind
// mount.
func IsBindLine(fields []string) bool {
	if len(fields) < 4 || strings.HasPrefix(fields[0], "#") {
		return false
	}
	if fields[2] == "bind" {
		return true
	}
	for _, opt := range strings.Split(fields[3], ",") {
		if opt == "bind" || opt == "rbind" {
			return true
		}
	}
	return false
}

// discoverBinds replaces every bind mount in the fstab with a union of
// the bind source under a tmpfs scratch layer, so the source is never
// written to.
func (s *Session) discoverBinds(ctx context.Context) error {
	fstab := s.lxc.FstabPath()
	data, err := os.ReadFile(fstab)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if IsBindLine(fields) {
			rewritten, err := s.bindOverlay(ctx, fields[0], fields[1])
			if err != nil {
				return err
			}
			line = rewritten
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if s.opts.Bind != "" {
		target := filepath.Join(s.Rootfs(), s.opts.Bind)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create bind target: %w", err)
		}
		fmt.Fprintf(&out, "%s %s none bind 0 0\n", s.opts.Bind, target)
	}
	return identity.WriteFile(fstab, out.Bytes())
}

func (s *Session) bindOverlay(ctx context.Context, source, target string) (string, error) {
	rel := rootfsPrefix.ReplaceAllString(target, "")
	containerTarget := filepath.Join(s.Rootfs(), rel)
	devName := s.name + "-" + strings.ReplaceAll(strings.Trim(rel, "/"), "/", "_")

	dev, err := s.deps.Storage.NewVirtualDevice(devName, s.opts.TmpDir, storage.DeviceOptions{Tmpfs: true})
	if err != nil {
		return "", err
	}
	s.binds = append(s.binds, dev)
	if err := dev.Create(ctx); err != nil {
		return "", err
	}
	if err := dev.Mount(ctx); err != nil {
		return "", err
	}
	if err := os.MkdirAll(containerTarget, 0755); err != nil {
		return "", fmt.Errorf("failed to create bind target %s: %w", containerTarget, err)
	}
	return s.opts.Union.FstabEntry(dev.TargetPath(), source, containerTarget), nil
}
