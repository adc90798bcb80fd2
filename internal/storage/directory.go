package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nace/lxkit/internal/system"
)

// OverlayDirectory is a plain directory used as a writable layer or as the
// home of a cloned container.
type OverlayDirectory struct {
	m          *Manager
	name       string
	dir        string
	persistent bool
}

// NewOverlayDirectory returns a scratch directory at
// <tmpDir>/virt-overlays/<name>.
func (m *Manager) NewOverlayDirectory(name, tmpDir string) (*OverlayDirectory, error) {
	if name == "" || tmpDir == "" {
		return nil, system.InvalidArgument("overlay directory requires a name and a tmp dir")
	}
	return &OverlayDirectory{m: m, name: name, dir: tmpDir}, nil
}

// NewCloneDirectory returns a persistent directory at <baseDir>/<name>.
func (m *Manager) NewCloneDirectory(name, baseDir string) (*OverlayDirectory, error) {
	if name == "" || baseDir == "" {
		return nil, system.InvalidArgument("clone directory requires a name and a base dir")
	}
	return &OverlayDirectory{m: m, name: name, dir: baseDir, persistent: true}, nil
}

// TargetPath implements Resource.
func (d *OverlayDirectory) TargetPath() string {
	if d.persistent {
		return filepath.Join(d.dir, d.name)
	}
	return filepath.Join(d.dir, "virt-overlays", d.name)
}

// Create makes the directory. It is a no-op if it already exists.
func (d *OverlayDirectory) Create(ctx context.Context) error {
	if err := d.m.MkdirAll(ctx, d.TargetPath()); err != nil {
		return fmt.Errorf("failed to create %s: %w", d.TargetPath(), err)
	}
	return nil
}

func (d *OverlayDirectory) Mount(context.Context) error   { return nil }
func (d *OverlayDirectory) Unmount(context.Context) error { return nil }

// Destroy removes the directory tree.
func (d *OverlayDirectory) Destroy(ctx context.Context) error {
	if err := d.m.RemoveAll(ctx, d.TargetPath()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", d.TargetPath(), err)
	}
	return nil
}

// Describe implements Resource.
func (d *OverlayDirectory) Describe() Descriptor {
	kind := KindOverlayDirectory
	if d.persistent {
		kind = KindCloneDirectory
	}
	return Descriptor{Kind: kind, Name: d.name, Dir: d.dir}
}
