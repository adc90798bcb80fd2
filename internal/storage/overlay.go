package storage

import (
	"context"
	"fmt"

	"github.com/nace/lxkit/internal/system"
)

// Union is the union filesystem used to stack a writable layer over a
// read-only one.
type Union string

const (
	UnionOverlayfs Union = "overlayfs"
	UnionAufs      Union = "aufs"
)

// ParseUnion validates a configured union type.
func ParseUnion(s string) (Union, error) {
	switch u := Union(s); u {
	case UnionOverlayfs, UnionAufs:
		return u, nil
	default:
		return "", system.InvalidArgument("unsupported union filesystem %q (want overlayfs or aufs)", s)
	}
}

// MountOptions renders the -o argument stacking upper over lower.
func (u Union) MountOptions(upper, lower string) string {
	if u == UnionAufs {
		return fmt.Sprintf("br=%s=rw:%s=ro,noplink", upper, lower)
	}
	return fmt.Sprintf("upperdir=%s,lowerdir=%s", upper, lower)
}

// FstabEntry renders an fstab line mounting upper over lower at target.
func (u Union) FstabEntry(upper, lower, target string) string {
	return fmt.Sprintf("none %s %s %s 0 0", target, u, u.MountOptions(upper, lower))
}

// OverlayMount stacks a writable overlay directory over a read-only base
// at target.
type OverlayMount struct {
	m       *Manager
	base    string
	overlay string
	target  string
	union   Union
}

// NewOverlayMount validates that base, overlay and target are existing
// directories and that union is supported.
func (m *Manager) NewOverlayMount(base, overlay, target string, union Union) (*OverlayMount, error) {
	for _, dir := range []struct{ name, path string }{
		{"base", base},
		{"overlay", overlay},
		{"target", target},
	} {
		if dir.path == "" {
			return nil, system.InvalidArgument("overlay mount requires a %s directory", dir.name)
		}
		if !system.IsDir(dir.path) {
			return nil, system.InvalidArgument("overlay mount %s is not a directory: %s", dir.name, dir.path)
		}
	}
	if _, err := ParseUnion(string(union)); err != nil {
		return nil, err
	}
	return &OverlayMount{m: m, base: base, overlay: overlay, target: target, union: union}, nil
}

func (m *Manager) restoreOverlayMount(d Descriptor) (*OverlayMount, error) {
	union, err := ParseUnion(string(d.Union))
	if err != nil {
		return nil, err
	}
	// The directories may already be gone when a session is torn down.
	return &OverlayMount{m: m, base: d.Base, overlay: d.Overlay, target: d.Target, union: union}, nil
}

// TargetPath implements Resource.
func (o *OverlayMount) TargetPath() string {
	return o.target
}

// Create is a no-op; the directories were checked at construction.
func (o *OverlayMount) Create(context.Context) error {
	return nil
}

// Mount stacks the overlay. Mounting twice is a no-op.
func (o *OverlayMount) Mount(ctx context.Context) error {
	return o.m.Mount(ctx, string(o.union), "none", o.target, o.union.MountOptions(o.overlay, o.base))
}

// Unmount is best effort: failures are logged and swallowed.
func (o *OverlayMount) Unmount(ctx context.Context) error {
	if !o.m.Mounted(o.target) {
		return nil
	}
	if err := o.m.Unmount(ctx, o.target, true); err != nil {
		o.m.log.WithError(err).WithField("target", o.target).Warn("failed to unmount overlay")
	}
	return nil
}

// Destroy unmounts; the directories belong to other resources.
func (o *OverlayMount) Destroy(ctx context.Context) error {
	return o.Unmount(ctx)
}

// Describe implements Resource.
func (o *OverlayMount) Describe() Descriptor {
	return Descriptor{
		Kind:    KindOverlayMount,
		Base:    o.base,
		Overlay: o.overlay,
		Target:  o.target,
		Union:   o.union,
	}
}
