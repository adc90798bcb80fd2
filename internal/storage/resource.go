package storage

import (
	"context"
	"fmt"

	"github.com/nace/lxkit/internal/system"
)

// Kind names a resource type in a Descriptor.
type Kind string

const (
	KindOverlayDirectory Kind = "overlay-directory"
	KindCloneDirectory   Kind = "clone-directory"
	KindVirtualDevice    Kind = "virtual-device"
	KindOverlayMount     Kind = "overlay-mount"
)

// Resource is a piece of storage that a session creates and must tear
// down again.
type Resource interface {
	// TargetPath is where the resource's contents are reachable.
	TargetPath() string
	Create(ctx context.Context) error
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
	Destroy(ctx context.Context) error
	Describe() Descriptor
}

// Descriptor records how a resource was built so another process can
// rebuild the same handle and tear it down.
type Descriptor struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name,omitempty"`
	Dir     string `json:"dir,omitempty"`
	SizeMB  int    `json:"size_mb,omitempty"`
	FSType  string `json:"fs_type,omitempty"`
	Tmpfs   bool   `json:"tmpfs,omitempty"`
	Base    string `json:"base,omitempty"`
	Overlay string `json:"overlay,omitempty"`
	Target  string `json:"target,omitempty"`
	Union   Union  `json:"union,omitempty"`
}

// Restore rebuilds a resource handle from its descriptor. Nothing is
// created on the host.
func (m *Manager) Restore(d Descriptor) (Resource, error) {
	var (
		r   Resource
		err error
	)
	switch d.Kind {
	case KindOverlayDirectory:
		r, err = m.NewOverlayDirectory(d.Name, d.Dir)
	case KindCloneDirectory:
		r, err = m.NewCloneDirectory(d.Name, d.Dir)
	case KindVirtualDevice:
		r, err = m.NewVirtualDevice(d.Name, d.Dir, DeviceOptions{
			SizeMB: d.SizeMB,
			FSType: d.FSType,
			Tmpfs:  d.Tmpfs,
		})
	case KindOverlayMount:
		r, err = m.restoreOverlayMount(d)
	default:
		return nil, fmt.Errorf("%w: unknown resource kind %q", system.ErrInvalidArgument, d.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
