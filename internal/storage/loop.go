package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/nace/lxkit/internal/system"
)

// LoopManager finds and releases the loop devices behind image mounts.
type LoopManager struct {
	runner system.Runner
}

// NewLoopManager creates a new loop manager
func NewLoopManager(runner system.Runner) *LoopManager {
	return &LoopManager{
		runner: runner,
	}
}

// FindByFile finds the loop device for a file, or "" when none is attached.
func (m *LoopManager) FindByFile(ctx context.Context, path string) string {
	output, err := system.Output(ctx, m.runner, system.Command{
		Name: "losetup",
		Args: []string{"-j", path},
		Sudo: true,
	})
	if err != nil || strings.TrimSpace(output) == "" {
		return ""
	}

	// Parse: "/dev/loop0: []: (/path/to/file)"
	device, _, _ := strings.Cut(output, ":")
	return strings.TrimSpace(device)
}

// Detach detaches a loop device
func (m *LoopManager) Detach(ctx context.Context, device string) error {
	_, err := m.runner.Run(ctx, system.Command{
		Name: "losetup",
		Args: []string{"-d", device},
		Sudo: true,
	})
	if err != nil {
		return fmt.Errorf("failed to detach loop device %s: %w", device, err)
	}
	return nil
}
