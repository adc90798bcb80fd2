package testutil

import (
	"sync"

	"github.com/nace/lxkit/internal/system"
)

// MountTable is an in-memory mount table driven by the mount and umount
// commands a FakeRunner sees. The last argument of each command is taken
// as the target.
type MountTable struct {
	mu      sync.Mutex
	targets map[string]int
}

// NewMountTable creates an empty table.
func NewMountTable() *MountTable {
	return &MountTable{targets: make(map[string]int)}
}

// Attach makes r update the table on mount and umount.
func (m *MountTable) Attach(r *FakeRunner) {
	r.On("mount", func(cmd system.Command) (system.Result, error) {
		if len(cmd.Args) > 0 {
			m.mu.Lock()
			m.targets[cmd.Args[len(cmd.Args)-1]]++
			m.mu.Unlock()
		}
		return &Result{}, nil
	})
	r.On("umount", func(cmd system.Command) (system.Result, error) {
		if len(cmd.Args) == 0 {
			return &Result{}, nil
		}
		target := cmd.Args[len(cmd.Args)-1]
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.targets[target] == 0 {
			return &Result{Err: "umount: " + target + ": not mounted.", Code: 32}, nil
		}
		m.targets[target]--
		if m.targets[target] == 0 {
			delete(m.targets, target)
		}
		return &Result{}, nil
	})
}

// Mounted reports whether target has at least one mount.
func (m *MountTable) Mounted(target string) (bool, error) {
	return m.Count(target) > 0, nil
}

// Count returns the number of stacked mounts on target.
func (m *MountTable) Count(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[target]
}

// Set marks target as mounted, for state that predates the test.
func (m *MountTable) Set(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[target]++
}
