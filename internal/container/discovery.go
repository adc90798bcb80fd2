package container

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/system"
)

// State is the lifecycle state reported by lxc-info, lower-cased.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFrozen  State = "frozen"
	StateUnknown State = "unknown"
)

// UnknownPID is reported when a container has no init process.
const UnknownPID = -1

// Info is a snapshot of one container.
type Info struct {
	Name  string
	State State
	PID   int
	IPs   []string
}

// ParseInfo reads lxc-info output.
func ParseInfo(name, output string) Info {
	info := Info{Name: name, State: StateUnknown, PID: UnknownPID}
	kv := system.ParseKeyValues(output)
	if s := strings.ToLower(kv["state"]); s != "" {
		info.State = State(s)
	}
	if pid, err := strconv.Atoi(kv["pid"]); err == nil && pid > 0 {
		info.PID = pid
	}
	for _, row := range system.Fields(output) {
		if len(row) >= 2 && strings.EqualFold(row[0], "IP:") {
			info.IPs = append(info.IPs, row[1])
		}
	}
	return info
}

// Discovery answers questions about the set of containers on the host.
type Discovery struct {
	runner system.Runner
	log    *logrus.Entry
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(runner system.Runner) *Discovery {
	return &Discovery{
		runner: runner,
		log:    logrus.WithField("source", "discovery"),
	}
}

// List returns the names of every container, sorted.
func (d *Discovery) List(ctx context.Context) ([]string, error) {
	out, err := system.Output(ctx, d.runner, system.Command{
		Name: "lxc-ls",
		Sudo: true,
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, row := range system.Fields(out) {
		for _, name := range row {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether name is among the listed containers.
func (d *Discovery) Exists(ctx context.Context, name string) bool {
	names, err := d.List(ctx)
	if err != nil {
		d.log.WithError(err).Debug("failed to list containers")
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Info queries one container. It never fails: anything that cannot be
// determined is reported as unknown.
func (d *Discovery) Info(ctx context.Context, name string) Info {
	unknown := Info{Name: name, State: StateUnknown, PID: UnknownPID}
	if !d.Exists(ctx, name) {
		return unknown
	}
	res, err := d.runner.Run(ctx, system.Command{
		Name:         "lxc-info",
		Args:         []string{"-n", name},
		Sudo:         true,
		Retries:      3,
		AllowFailure: true,
	})
	if err != nil || !res.Success() {
		return unknown
	}
	return ParseInfo(name, res.Stdout())
}

// FullList groups every container by state.
func (d *Discovery) FullList(ctx context.Context) (map[State][]string, error) {
	names, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	groups := make(map[State][]string)
	for _, name := range names {
		state := d.Info(ctx, name).State
		groups[state] = append(groups[state], name)
	}
	return groups, nil
}

// Running returns the names of running containers.
func (d *Discovery) Running(ctx context.Context) ([]string, error) {
	return d.inState(ctx, StateRunning)
}

// Stopped returns the names of stopped containers.
func (d *Discovery) Stopped(ctx context.Context) ([]string, error) {
	return d.inState(ctx, StateStopped)
}

// Frozen returns the names of frozen containers.
func (d *Discovery) Frozen(ctx context.Context) ([]string, error) {
	return d.inState(ctx, StateFrozen)
}

func (d *Discovery) inState(ctx context.Context, state State) ([]string, error) {
	groups, err := d.FullList(ctx)
	if err != nil {
		return nil, err
	}
	return groups[state], nil
}
