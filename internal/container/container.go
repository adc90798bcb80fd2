// Package container controls a single named LXC container through the
// lxc-* command line tools.
package container

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/lxcconfig"
	"github.com/nace/lxkit/internal/system"
)

// CommandVia selects how commands reach a running container.
type CommandVia string

const (
	ViaAttach CommandVia = "attach"
	ViaSSH    CommandVia = "ssh"
)

// SSHConfig holds the credentials for the ssh command path.
type SSHConfig struct {
	User     string
	KeyFile  string
	Password string
	Port     int
	Timeout  time.Duration
}

// Config holds everything a container handle needs from the settings.
type Config struct {
	// BasePath is the LXC containers directory, normally /var/lib/lxc.
	BasePath        string
	LeaseFile       string
	ArpTable        string
	PreferredDevice string
	CommandVia      CommandVia
	SSH             SSHConfig

	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
	AddressRetryDelay time.Duration
	// ExecAddressRetries is how many times address discovery is retried
	// before a command is sent to a running container.
	ExecAddressRetries int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		BasePath:   "/var/lib/lxc",
		LeaseFile:  "/var/lib/misc/dnsmasq.leases",
		ArpTable:   "/proc/net/arp",
		CommandVia: ViaAttach,
		SSH: SSHConfig{
			User:    "root",
			Port:    22,
			Timeout: 10 * time.Second,
		},
		PollInterval:       time.Second,
		ShutdownTimeout:    120 * time.Second,
		AddressRetryDelay:  3 * time.Second,
		ExecAddressRetries: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	if c.LeaseFile == "" {
		c.LeaseFile = d.LeaseFile
	}
	if c.ArpTable == "" {
		c.ArpTable = d.ArpTable
	}
	if c.CommandVia == "" {
		c.CommandVia = d.CommandVia
	}
	if c.SSH.User == "" {
		c.SSH.User = d.SSH.User
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = d.SSH.Port
	}
	if c.SSH.Timeout == 0 {
		c.SSH.Timeout = d.SSH.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.AddressRetryDelay < 0 {
		c.AddressRetryDelay = 0
	}
	if c.ExecAddressRetries < 0 {
		c.ExecAddressRetries = 0
	}
	return c
}

// Container is a handle on one named container. It caches nothing: every
// query goes back to the host.
type Container struct {
	name      string
	cfg       Config
	runner    system.Runner
	discovery *Discovery
	resolver  *Resolver
	remote    RemoteShell
	log       *logrus.Entry
}

// Option customizes a Container.
type Option func(*Container)

// WithResolver replaces the address resolver.
func WithResolver(r *Resolver) Option {
	return func(c *Container) {
		c.resolver = r
	}
}

// WithRemoteShell replaces the ssh backend.
func WithRemoteShell(s RemoteShell) Option {
	return func(c *Container) {
		c.remote = s
	}
}

// New returns a handle for the container called name.
func New(name string, runner system.Runner, cfg Config, opts ...Option) *Container {
	cfg = cfg.withDefaults()
	c := &Container{
		name:      name,
		cfg:       cfg,
		runner:    runner,
		discovery: NewDiscovery(runner),
		log: logrus.WithFields(logrus.Fields{
			"source":    "container",
			"container": name,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = NewResolver(PingProber{Runner: runner}, cfg.AddressRetryDelay, DefaultStrategies(cfg)...)
	}
	if c.remote == nil {
		c.remote = NewSSHShell(cfg.SSH)
	}
	return c
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Config returns the settings the handle was built with.
func (c *Container) Config() Config {
	return c.cfg
}

// Path is the container directory, <base>/<name>.
func (c *Container) Path() string {
	return filepath.Join(c.cfg.BasePath, c.name)
}

// ConfigPath is the container's LXC configuration file.
func (c *Container) ConfigPath() string {
	return filepath.Join(c.Path(), "config")
}

// FstabPath is the container's fstab.
func (c *Container) FstabPath() string {
	return filepath.Join(c.Path(), "fstab")
}

// Rootfs reads the root filesystem path from the configuration, falling
// back to <path>/rootfs when the file or key is missing.
func (c *Container) Rootfs() string {
	cfg, err := lxcconfig.Parse(c.ConfigPath())
	if err == nil {
		if rootfs := cfg.Rootfs(); rootfs != "" {
			return rootfs
		}
	}
	return filepath.Join(c.Path(), "rootfs")
}

// Exists reports whether LXC knows a container by this name.
func (c *Container) Exists(ctx context.Context) bool {
	return c.discovery.Exists(ctx, c.name)
}

// Info returns the current state and pid.
func (c *Container) Info(ctx context.Context) Info {
	return c.discovery.Info(ctx, c.name)
}

// State returns the current state.
func (c *Container) State(ctx context.Context) State {
	return c.Info(ctx).State
}

// PID returns the init pid, or UnknownPID.
func (c *Container) PID(ctx context.Context) int {
	return c.Info(ctx).PID
}

func (c *Container) Running(ctx context.Context) bool { return c.State(ctx) == StateRunning }
func (c *Container) Stopped(ctx context.Context) bool { return c.State(ctx) == StateStopped }
func (c *Container) Frozen(ctx context.Context) bool  { return c.State(ctx) == StateFrozen }

// IPAddress resolves the container's live IPv4 address, retrying
// discovery up to retries more times.
func (c *Container) IPAddress(ctx context.Context, retries int) (string, error) {
	return c.resolver.Resolve(ctx, c, retries)
}

// ExpandPath joins rel onto the container's rootfs.
func (c *Container) ExpandPath(rel string) string {
	return filepath.Join(c.Rootfs(), rel)
}
