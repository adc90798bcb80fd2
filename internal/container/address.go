package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/lxcconfig"
	"github.com/nace/lxkit/internal/system"
)

// Strategy is one way of discovering a container's IPv4 address. An
// empty result means the strategy had nothing to offer.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, c *Container) (string, error)
}

// Prober decides whether an address answers.
type Prober interface {
	Alive(ctx context.Context, addr string) bool
}

// PingProber probes with a single ICMP echo.
type PingProber struct {
	Runner system.Runner
}

// Alive implements Prober.
func (p PingProber) Alive(ctx context.Context, addr string) bool {
	res, err := p.Runner.Run(ctx, system.Command{
		Name:         "ping",
		Args:         []string{"-c", "1", "-W", "1", addr},
		AllowFailure: true,
		Timeout:      5 * time.Second,
	})
	return err == nil && res.Success()
}

var errNoLiveAddress = errors.New("failed to detect live IP")

// Resolver runs the discovery strategies in order. The first non-empty
// candidate decides the attempt: it is returned if it answers a probe and
// the attempt fails otherwise.
type Resolver struct {
	strategies []Strategy
	prober     Prober
	retryDelay time.Duration
	log        *logrus.Entry
}

// NewResolver builds a resolver from strategies, tried in order.
func NewResolver(prober Prober, retryDelay time.Duration, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		prober:     prober,
		retryDelay: retryDelay,
		log:        logrus.WithField("source", "address"),
	}
}

// DefaultStrategies returns namespace probe, ARP table, lease file and
// stored configuration, in that order.
func DefaultStrategies(cfg Config) []Strategy {
	return []Strategy{
		&NamespaceProbe{PreferredDevice: cfg.PreferredDevice},
		&HardwareAddress{ArpTable: cfg.ArpTable},
		&LeaseFile{Path: cfg.LeaseFile},
		&ConfigStored{},
	}
}

// Resolve returns a live address for c, retrying up to retries more
// times with the configured pause in between.
func (r *Resolver) Resolve(ctx context.Context, c *Container, retries int) (string, error) {
	if retries < 0 {
		retries = 0
	}
	var found string
	err := retry.Do(
		func() error {
			addr := r.candidate(ctx, c)
			if addr != "" && r.prober.Alive(ctx, addr) {
				found = addr
				return nil
			}
			r.log.WithField("container", c.Name()).Debug("LXC IP discovery: failed to detect live IP")
			return errNoLiveAddress
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.Delay(r.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: no live address for container %s", system.ErrNotFound, c.Name())
	}
	return found, nil
}

func (r *Resolver) candidate(ctx context.Context, c *Container) string {
	for _, s := range r.strategies {
		addr, err := s.Discover(ctx, c)
		if err != nil {
			r.log.WithError(err).WithField("strategy", s.Name()).Debug("address strategy failed")
			continue
		}
		if addr != "" {
			r.log.WithFields(logrus.Fields{
				"strategy":  s.Name(),
				"container": c.Name(),
				"address":   addr,
			}).Debug("address candidate")
			return addr
		}
	}
	return ""
}

// HardwareAddress looks the configured MAC up in the kernel ARP table.
type HardwareAddress struct {
	ArpTable string
}

func (s *HardwareAddress) Name() string { return "arp" }

// Discover implements Strategy.
func (s *HardwareAddress) Discover(_ context.Context, c *Container) (string, error) {
	cfg, err := lxcconfig.Parse(c.ConfigPath())
	if err != nil {
		return "", err
	}
	hwaddr := cfg.HWAddr()
	if hwaddr == "" {
		return "", nil
	}

	var addr string
	err = scanFields(s.ArpTable, func(fields []string) {
		// IP address, HW type, Flags, HW address, Mask, Device
		if len(fields) >= 4 && strings.EqualFold(fields[3], hwaddr) {
			addr = fields[0]
		}
	})
	return addr, err
}

// LeaseFile reads a dnsmasq lease file for an entry whose hostname is the
// container name. The last matching lease wins.
type LeaseFile struct {
	Path string
}

func (s *LeaseFile) Name() string { return "lease" }

// Discover implements Strategy.
func (s *LeaseFile) Discover(_ context.Context, c *Container) (string, error) {
	var addr string
	err := scanFields(s.Path, func(fields []string) {
		// expiry, MAC, IP, hostname, client id
		if len(fields) >= 4 && fields[3] == c.Name() {
			addr = fields[2]
		}
	})
	return addr, err
}

// ConfigStored returns the static address written in the container
// configuration.
type ConfigStored struct{}

func (s *ConfigStored) Name() string { return "config" }

// Discover implements Strategy.
func (s *ConfigStored) Discover(_ context.Context, c *Container) (string, error) {
	cfg, err := lxcconfig.Parse(c.ConfigPath())
	if err != nil {
		return "", err
	}
	return cfg.IPv4(), nil
}

func scanFields(path string, fn func([]string)) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
			fn(fields)
		}
	}
	return scanner.Err()
}
