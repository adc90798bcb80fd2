package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Address is one IPv4 address assigned inside a container.
type Address struct {
	IP     string
	Device string
}

// NamespaceProbe enters the container's network namespace through its
// init pid and reads the interface addresses directly.
type NamespaceProbe struct {
	// PreferredDevice selects the interface when several carry an
	// address. Empty means the first non-loopback interface.
	PreferredDevice string

	// List reads the addresses for a pid. Nil uses netlink.
	List func(pid int) ([]Address, error)
}

func (s *NamespaceProbe) Name() string { return "netns" }

// Discover implements Strategy.
func (s *NamespaceProbe) Discover(ctx context.Context, c *Container) (string, error) {
	pid := c.PID(ctx)
	if pid <= 0 {
		return "", nil
	}
	list := s.List
	if list == nil {
		list = NamespaceAddresses
	}
	addrs, err := list(pid)
	if err != nil {
		return "", err
	}
	return SelectAddress(addrs, s.PreferredDevice), nil
}

// SelectAddress drops loopback interfaces and returns the address on the
// preferred device, or the first remaining one when no device is given.
func SelectAddress(addrs []Address, preferred string) string {
	for _, a := range addrs {
		if strings.HasPrefix(a.Device, "lo") {
			continue
		}
		if preferred == "" || a.Device == preferred {
			return a.IP
		}
	}
	return ""
}

// NamespaceAddresses lists the global IPv4 addresses in the network
// namespace of pid.
func NamespaceAddresses(pid int) ([]Address, error) {
	ns, err := netns.GetFromPath(fmt.Sprintf("/proc/%d/ns/net", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open network namespace of pid %d: %w", pid, err)
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, fmt.Errorf("failed to create netlink handle: %w", err)
	}
	defer h.Close()

	list, err := h.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	var addrs []Address
	for _, a := range list {
		if a.Scope != int(netlink.SCOPE_UNIVERSE) || a.IPNet == nil {
			continue
		}
		device := a.Label
		if link, err := h.LinkByIndex(a.LinkIndex); err == nil {
			device = link.Attrs().Name
		}
		addrs = append(addrs, Address{IP: a.IP.String(), Device: device})
	}
	return addrs, nil
}
