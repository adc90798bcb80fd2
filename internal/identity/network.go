package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nace/lxkit/internal/system"
)

// DefaultNetmask is used when static addressing is requested without one.
const DefaultNetmask = "255.255.255.0"

// Networking is a static IPv4 configuration for eth0.
type Networking struct {
	Address  string
	Gateway  string
	Netmask  string
	Hostname string
}

// IsEL reports whether rootfs holds an Enterprise Linux distribution.
func IsEL(rootfs string) bool {
	_, err := os.Stat(filepath.Join(rootfs, "etc/redhat-release"))
	return err == nil
}

// ApplyNetworking writes static network configuration into rootfs, in the
// format of the distribution found there.
func ApplyNetworking(rootfs string, n Networking) error {
	if n.Address == "" {
		return system.InvalidArgument("static networking requires an address")
	}
	if n.Netmask == "" {
		n.Netmask = DefaultNetmask
	}
	n.Hostname = SanitizeHostname(n.Hostname)

	if IsEL(rootfs) {
		return applyEL(rootfs, n)
	}
	return applyDebian(rootfs, n)
}

func applyEL(rootfs string, n Networking) error {
	files := []struct {
		path    string
		content string
	}{
		{
			"etc/sysconfig/network-scripts/ifcfg-eth0",
			fmt.Sprintf(`DEVICE=eth0
BOOTPROTO=static
NETMASK=%s
IPADDR=%s
ONBOOT=yes
TYPE=Ethernet
USERCTL=yes
PEERDNS=yes
IPV6INIT=no
GATEWAY=%s
`, n.Netmask, n.Address, n.Gateway),
		},
		{
			"etc/sysconfig/network",
			fmt.Sprintf("NETWORKING=yes\nHOSTNAME=%s\n", n.Hostname),
		},
		{
			"etc/rc.local",
			fmt.Sprintf("hostname %s\n", n.Hostname),
		},
	}
	for _, f := range files {
		if err := WriteFile(filepath.Join(rootfs, f.path), []byte(f.content)); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return nil
}

func applyDebian(rootfs string, n Networking) error {
	content := fmt.Sprintf(`auto lo
iface lo inet loopback
auto eth0
iface eth0 inet static
address %s
netmask %s
gateway %s
`, n.Address, n.Netmask, n.Gateway)
	if err := WriteFile(filepath.Join(rootfs, "etc/network/interfaces"), []byte(content)); err != nil {
		return fmt.Errorf("failed to write etc/network/interfaces: %w", err)
	}
	return nil
}
