// Package identity rewrites the files that tie a container copy to its
// name, hostname, hardware address and network settings.
package identity

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nace/lxkit/internal/lxcconfig"
	"github.com/nace/lxkit/internal/system"
)

// NameFiles live in the container directory and carry the container name.
var NameFiles = []string{"fstab", "config"}

// HostnameFiles live in the rootfs and carry the hostname.
var HostnameFiles = []string{
	"etc/hostname",
	"etc/hosts",
	"etc/sysconfig/network",
	"etc/sysconfig/network-scripts/ifcfg-eth0",
}

var hostnameInvalid = regexp.MustCompile(`[^A-Za-z0-9-]`)

// SanitizeHostname strips every character that is not a letter, digit or
// hyphen.
func SanitizeHostname(name string) string {
	return hostnameInvalid.ReplaceAllString(name, "")
}

// WriteFile replaces path with data, mode 0644, creating parent
// directories as needed.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return system.WriteFileAtomic(path, data, 0644)
}

func replaceIn(path, old, new string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	updated := bytes.ReplaceAll(data, []byte(old), []byte(new))
	if bytes.Equal(updated, data) {
		return nil
	}
	if err := WriteFile(path, updated); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	return nil
}

// RewriteNames replaces every occurrence of original with name in the
// config and fstab under dir. Missing files are skipped.
func RewriteNames(dir, original, name string) error {
	if original == "" {
		return system.InvalidArgument("original name must not be empty")
	}
	for _, file := range NameFiles {
		if err := replaceIn(filepath.Join(dir, file), original, name); err != nil {
			return err
		}
	}
	return nil
}

// RewriteHostnames replaces original with the sanitized hostname in the
// hostname files under rootfs. Missing files are skipped.
func RewriteHostnames(rootfs, original, hostname string) error {
	if original == "" {
		return system.InvalidArgument("original name must not be empty")
	}
	hostname = SanitizeHostname(hostname)
	for _, file := range HostnameFiles {
		if err := replaceIn(filepath.Join(rootfs, file), original, hostname); err != nil {
			return err
		}
	}
	return nil
}

// SetRootfs points the container configuration at rootfs.
func SetRootfs(configPath, rootfs string) error {
	cfg, err := lxcconfig.Parse(configPath)
	if err != nil {
		return err
	}
	cfg.Set(cfg.RootfsKey(), rootfs)
	return cfg.WriteFile(configPath)
}

// RandomHWAddr returns a locally generated address in the Xen OUI range
// LXC uses, 00:16:3e:xx:xx:xx.
func RandomHWAddr() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("00:16:3e:%02x:%02x:%02x", b[0], b[1], b[2]), nil
}

func isHWAddrKey(key string) bool {
	if key == "lxc.network.hwaddr" {
		return true
	}
	return strings.HasPrefix(key, "lxc.net.") && strings.HasSuffix(key, ".hwaddr")
}

// RandomizeHWAddr gives every interface in the configuration a fresh
// hardware address.
func RandomizeHWAddr(configPath string) error {
	cfg, err := lxcconfig.Parse(configPath)
	if err != nil {
		return err
	}
	var genErr error
	cfg.Update(func(key, value string) (string, bool) {
		if !isHWAddrKey(key) || genErr != nil {
			return value, false
		}
		addr, err := RandomHWAddr()
		if err != nil {
			genErr = err
			return value, false
		}
		return addr, true
	})
	if genErr != nil {
		return fmt.Errorf("failed to generate hardware address: %w", genErr)
	}
	return cfg.WriteFile(configPath)
}
