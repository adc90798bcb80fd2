// Package lxcconfig reads and writes LXC container configuration files.
//
// The format is one "key = value" pair per line. Comments and blank lines
// are preserved so a file can be edited and written back without losing
// anything the user put there.
package lxcconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nace/lxkit/internal/system"
)

const (
	legacyNetPrefix = "lxc.network."
	netPrefix       = "lxc.net."
)

type entry struct {
	raw   string
	key   string
	value string
}

func (e entry) isPair() bool {
	return e.key != ""
}

// Network holds the keys of one network interface block, without the
// "lxc.network." / "lxc.net.N." prefix.
type Network map[string]string

// File is a parsed configuration file.
type File struct {
	entries []entry
}

// Parse reads the configuration file at path.
func Parse(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lxc config: %w", err)
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load parses configuration from r.
func Load(r io.Reader) (*File, error) {
	cfg := &File{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			cfg.entries = append(cfg.entries, entry{raw: line})
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			cfg.entries = append(cfg.entries, entry{raw: line})
			continue
		}
		cfg.entries = append(cfg.entries, entry{
			raw:   line,
			key:   strings.TrimSpace(key),
			value: strings.TrimSpace(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if _, err := cfg.networks(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the first value stored under key.
func (f *File) Get(key string) (string, bool) {
	for _, e := range f.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

// Values returns every value stored under key, in file order.
func (f *File) Values(key string) []string {
	var values []string
	for _, e := range f.entries {
		if e.key == key {
			values = append(values, e.value)
		}
	}
	return values
}

// Keys returns the distinct keys in file order.
func (f *File) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, e := range f.entries {
		if e.isPair() && !seen[e.key] {
			seen[e.key] = true
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Set replaces the value of every occurrence of key, or appends the key
// when it is not present.
func (f *File) Set(key, value string) {
	found := false
	for i := range f.entries {
		if f.entries[i].key == key {
			f.entries[i].value = value
			f.entries[i].raw = key + " = " + value
			found = true
		}
	}
	if !found {
		f.entries = append(f.entries, entry{raw: key + " = " + value, key: key, value: value})
	}
}

// Update rewrites values in place. fn receives each pair and returns the
// new value and whether it changed.
func (f *File) Update(fn func(key, value string) (string, bool)) {
	for i := range f.entries {
		e := &f.entries[i]
		if !e.isPair() {
			continue
		}
		if v, changed := fn(e.key, e.value); changed {
			e.value = v
			e.raw = e.key + " = " + v
		}
	}
}

// Networks groups the network keys into one block per interface. Legacy
// "lxc.network.*" blocks start at each "lxc.network.type"; "lxc.net.N.*"
// keys are grouped by N.
func (f *File) Networks() []Network {
	nets, _ := f.networks()
	return nets
}

func (f *File) networks() ([]Network, error) {
	var legacy []Network
	var cur Network
	indexed := make(map[int]Network)

	for _, e := range f.entries {
		switch {
		case strings.HasPrefix(e.key, legacyNetPrefix):
			name := strings.TrimPrefix(e.key, legacyNetPrefix)
			if name == "type" {
				if cur != nil {
					legacy = append(legacy, cur)
				}
				cur = Network{}
			}
			if cur == nil {
				return nil, fmt.Errorf("expecting 'lxc.network.type' to start network config block, found '%s'", e.key)
			}
			cur[name] = e.value
		case strings.HasPrefix(e.key, netPrefix):
			idx, name, ok := strings.Cut(strings.TrimPrefix(e.key, netPrefix), ".")
			n, err := strconv.Atoi(idx)
			if !ok || err != nil {
				continue
			}
			if indexed[n] == nil {
				indexed[n] = Network{}
			}
			indexed[n][name] = e.value
		}
	}
	if cur != nil {
		legacy = append(legacy, cur)
	}

	idx := make([]int, 0, len(indexed))
	for n := range indexed {
		idx = append(idx, n)
	}
	sort.Ints(idx)
	for _, n := range idx {
		legacy = append(legacy, indexed[n])
	}
	return legacy, nil
}

// Rootfs returns the configured root filesystem path with any "dir:"
// backend prefix removed, or "" when none is configured.
func (f *File) Rootfs() string {
	for _, key := range []string{"lxc.rootfs.path", "lxc.rootfs"} {
		if v, ok := f.Get(key); ok && v != "" {
			return strings.TrimPrefix(v, "dir:")
		}
	}
	return ""
}

// RootfsKey returns the key that holds the rootfs path, defaulting to the
// legacy "lxc.rootfs" when neither is present.
func (f *File) RootfsKey() string {
	if _, ok := f.Get("lxc.rootfs.path"); ok {
		return "lxc.rootfs.path"
	}
	return "lxc.rootfs"
}

// HWAddr returns the hardware address of the first interface that has one.
func (f *File) HWAddr() string {
	for _, n := range f.Networks() {
		if hw := n["hwaddr"]; hw != "" {
			return strings.ToLower(hw)
		}
	}
	return ""
}

// IPv4 returns the first statically configured IPv4 address, without any
// prefix length.
func (f *File) IPv4() string {
	for _, n := range f.Networks() {
		for _, key := range []string{"ipv4", "ipv4.address"} {
			if v := n[key]; v != "" {
				addr, _, _ := strings.Cut(strings.Fields(v)[0], "/")
				return addr
			}
		}
	}
	return ""
}

// Bytes renders the file.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for _, e := range f.entries {
		buf.WriteString(e.raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteFile writes the rendered file to path.
func (f *File) WriteFile(path string) error {
	return system.WriteFileAtomic(path, f.Bytes(), 0644)
}
