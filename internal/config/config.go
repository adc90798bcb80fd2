// Package config loads lxkit settings from a config file, LXKIT_*
// environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nace/lxkit/internal/clone"
	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/ephemeral"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// DefaultConfigFileName is searched for, without extension, in
// /etc/lxkit, $HOME and the working directory.
var DefaultConfigFileName = "lxkit"

// EnvPrefix prefixes every environment override, e.g. LXKIT_LXC_PATH.
const EnvPrefix = "LXKIT"

// FlagKeys maps command line flags to the settings they override.
var FlagKeys = map[string]string{
	"sudo":        "sudo",
	"lxc-path":    "lxc.path",
	"tmp-dir":     "tmp.dir",
	"union":       "union",
	"command-via": "command.via",
	"ssh-user":    "ssh.user",
	"ssh-key":     "ssh.key",
	"net-device":  "network.device",
}

// SSH holds the remote shell credentials.
type SSH struct {
	User     string
	Key      string
	Password string
	Port     int
}

// Settings is the resolved, read-only configuration of one run.
type Settings struct {
	Sudo    string
	LXCPath string
	TmpDir  string

	LeaseFile     string
	ArpTable      string
	NetworkDevice string

	CommandVia container.CommandVia
	SSH        SSH
	Union      storage.Union

	WaitInterval      time.Duration
	ShutdownTimeout   time.Duration
	CommandTimeout    time.Duration
	AddressRetryDelay time.Duration

	CloneDeviceDir string

	// File is the config file that was read, if any.
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sudo", "")
	v.SetDefault("lxc.path", "/var/lib/lxc")
	v.SetDefault("tmp.dir", ephemeral.DefaultTmpDir)
	v.SetDefault("network.lease_file", "/var/lib/misc/dnsmasq.leases")
	v.SetDefault("network.arp_table", "/proc/net/arp")
	v.SetDefault("network.device", "")
	v.SetDefault("command.via", string(container.ViaAttach))
	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.key", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("union", string(storage.UnionOverlayfs))
	v.SetDefault("wait.interval", time.Second)
	v.SetDefault("shutdown.timeout", 120*time.Second)
	v.SetDefault("command.timeout", system.DefaultCommandTimeout)
	v.SetDefault("address.retry_delay", 3*time.Second)
	v.SetDefault("clone.device_dir", clone.DefaultDeviceDir)
}

// Load resolves the settings. fileName may name a config file explicitly;
// otherwise the default locations are searched and a missing file is not
// an error. flags, when non-nil, override everything else.
func Load(fileName string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fileName != "" {
		v.SetConfigFile(fileName)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
	} else {
		v.SetConfigName(DefaultConfigFileName)
		v.AddConfigPath("/etc/lxkit/")
		v.AddConfigPath("$HOME/.config/lxkit/")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("config file parsing failed: %w", err)
			}
		}
	}

	if flags != nil {
		for flag, key := range FlagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Settings{}, err
				}
			}
		}
	}

	s := Settings{
		Sudo:          strings.TrimSpace(v.GetString("sudo")),
		LXCPath:       v.GetString("lxc.path"),
		TmpDir:        v.GetString("tmp.dir"),
		LeaseFile:     v.GetString("network.lease_file"),
		ArpTable:      v.GetString("network.arp_table"),
		NetworkDevice: v.GetString("network.device"),
		CommandVia:    container.CommandVia(v.GetString("command.via")),
		SSH: SSH{
			User:     v.GetString("ssh.user"),
			Key:      v.GetString("ssh.key"),
			Password: v.GetString("ssh.password"),
			Port:     v.GetInt("ssh.port"),
		},
		Union:             storage.Union(v.GetString("union")),
		WaitInterval:      v.GetDuration("wait.interval"),
		ShutdownTimeout:   v.GetDuration("shutdown.timeout"),
		CommandTimeout:    v.GetDuration("command.timeout"),
		AddressRetryDelay: v.GetDuration("address.retry_delay"),
		CloneDeviceDir:    v.GetString("clone.device_dir"),
		File:              v.ConfigFileUsed(),
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	switch s.CommandVia {
	case container.ViaAttach, container.ViaSSH:
	default:
		return system.InvalidArgument("command.via must be attach or ssh, got %q", s.CommandVia)
	}
	if _, err := storage.ParseUnion(string(s.Union)); err != nil {
		return err
	}
	for key, path := range map[string]string{"lxc.path": s.LXCPath, "tmp.dir": s.TmpDir} {
		if !filepath.IsAbs(path) {
			return system.InvalidArgument("%s must be an absolute path, got %q", key, path)
		}
	}
	if s.SSH.Port <= 0 || s.SSH.Port > 65535 {
		return system.InvalidArgument("ssh.port out of range: %d", s.SSH.Port)
	}
	if s.WaitInterval <= 0 {
		return system.InvalidArgument("wait.interval must be positive")
	}
	return nil
}

// Container returns the settings a container handle needs.
func (s Settings) Container() container.Config {
	cfg := container.DefaultConfig()
	cfg.BasePath = s.LXCPath
	cfg.LeaseFile = s.LeaseFile
	cfg.ArpTable = s.ArpTable
	cfg.PreferredDevice = s.NetworkDevice
	cfg.CommandVia = s.CommandVia
	cfg.SSH.User = s.SSH.User
	cfg.SSH.KeyFile = s.SSH.Key
	cfg.SSH.Password = s.SSH.Password
	cfg.SSH.Port = s.SSH.Port
	cfg.PollInterval = s.WaitInterval
	cfg.ShutdownTimeout = s.ShutdownTimeout
	cfg.AddressRetryDelay = s.AddressRetryDelay
	return cfg
}
