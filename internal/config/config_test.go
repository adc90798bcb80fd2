package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	saved := DefaultConfigFileName
	DefaultConfigFileName = "lxkit-test-absent"
	t.Cleanup(func() { DefaultConfigFileName = saved })
}

func TestDefaults(t *testing.T) {
	isolate(t)

	s, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "", s.Sudo)
	assert.Equal(t, "/var/lib/lxc", s.LXCPath)
	assert.Equal(t, "/tmp/lxc/ephemerals", s.TmpDir)
	assert.Equal(t, container.ViaAttach, s.CommandVia)
	assert.Equal(t, storage.UnionOverlayfs, s.Union)
	assert.Equal(t, "root", s.SSH.User)
	assert.Equal(t, 22, s.SSH.Port)
	assert.Equal(t, 120*time.Second, s.ShutdownTimeout)
	assert.Equal(t, 1200*time.Second, s.CommandTimeout)
	assert.Equal(t, "/opt/lxc-vbd", s.CloneDeviceDir)
	assert.Empty(t, s.File)
}

func TestEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LXKIT_LXC_PATH", "/srv/lxc")
	t.Setenv("LXKIT_SSH_USER", "ubuntu")
	t.Setenv("LXKIT_SUDO", " sudo -E ")

	s, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/lxc", s.LXCPath)
	assert.Equal(t, "ubuntu", s.SSH.User)
	assert.Equal(t, "sudo -E", s.Sudo)
}

func TestConfigFileInHomeConfigDir(t *testing.T) {
	isolate(t)
	DefaultConfigFileName = "lxkit-test-home"
	dir := filepath.Join(os.Getenv("HOME"), ".config", "lxkit")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "lxkit-test-home.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tmp:\n  dir: /scratch/ephemerals\n"), 0644))

	s, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, path, s.File)
	assert.Equal(t, "/scratch/ephemerals", s.TmpDir)
}

func TestConfigFileDirectlyInHomeIsIgnored(t *testing.T) {
	isolate(t)
	DefaultConfigFileName = "lxkit-test-home"
	path := filepath.Join(os.Getenv("HOME"), "lxkit-test-home.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tmp:\n  dir: /scratch/ephemerals\n"), 0644))

	s, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, s.File)
	assert.Equal(t, "/tmp/lxc/ephemerals", s.TmpDir)
}

func TestConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "lxkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`lxc:
  path: /data/lxc
union: aufs
command:
  via: ssh
ssh:
  key: /root/.ssh/id_ed25519
  port: 2222
shutdown:
  timeout: 30s
`), 0644))

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, s.File)
	assert.Equal(t, "/data/lxc", s.LXCPath)
	assert.Equal(t, storage.UnionAufs, s.Union)
	assert.Equal(t, container.ViaSSH, s.CommandVia)
	assert.Equal(t, "/root/.ssh/id_ed25519", s.SSH.Key)
	assert.Equal(t, 2222, s.SSH.Port)
	assert.Equal(t, 30*time.Second, s.ShutdownTimeout)

	cfg := s.Container()
	assert.Equal(t, "/data/lxc", cfg.BasePath)
	assert.Equal(t, container.ViaSSH, cfg.CommandVia)
	assert.Equal(t, "/root/.ssh/id_ed25519", cfg.SSH.KeyFile)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestFlagsOverrideEverything(t *testing.T) {
	isolate(t)
	t.Setenv("LXKIT_LXC_PATH", "/srv/lxc")

	flags := pflag.NewFlagSet("lxkit", pflag.ContinueOnError)
	flags.String("lxc-path", "", "")
	flags.String("union", "", "")
	flags.String("net-device", "", "")
	require.NoError(t, flags.Parse([]string{"--lxc-path=/flag/lxc", "--net-device=eth1"}))

	s, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "/flag/lxc", s.LXCPath)
	assert.Equal(t, "eth1", s.NetworkDevice)
	assert.Equal(t, "eth1", s.Container().PreferredDevice)
	assert.Equal(t, storage.UnionOverlayfs, s.Union)
}

func TestValidation(t *testing.T) {
	tests := map[string]string{
		"LXKIT_COMMAND_VIA": "telnet",
		"LXKIT_UNION":       "unionfs",
		"LXKIT_TMP_DIR":     "relative/dir",
		"LXKIT_SSH_PORT":    "70000",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)
			_, err := Load("", nil)
			assert.ErrorIs(t, err, system.ErrInvalidArgument)
		})
	}
}
