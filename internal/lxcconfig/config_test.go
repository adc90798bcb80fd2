package lxcconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyConfig = `# Template used to create this container
lxc.utsname = base
lxc.rootfs = /var/lib/lxc/base/rootfs

lxc.network.type = veth
lxc.network.link = lxcbr0
lxc.network.hwaddr = 00:16:3E:AA:BB:CC
lxc.network.ipv4 = 10.0.3.50/24 10.0.3.255
lxc.network.type = empty
lxc.mount.entry = proc proc proc nodev 0 0
lxc.mount.entry = sysfs sys sysfs defaults 0 0
`

func load(t *testing.T, s string) *File {
	t.Helper()
	f, err := Load(strings.NewReader(s))
	require.NoError(t, err)
	return f
}

func TestLoadLegacyConfig(t *testing.T) {
	f := load(t, legacyConfig)

	v, ok := f.Get("lxc.utsname")
	require.True(t, ok)
	assert.Equal(t, "base", v)
	assert.Equal(t, "/var/lib/lxc/base/rootfs", f.Rootfs())
	assert.Equal(t, "lxc.rootfs", f.RootfsKey())
	assert.Equal(t, []string{
		"proc proc proc nodev 0 0",
		"sysfs sys sysfs defaults 0 0",
	}, f.Values("lxc.mount.entry"))

	nets := f.Networks()
	require.Len(t, nets, 2)
	assert.Equal(t, "lxcbr0", nets[0]["link"])
	assert.Equal(t, "empty", nets[1]["type"])
	assert.Equal(t, "00:16:3e:aa:bb:cc", f.HWAddr())
	assert.Equal(t, "10.0.3.50", f.IPv4())
}

func TestLoadIndexedNetworks(t *testing.T) {
	f := load(t, `lxc.rootfs.path = dir:/var/lib/lxc/web/rootfs
lxc.net.1.type = veth
lxc.net.0.type = veth
lxc.net.0.hwaddr = 00:16:3e:00:00:01
lxc.net.0.ipv4.address = 10.0.3.9/24
`)
	assert.Equal(t, "/var/lib/lxc/web/rootfs", f.Rootfs())
	assert.Equal(t, "lxc.rootfs.path", f.RootfsKey())
	nets := f.Networks()
	require.Len(t, nets, 2)
	assert.Equal(t, "00:16:3e:00:00:01", nets[0]["hwaddr"])
	assert.Equal(t, "10.0.3.9", f.IPv4())
}

func TestLoadRejectsOrphanNetworkKey(t *testing.T) {
	_, err := Load(strings.NewReader("lxc.network.link = lxcbr0\nlxc.network.type = veth\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lxc.network.type")
}

func TestRoundTripPreservesComments(t *testing.T) {
	f := load(t, legacyConfig)
	assert.Equal(t, legacyConfig, string(f.Bytes()))
}

func TestSetAndUpdate(t *testing.T) {
	f := load(t, legacyConfig)

	f.Set("lxc.rootfs", "/var/lib/lxc/web/rootfs")
	f.Set("lxc.start.auto", "1")
	f.Update(func(key, value string) (string, bool) {
		if key != "lxc.utsname" {
			return "", false
		}
		return "web", true
	})

	out := string(f.Bytes())
	assert.Contains(t, out, "lxc.rootfs = /var/lib/lxc/web/rootfs\n")
	assert.Contains(t, out, "lxc.utsname = web\n")
	assert.True(t, strings.HasSuffix(out, "lxc.start.auto = 1\n"))
	assert.Contains(t, out, "# Template used to create this container\n")
	assert.Equal(t, []string{"lxc.utsname", "lxc.rootfs", "lxc.network.type", "lxc.network.link",
		"lxc.network.hwaddr", "lxc.network.ipv4", "lxc.mount.entry", "lxc.start.auto"}, f.Keys())
}

func TestParseAndWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(legacyConfig), 0644))

	f, err := Parse(path)
	require.NoError(t, err)
	f.Set("lxc.utsname", "copy")
	require.NoError(t, f.WriteFile(path))

	again, err := Parse(path)
	require.NoError(t, err)
	v, _ := again.Get("lxc.utsname")
	assert.Equal(t, "copy", v)

	_, err = Parse(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
