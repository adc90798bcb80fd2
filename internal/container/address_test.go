package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/lxkit/internal/system"
	"github.com/nace/lxkit/internal/testutil"
)

type stubStrategy struct {
	name  string
	addr  string
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Discover(context.Context, *Container) (string, error) {
	s.calls++
	return s.addr, s.err
}

type alwaysAlive struct{}

func (alwaysAlive) Alive(context.Context, string) bool { return true }

type liveSet map[string]bool

func (l liveSet) Alive(_ context.Context, addr string) bool { return l[addr] }

func TestResolverStopsAtFirstCandidate(t *testing.T) {
	netns := &stubStrategy{name: "netns"}
	lease := &stubStrategy{name: "lease", addr: "10.0.3.7"}
	stored := &stubStrategy{name: "config", addr: "10.0.3.99"}
	r := NewResolver(liveSet{"10.0.3.7": true}, 0, netns, lease, stored)

	c := New("web", testutil.NewFakeRunner(), Config{BasePath: t.TempDir()}, WithResolver(r))
	addr, err := c.IPAddress(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.7", addr)
	assert.Equal(t, 1, netns.calls)
	assert.Zero(t, stored.calls)
}

func TestResolverSkipsFailingStrategy(t *testing.T) {
	broken := &stubStrategy{name: "arp", err: errors.New("unreadable")}
	lease := &stubStrategy{name: "lease", addr: "10.0.3.7"}
	r := NewResolver(alwaysAlive{}, 0, broken, lease)

	c := New("web", testutil.NewFakeRunner(), Config{BasePath: t.TempDir()}, WithResolver(r))
	addr, err := c.IPAddress(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.7", addr)
}

func TestResolverDeadCandidateFailsAttempt(t *testing.T) {
	lease := &stubStrategy{name: "lease", addr: "10.0.3.7"}
	stored := &stubStrategy{name: "config", addr: "10.0.3.99"}
	r := NewResolver(liveSet{"10.0.3.99": true}, 0, lease, stored)

	c := New("web", testutil.NewFakeRunner(), Config{BasePath: t.TempDir()}, WithResolver(r))
	_, err := c.IPAddress(context.Background(), 2)
	require.ErrorIs(t, err, system.ErrNotFound)
	assert.Contains(t, err.Error(), "web")
	assert.Equal(t, 3, lease.calls)
	assert.Zero(t, stored.calls)
}

func TestSelectAddress(t *testing.T) {
	addrs := []Address{
		{IP: "127.0.0.1", Device: "lo"},
		{IP: "10.0.3.5", Device: "eth0"},
		{IP: "192.168.1.5", Device: "eth1"},
	}
	assert.Equal(t, "10.0.3.5", SelectAddress(addrs, ""))
	assert.Equal(t, "192.168.1.5", SelectAddress(addrs, "eth1"))
	assert.Equal(t, "", SelectAddress(addrs, "eth9"))
	assert.Equal(t, "", SelectAddress(addrs[:1], ""))
}

func TestNamespaceProbeUsesInitPID(t *testing.T) {
	h := newHost(t, "web")
	h.set("RUNNING")
	var gotPID int
	probe := &NamespaceProbe{List: func(pid int) ([]Address, error) {
		gotPID = pid
		return []Address{{IP: "127.0.0.1", Device: "lo"}, {IP: "10.0.3.15", Device: "eth0"}}, nil
	}}

	addr, err := probe.Discover(context.Background(), h.container("web"))
	require.NoError(t, err)
	assert.Equal(t, 4242, gotPID)
	assert.Equal(t, "10.0.3.15", addr)

	h.set("STOPPED")
	gotPID = 0
	addr, err = probe.Discover(context.Background(), h.container("web"))
	require.NoError(t, err)
	assert.Empty(t, addr)
	assert.Zero(t, gotPID)
}

func TestLeaseFileLastMatchWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	require.NoError(t, os.WriteFile(path, []byte(
		"1700000000 00:16:3e:00:00:01 10.0.3.20 web *\n"+
			"1700000000 00:16:3e:00:00:02 10.0.3.21 db *\n"+
			"1700000100 00:16:3e:00:00:01 10.0.3.22 web *\n"), 0644))

	c := New("web", testutil.NewFakeRunner(), Config{BasePath: t.TempDir()})
	addr, err := (&LeaseFile{Path: path}).Discover(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.22", addr)

	addr, err = (&LeaseFile{Path: filepath.Join(t.TempDir(), "missing")}).Discover(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestHardwareAddressMatchesArpTable(t *testing.T) {
	dir := t.TempDir()
	arp := filepath.Join(dir, "arp")
	require.NoError(t, os.WriteFile(arp, []byte(
		"IP address       HW type     Flags       HW address            Mask     Device\n"+
			"10.0.3.40        0x1         0x2         00:16:3e:11:22:33     *        lxcbr0\n"+
			"10.0.3.41        0x1         0x2         00:16:3e:aa:bb:cc     *        lxcbr0\n"), 0644))

	c := New("web", testutil.NewFakeRunner(), Config{BasePath: dir})
	writeConfig(t, c, "lxc.network.type = veth\nlxc.network.hwaddr = 00:16:3E:AA:BB:CC\n")

	addr, err := (&HardwareAddress{ArpTable: arp}).Discover(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.41", addr)
}

func TestConfigStored(t *testing.T) {
	c := New("web", testutil.NewFakeRunner(), Config{BasePath: t.TempDir()})
	writeConfig(t, c, "lxc.network.type = veth\nlxc.network.ipv4 = 10.0.3.50/24\n")

	addr, err := (&ConfigStored{}).Discover(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.50", addr)
}

func TestPingProber(t *testing.T) {
	runner := testutil.NewFakeRunner()
	runner.On("ping -c 1 -W 1 10.0.3.9", testutil.Fail(1, ""))

	p := PingProber{Runner: runner}
	assert.True(t, p.Alive(context.Background(), "10.0.3.8"))
	assert.False(t, p.Alive(context.Background(), "10.0.3.9"))
}
