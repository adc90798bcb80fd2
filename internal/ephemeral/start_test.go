package ephemeral

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/lxkit/internal/system"
	"github.com/nace/lxkit/internal/testutil"
)

type spawned struct {
	name string
	args []string
}

func (h *host) recordSpawns() *[]spawned {
	var calls []spawned
	h.deps.Spawn = func(name string, args ...string) error {
		calls = append(calls, spawned{name: name, args: args})
		return nil
	}
	return &calls
}

func TestStartRequiresCreate(t *testing.T) {
	h := newHost(t)
	s, err := New(context.Background(), h.deps, h.options())
	require.NoError(t, err)

	err = s.Start(context.Background(), Foreground)
	assert.ErrorIs(t, err, system.ErrInvalidState)
	assert.False(t, h.runner.Called("lxc-start"))
}

func TestForegroundCommandTearsDown(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	opts.Command = "make test"
	s := h.create(t, opts)

	require.NoError(t, s.Start(context.Background(), Foreground))

	assert.True(t, h.runner.Called("lxc-start -n "+s.Name()+" -d"))
	var attached []string
	for _, c := range h.runner.Calls() {
		if c.Name == "lxc-attach" {
			attached = c.Args
		}
	}
	assert.Equal(t, []string{"-n", s.Name(), "--", "/bin/sh", "-c", "make test"}, attached)
	assert.True(t, h.runner.Called("lxc-stop -n "+s.Name()))
	assert.NoDirExists(t, s.Path())
	assert.Zero(t, h.mounts.Count(s.Rootfs()))
	assert.True(t, s.Token().Fired())
}

func TestForegroundCommandFailureStillTearsDown(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	opts.Command = "false"
	s := h.create(t, opts)
	h.runner.On("lxc-attach", testutil.Fail(1, ""))

	err := s.Start(context.Background(), Foreground)
	require.ErrorIs(t, err, system.ErrCommandFailed)
	assert.NoDirExists(t, s.Path())
}

func TestForegroundAnnouncesAndWaits(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	var announced string
	opts.Announce = func(ctx context.Context, s *Session) {
		addr, err := s.Container().IPAddress(ctx, 0)
		require.NoError(t, err)
		announced = s.Name() + "@" + addr
		h.set(s.Name(), "STOPPED")
	}
	s := h.create(t, opts)

	require.NoError(t, s.Start(context.Background(), Foreground))
	assert.Equal(t, s.Name()+"@10.0.3.77", announced)
	assert.False(t, h.runner.Called("lxc-stop"))
	assert.NoDirExists(t, s.Path())
}

func TestBackgroundHandsOffToManifestRunner(t *testing.T) {
	h := newHost(t)
	calls := h.recordSpawns()
	h.deps.Executable = "/usr/bin/lxkit"
	h.deps.ExecutableArgs = []string{"--config", "/etc/lxkit/lxkit.yaml"}
	s := h.create(t, h.options())

	require.NoError(t, s.Start(context.Background(), Background))

	manifest := filepath.Join(s.Path(), ManifestFile)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/usr/bin/lxkit", (*calls)[0].name)
	assert.Equal(t, []string{"--config", "/etc/lxkit/lxkit.yaml", "ephemeral", "run-manifest", manifest}, (*calls)[0].args)
	assert.FileExists(t, manifest)

	// the background process owns the resources now
	require.NoError(t, s.Cleanup())
	assert.DirExists(t, s.Path())
	assert.Equal(t, 1, h.mounts.Count(s.Rootfs()))
}

func TestDetachedHandsOffToWrapper(t *testing.T) {
	h := newHost(t)
	calls := h.recordSpawns()
	h.deps.Sudo = []string{"sudo", "-n"}
	s := h.create(t, h.options())

	require.NoError(t, s.Start(context.Background(), Detached))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "sudo", call.name)
	require.Len(t, call.args, 3)
	assert.Equal(t, []string{"-n", "/bin/bash"}, call.args[:2])
	script := call.args[2]
	defer os.Remove(script)

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	assert.Equal(t, s.WrapperScript(), read(t, script))

	require.NoError(t, s.Cleanup())
	assert.DirExists(t, s.Path())
}

func TestDetachedSpawnFailureRemovesScript(t *testing.T) {
	h := newHost(t)
	var script string
	h.deps.Spawn = func(name string, args ...string) error {
		script = args[len(args)-1]
		return errors.New("exec failed")
	}
	s := h.create(t, h.options())

	require.Error(t, s.Start(context.Background(), Detached))
	assert.NoFileExists(t, script)

	require.NoError(t, s.Cleanup())
	assert.NoDirExists(t, s.Path())
}

func TestWrapperScript(t *testing.T) {
	h := newHost(t)
	s := h.create(t, h.options())
	script := s.WrapperScript()
	lines := strings.Split(strings.TrimSpace(script), "\n")

	q := shellQuote
	assert.Equal(t, "#!/bin/bash", lines[0])
	assert.Equal(t, `rm -f "$0"`, lines[1])

	overlay := indexOf(lines, "umount "+q(s.Rootfs()))
	bind := indexOf(lines, "umount "+q(s.Binds()[0].TargetPath()))
	upper := indexOf(lines, "umount "+q(s.Upper().TargetPath()))
	remove := indexOf(lines, "rm -rf "+q(s.Path()))
	require.NotEqual(t, -1, overlay)
	assert.Less(t, overlay, bind)
	assert.Less(t, bind, upper)
	assert.Less(t, upper, remove)
	assert.NotContains(t, script, "rm -f '")

	assert.Equal(t, []string{
		"trap scrub SIGTERM SIGINT SIGQUIT",
		"lxc-start -n " + q(s.Name()) + " -d",
		"sleep 1",
		"lxc-wait -n " + q(s.Name()) + " -s STOPPED",
		"scrub",
	}, lines[len(lines)-5:])
}

func TestWrapperScriptRemovesImages(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	opts.DeviceSizeMB = 4
	s := h.create(t, opts)

	image := filepath.Join(h.tmpDir, "virt-imgs", s.Name())
	assert.Contains(t, s.WrapperScript(), "rm -f "+shellQuote(image)+"\n")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestGuardCleansUpOnSignal(t *testing.T) {
	h := newHost(t)
	s := h.create(t, h.options())

	ctx, release := s.Guard(context.Background())
	defer release()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not cancel the context")
	}
	var sigErr *system.SignalError
	require.ErrorAs(t, context.Cause(ctx), &sigErr)
	assert.Equal(t, syscall.SIGTERM, sigErr.Signal)

	// Teardown belongs to the goroutine that owns the session.
	assert.False(t, s.Token().Fired())
	assert.DirExists(t, s.Path())

	release()
	assert.True(t, s.Token().Fired())
	assert.NoDirExists(t, s.Path())
}

func TestGuardReleaseWithoutSignalKeepsSession(t *testing.T) {
	h := newHost(t)
	s := h.create(t, h.options())

	_, release := s.Guard(context.Background())
	release()
	assert.False(t, s.Token().Fired())
	assert.DirExists(t, s.Path())
}

func TestSignalDuringCreateReleasesEverything(t *testing.T) {
	h := newHost(t)
	s, err := New(context.Background(), h.deps, h.options())
	require.NoError(t, err)
	h.set(s.Name(), "STOPPED")

	ctx, release := s.Guard(context.Background())
	defer release()

	var once sync.Once
	h.runner.On("mount", func(cmd system.Command) (system.Result, error) {
		once.Do(func() {
			if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		})
		h.mounts.Set(cmd.Args[len(cmd.Args)-1])
		return &testutil.Result{}, nil
	})

	err = s.Create(ctx)
	var sigErr *system.SignalError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, syscall.SIGTERM, sigErr.Signal)

	require.NotNil(t, s.Upper())
	assert.True(t, s.Token().Fired())
	assert.Zero(t, h.mounts.Count(s.Upper().TargetPath()))
	assert.Zero(t, h.mounts.Count(s.Rootfs()))
	assert.NoDirExists(t, s.Path())
}

func TestStartAfterSignalDoesNotRun(t *testing.T) {
	h := newHost(t)
	spawns := h.recordSpawns()
	s := h.create(t, h.options())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(&system.SignalError{Signal: syscall.SIGINT})

	err := s.Start(ctx, Background)
	var sigErr *system.SignalError
	require.ErrorAs(t, err, &sigErr)
	assert.Empty(t, *spawns)
	assert.False(t, h.runner.Called("lxc-start"))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "foreground", Foreground.String())
	assert.Equal(t, "background", Background.String())
	assert.Equal(t, "detached", Detached.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}
