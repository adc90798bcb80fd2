package ephemeral

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/lxkit/internal/system"
)

func TestManifestRestoresSession(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	opts.Command = "true"
	s := h.create(t, opts)

	path, err := s.WriteManifest()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, s.Manifest(), m)

	restored, err := Restore(h.deps, m)
	require.NoError(t, err)
	assert.Equal(t, s.Name(), restored.Name())
	assert.Equal(t, s.Manifest(), restored.Manifest())

	require.NoError(t, restored.Cleanup())
	assert.NoDirExists(t, s.Path())
	assert.Zero(t, h.mounts.Count(s.Rootfs()))
	assert.Zero(t, h.mounts.Count(s.Upper().TargetPath()))
	assert.Zero(t, h.mounts.Count(s.Binds()[0].TargetPath()))
}

func TestRunManifest(t *testing.T) {
	h := newHost(t)
	opts := h.options()
	opts.Command = "uptime"
	s := h.create(t, opts)
	path, err := s.WriteManifest()
	require.NoError(t, err)

	require.NoError(t, RunManifest(context.Background(), h.deps, path))

	assert.True(t, h.runner.Called("lxc-start -n "+s.Name()+" -d"))
	assert.True(t, h.runner.Called("lxc-attach -n "+s.Name()+" -- /bin/sh -c uptime"))
	assert.NoFileExists(t, path)
	assert.NoDirExists(t, s.Path())
}

func TestReadManifestRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0600))
	_, err = ReadManifest(garbage)
	assert.Error(t, err)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 2, "original": "base", "path": "/var/lib/lxc/base-1"}`), 0600))
	_, err = ReadManifest(future)
	assert.ErrorIs(t, err, system.ErrInvalidArgument)

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"version": 1, "original": "base"}`), 0600))
	_, err = ReadManifest(partial)
	assert.ErrorIs(t, err, system.ErrInvalidArgument)
}
