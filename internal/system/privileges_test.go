package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevatedArgv(t *testing.T) {
	argv, err := ElevatedArgv("sudo -E", "/usr/local/bin/lxkit", []string{"ephemeral", "-o", "base", "-C", "make test"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sudo", "-E", "env", "LXKIT_ELEVATED=1", "/usr/local/bin/lxkit",
		"ephemeral", "-o", "base", "-C", "make test",
	}, argv)

	argv, err = ElevatedArgv("doas", "/usr/local/bin/lxkit", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"doas", "env", "LXKIT_ELEVATED=1", "/usr/local/bin/lxkit"}, argv)

	_, err = ElevatedArgv("  ", "/usr/local/bin/lxkit", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestElevateRefusesSecondAttempt(t *testing.T) {
	t.Setenv(ElevatedEnv, "1")
	err := Elevate("sudo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still not root")
}

func TestRequireRoot(t *testing.T) {
	if IsRoot() {
		assert.NoError(t, RequireRoot())
		return
	}
	assert.Error(t, RequireRoot())
}
