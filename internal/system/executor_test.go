package system

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	return NewExecutor(false, WithRetryDelay(time.Millisecond))
}

func TestExecutorCapturesOutput(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "out\n", res.Stdout())
	assert.Equal(t, "err\n", res.Stderr())
}

func TestExecutorRetriesFailures(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "attempts")
	_, err := newTestExecutor().Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "echo x >> " + marker + "; exit 3"},
		Retries: 2,
	})
	require.ErrorIs(t, err, ErrCommandFailed)

	data, rerr := os.ReadFile(marker)
	require.NoError(t, rerr)
	assert.Equal(t, 3, strings.Count(string(data), "x"))
}

func TestExecutorAllowFailure(t *testing.T) {
	res, err := newTestExecutor().Run(context.Background(), Command{
		Name:         "sh",
		Args:         []string{"-c", "exit 4"},
		AllowFailure: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 4, res.ExitCode())
}

func TestExecutorTimeout(t *testing.T) {
	_, err := newTestExecutor().Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecutorSudoPrefix(t *testing.T) {
	e := NewExecutor(false, WithSudo("env FOO=bar"))
	res, err := e.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $FOO"},
		Sudo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "bar\n", res.Stdout())

	res, err = e.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo ${FOO:-unset}"}})
	require.NoError(t, err)
	assert.Equal(t, "unset\n", res.Stdout())
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "lxc-attach", Args: []string{"-n", "web", "--", "/bin/sh", "-c", "echo 'hi there'"}}
	assert.Equal(t, `lxc-attach -n web -- /bin/sh -c 'echo '\''hi there'\'''`, cmd.String())
	assert.Equal(t, "true ''", Command{Name: "true", Args: []string{""}}.String())
}

func TestCheckDependencies(t *testing.T) {
	e := newTestExecutor()
	assert.NoError(t, e.CheckDependencies([]string{"sh"}))
	err := e.CheckDependencies([]string{"sh", "definitely-not-a-real-tool"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-not-a-real-tool")
}
