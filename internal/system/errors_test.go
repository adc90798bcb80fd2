package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubResult struct{ stderr string }

func (r stubResult) Stdout() string { return "" }
func (r stubResult) Stderr() string { return r.stderr }
func (r stubResult) ExitCode() int  { return 1 }
func (r stubResult) Success() bool  { return false }

func TestCommandErrorKinds(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &CommandError{Line: "lxc-stop -n web", Result: stubResult{stderr: "web is not running\n"}, Err: cause}

	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "lxc-stop -n web failed: exit status 1\nStderr: web is not running", err.Error())

	timedOut := &CommandError{Line: "sleep 10", TimedOut: true}
	assert.ErrorIs(t, timedOut, ErrTimeout)
	assert.Equal(t, "sleep 10: timed out", timedOut.Error())
}

func TestKindHelpers(t *testing.T) {
	err := InvalidArgument("bad size %d", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "bad size -1")

	assert.ErrorIs(t, InvalidState("container %s exists", "web"), ErrInvalidState)
}
