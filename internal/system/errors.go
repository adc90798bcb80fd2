package system

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared by every package. Match them with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrCommandFailed   = errors.New("command failed")
	ErrTimeout         = errors.New("timeout exceeded")
	ErrNotFound        = errors.New("not found")
	ErrUnimplemented   = errors.New("unimplemented")

	// ErrShutdownFailed is returned when a container survives both the
	// graceful and the forced stop.
	ErrShutdownFailed = errors.New("shutdown failed")
	// ErrUnsafePath is returned when a removal is refused because the
	// target path is too shallow to be a container directory.
	ErrUnsafePath = errors.New("refusing to remove suspicious path")
)

// CommandError describes a failed external command together with the
// output it produced.
type CommandError struct {
	Line     string
	Result   Result
	Err      error
	TimedOut bool
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.TimedOut {
		fmt.Fprintf(&b, "%s: timed out", e.Line)
	} else {
		fmt.Fprintf(&b, "%s failed", e.Line)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Result != nil {
		if stderr := strings.TrimSpace(e.Result.Stderr()); stderr != "" {
			fmt.Fprintf(&b, "\nStderr: %s", stderr)
		}
	}
	return b.String()
}

// Unwrap exposes both the error kind and the underlying cause.
func (e *CommandError) Unwrap() []error {
	kind := ErrCommandFailed
	if e.TimedOut {
		kind = ErrTimeout
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// InvalidArgument builds an ErrInvalidArgument with context.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// InvalidState builds an ErrInvalidState with context.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
