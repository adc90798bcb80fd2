package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/nace/lxkit/internal/system"
)

// ExecOptions controls a command sent to a running container.
type ExecOptions struct {
	// Retries is the number of additional attempts after a failure.
	Retries    int
	RetryDelay time.Duration
	LiveStream bool
	Timeout    time.Duration
}

// DefaultExecOptions retries once after a one second pause.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{Retries: 1, RetryDelay: time.Second}
}

// Execute runs command in the container using whichever path its current
// state allows.
func (c *Container) Execute(ctx context.Context, command string, opts ExecOptions) (system.Result, error) {
	switch state := c.State(ctx); state {
	case StateRunning:
		return c.ExecuteRunning(ctx, command, opts)
	case StateStopped:
		return c.ExecuteStopped(ctx, command)
	default:
		return nil, system.InvalidState("container %s is %s", c.name, state)
	}
}

const scriptTemplate = `#!/bin/sh
/etc/network/if-pre-up.d/bridge > /dev/null 2>&1
ifdown eth0 > /dev/null 2>&1
ifup eth0 > /dev/null 2>&1
%s
RESULT=$?
ifdown eth0 > /dev/null 2>&1
exit $RESULT
`

// ExecuteStopped runs command inside a stopped container through
// lxc-execute. The command is wrapped in a one-shot script that brings
// eth0 up around it and propagates its exit status.
func (c *Container) ExecuteStopped(ctx context.Context, command string) (system.Result, error) {
	if state := c.State(ctx); state != StateStopped {
		return nil, system.InvalidState("container %s must be stopped to execute offline (state: %s)", c.name, state)
	}

	tmpDir := filepath.Join(c.Rootfs(), "tmp")
	if !system.IsDir(tmpDir) {
		if err := os.MkdirAll(tmpDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", tmpDir, err)
		}
		if err := os.Chmod(tmpDir, 0777|os.ModeSticky); err != nil {
			return nil, err
		}
	}

	script := uuid.NewString()
	hostPath := filepath.Join(tmpDir, script)
	if err := os.WriteFile(hostPath, []byte(fmt.Sprintf(scriptTemplate, command)), 0755); err != nil {
		return nil, fmt.Errorf("failed to write execute script: %w", err)
	}
	defer func() {
		if err := os.Remove(hostPath); err != nil && !os.IsNotExist(err) {
			c.log.WithError(err).Warn("failed to remove execute script")
		}
	}()

	res, err := c.runner.Run(ctx, system.Command{
		Name: "lxc-execute",
		Args: []string{"-n", c.name, "--", "/tmp/" + script},
		Sudo: true,
	})
	if err != nil {
		var ce *system.CommandError
		if errors.As(err, &ce) && ce.Result != nil &&
			strings.Contains(ce.Result.Stderr(), "failed to find an lxc-init") {
			c.log.Error("lxc-init is missing from the container; install lxc inside the container to use offline execute")
		}
		return res, err
	}
	return res, nil
}

// ExecuteRunning resolves the container's address and runs command
// through lxc-attach or ssh, depending on the configuration.
func (c *Container) ExecuteRunning(ctx context.Context, command string, opts ExecOptions) (system.Result, error) {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	var res system.Result
	err := retry.Do(
		func() error {
			r, err := c.executeRunningOnce(ctx, command, opts)
			res = r
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(opts.Retries)+1),
		retry.Delay(opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n) < opts.Retries {
				c.log.WithError(err).Warnf("container command failed (%s), retrying", command)
			}
		}),
	)
	return res, err
}

func (c *Container) executeRunningOnce(ctx context.Context, command string, opts ExecOptions) (system.Result, error) {
	addr, err := c.IPAddress(ctx, c.cfg.ExecAddressRetries)
	if err != nil {
		return nil, err
	}
	if c.cfg.CommandVia == ViaSSH {
		return c.remote.Exec(ctx, addr, command, opts.LiveStream)
	}
	return c.runner.Run(ctx, system.Command{
		Name:       "lxc-attach",
		Args:       []string{"-n", c.name, "--", "/bin/sh", "-c", command},
		Sudo:       true,
		LiveStream: opts.LiveStream,
		Timeout:    opts.Timeout,
	})
}
