package container

import (
	"context"
	"fmt"

	"github.com/nace/lxkit/internal/system"
)

func (c *Container) lxc(ctx context.Context, tool string, retries int, args ...string) error {
	_, err := c.runner.Run(ctx, system.Command{
		Name:    tool,
		Args:    append([]string{"-n", c.name}, args...),
		Sudo:    true,
		Retries: retries,
	})
	return err
}

// Start boots the container. A daemonized start returns once the
// container is running; otherwise lxc-start holds the terminal until the
// container exits.
func (c *Container) Start(ctx context.Context, daemonize bool) error {
	if !daemonize {
		_, err := c.runner.Run(ctx, system.Command{
			Name:       "lxc-start",
			Args:       []string{"-n", c.name},
			Sudo:       true,
			LiveStream: true,
			Timeout:    -1,
		})
		return err
	}
	if err := c.lxc(ctx, "lxc-start", 0, "-d"); err != nil {
		return err
	}
	return c.WaitForState(ctx, []State{StateRunning}, WaitOptions{})
}

// Stop halts the container and waits until LXC reports it stopped.
func (c *Container) Stop(ctx context.Context) error {
	if err := c.lxc(ctx, "lxc-stop", 3); err != nil {
		return err
	}
	return c.WaitForState(ctx, []State{StateStopped, StateUnknown}, WaitOptions{})
}

// Freeze suspends every process in the container.
func (c *Container) Freeze(ctx context.Context) error {
	if err := c.lxc(ctx, "lxc-freeze", 0); err != nil {
		return err
	}
	return c.WaitForState(ctx, []State{StateFrozen}, WaitOptions{})
}

// Unfreeze resumes a frozen container.
func (c *Container) Unfreeze(ctx context.Context) error {
	if err := c.lxc(ctx, "lxc-unfreeze", 0); err != nil {
		return err
	}
	return c.WaitForState(ctx, []State{StateRunning}, WaitOptions{})
}

// Shutdown asks the guest to power off, then forces a stop if it is still
// running after the shutdown timeout.
func (c *Container) Shutdown(ctx context.Context) error {
	if !c.Running(ctx) {
		return nil
	}
	wait := WaitOptions{Timeout: c.cfg.ShutdownTimeout}

	opts := DefaultExecOptions()
	if _, err := c.ExecuteRunning(ctx, "shutdown -h now", opts); err != nil {
		c.log.WithError(err).Warn("graceful shutdown command failed")
	}
	if err := c.WaitForState(ctx, []State{StateStopped}, wait); err != nil {
		return err
	}
	if !c.Running(ctx) {
		return nil
	}

	c.log.Warn("container still running after graceful shutdown, forcing stop")
	if err := c.lxc(ctx, "lxc-stop", 0); err != nil {
		c.log.WithError(err).Warn("forced stop failed")
	}
	if err := c.WaitForState(ctx, []State{StateStopped}, wait); err != nil {
		return err
	}
	if c.Running(ctx) {
		return fmt.Errorf("%w: failed to shutdown container: %s", system.ErrShutdownFailed, c.name)
	}
	return nil
}

// Destroy stops the container if needed and deletes it.
func (c *Container) Destroy(ctx context.Context) error {
	if !c.Stopped(ctx) {
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}
	return c.lxc(ctx, "lxc-destroy", 0)
}
