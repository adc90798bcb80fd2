package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/system"
	"github.com/nace/lxkit/internal/ui"
)

// LifecycleCommand runs one state transition on a container
type LifecycleCommand struct {
	ctx        *GlobalContext
	verb       string
	done       string
	action     func(ctx context.Context, c *container.Container) error
	foreground bool
	yes        bool
}

func newLifecycleCommand(ctx *GlobalContext, use, short, done string, action func(context.Context, *container.Container) error) (*LifecycleCommand, *cobra.Command) {
	cmd := &LifecycleCommand{ctx: ctx, verb: use, done: done, action: action}

	cobraCmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}
	return cmd, cobraCmd
}

// NewStartCommand creates the start command
func NewStartCommand(ctx *GlobalContext) *cobra.Command {
	cmd, cobraCmd := newLifecycleCommand(ctx, "start", "Start a container", "started", nil)
	cmd.action = func(ctx context.Context, c *container.Container) error {
		return c.Start(ctx, !cmd.foreground)
	}
	cobraCmd.Flags().BoolVarP(&cmd.foreground, "foreground", "F", false, "Run attached to the console until the container exits")
	return cobraCmd
}

// NewStopCommand creates the stop command
func NewStopCommand(ctx *GlobalContext) *cobra.Command {
	_, cobraCmd := newLifecycleCommand(ctx, "stop", "Stop a container", "stopped",
		func(ctx context.Context, c *container.Container) error { return c.Stop(ctx) })
	return cobraCmd
}

// NewFreezeCommand creates the freeze command
func NewFreezeCommand(ctx *GlobalContext) *cobra.Command {
	_, cobraCmd := newLifecycleCommand(ctx, "freeze", "Freeze all processes of a container", "frozen",
		func(ctx context.Context, c *container.Container) error { return c.Freeze(ctx) })
	return cobraCmd
}

// NewUnfreezeCommand creates the unfreeze command
func NewUnfreezeCommand(ctx *GlobalContext) *cobra.Command {
	_, cobraCmd := newLifecycleCommand(ctx, "unfreeze", "Resume a frozen container", "running",
		func(ctx context.Context, c *container.Container) error { return c.Unfreeze(ctx) })
	return cobraCmd
}

// NewShutdownCommand creates the shutdown command
func NewShutdownCommand(ctx *GlobalContext) *cobra.Command {
	_, cobraCmd := newLifecycleCommand(ctx, "shutdown", "Shut a container down, forcing a stop if it does not comply", "shut down",
		func(ctx context.Context, c *container.Container) error { return c.Shutdown(ctx) })
	cobraCmd.Long = `Ask the container to power off and wait for it to stop. If it is still
running after the shutdown timeout it is stopped forcibly; if that fails
too the command exits with an error.`
	return cobraCmd
}

// NewDestroyCommand creates the destroy command
func NewDestroyCommand(ctx *GlobalContext) *cobra.Command {
	cmd, cobraCmd := newLifecycleCommand(ctx, "destroy", "Stop and delete a container", "destroyed",
		func(ctx context.Context, c *container.Container) error { return c.Destroy(ctx) })
	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Do not ask for confirmation")
	return cobraCmd
}

// Run executes the lifecycle command
func (c *LifecycleCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := args[0]
	lxc := c.ctx.Container(name)
	if !lxc.Exists(cmd.Context()) {
		return fmt.Errorf("%w: container %s does not exist", system.ErrNotFound, name)
	}

	if c.verb == "destroy" && !c.yes {
		if !ui.PromptConfirm(fmt.Sprintf("Destroy container %s and all of its data?", name)) {
			return fmt.Errorf("aborted (use --yes to destroy without a terminal)")
		}
	}

	c.ctx.Logger.Debug("Running %s on %s", c.verb, name)
	if err := c.action(cmd.Context(), lxc); err != nil {
		return fmt.Errorf("failed to %s %s: %w", c.verb, name, err)
	}
	if c.verb == "start" && c.foreground {
		return nil
	}

	c.ctx.Logger.Success("Container %s %s", name, c.done)
	return nil
}
