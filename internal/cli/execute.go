package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/system"
)

// ExecuteCommand runs a command inside a container
type ExecuteCommand struct {
	ctx     *GlobalContext
	running bool
	retries int
	timeout string
}

// NewExecuteCommand creates the execute command, for stopped containers
func NewExecuteCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ExecuteCommand{ctx: ctx}

	return &cobra.Command{
		Use:   "execute <name> -- <command>",
		Short: "Run a command in a stopped container",
		Long: `Run a command inside a stopped container through lxc-execute. eth0 is
brought up before the command and down after it; the command's exit
status is passed through.`,
		Args: cobra.MinimumNArgs(2),
		RunE: cmd.Run,
	}
}

// NewAttachCommand creates the attach command, for running containers
func NewAttachCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ExecuteCommand{ctx: ctx, running: true}

	cobraCmd := &cobra.Command{
		Use:   "attach <name> -- <command>",
		Short: "Run a command in a running container",
		Long: `Run a command inside a running container, through lxc-attach or ssh
depending on the command.via setting. The container must have a live
address.`,
		Args: cobra.MinimumNArgs(2),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().IntVarP(&cmd.retries, "retries", "r", 1, "Retries after a failed attempt")
	cobraCmd.Flags().StringVarP(&cmd.timeout, "timeout", "t", "", "Command timeout (e.g. 30s, 5m)")

	return cobraCmd
}

// Run executes the command
func (c *ExecuteCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	name := args[0]
	command := strings.Join(args[1:], " ")
	lxc := c.ctx.Container(name)
	if !lxc.Exists(cmd.Context()) {
		return fmt.Errorf("%w: container %s does not exist", system.ErrNotFound, name)
	}

	if !c.running {
		res, err := lxc.ExecuteStopped(cmd.Context(), command)
		if res != nil {
			fmt.Fprint(os.Stdout, res.Stdout())
			fmt.Fprint(os.Stderr, res.Stderr())
		}
		return err
	}

	opts := container.DefaultExecOptions()
	opts.Retries = c.retries
	opts.LiveStream = true
	if c.timeout != "" {
		d, err := parseDuration(c.timeout)
		if err != nil {
			return err
		}
		opts.Timeout = d
	}
	_, err := lxc.ExecuteRunning(cmd.Context(), command, opts)
	return err
}
