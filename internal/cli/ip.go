package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/system"
)

// IPCommand prints the live address of a container
type IPCommand struct {
	ctx     *GlobalContext
	retries int
	require bool
}

// NewIPCommand creates the ip command
func NewIPCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &IPCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "ip <name>",
		Short: "Print the live IPv4 address of a container",
		Long: `Discover the container's IPv4 address from its network namespace, the
ARP table, the DHCP lease file or its static configuration, in that order.
An address is only reported once it answers a ping.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().IntVarP(&cmd.retries, "retries", "r", 0, "Additional discovery attempts")
	cobraCmd.Flags().BoolVar(&cmd.require, "require", false, "Fail when no address is found")

	return cobraCmd
}

// Run executes the ip command
func (c *IPCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.CheckDependencies("ping"); err != nil {
		return err
	}

	lxc := c.ctx.Container(args[0])
	addr, err := lxc.IPAddress(cmd.Context(), c.retries)
	if err != nil {
		if errors.Is(err, system.ErrNotFound) && !c.require {
			c.ctx.Logger.Warning("No live address found for %s", args[0])
			return nil
		}
		return err
	}

	fmt.Println(addr)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, system.InvalidArgument("invalid duration %q", s)
	}
	return d, nil
}
