package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/system"
	"github.com/nace/lxkit/internal/ui"
)

// InfoCommand shows one container
type InfoCommand struct {
	ctx  *GlobalContext
	json bool
}

// NewInfoCommand creates the info command
func NewInfoCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InfoCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show the state of a container",
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")

	return cobraCmd
}

type infoOutput struct {
	Name   string   `json:"name"`
	State  string   `json:"state"`
	PID    int      `json:"pid"`
	IPs    []string `json:"ips,omitempty"`
	Path   string   `json:"path"`
	Rootfs string   `json:"rootfs"`
}

// Run executes the info command
func (c *InfoCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	lxc := c.ctx.Container(args[0])
	if !lxc.Exists(cmd.Context()) {
		return fmt.Errorf("%w: container %s does not exist", system.ErrNotFound, args[0])
	}

	info := lxc.Info(cmd.Context())
	out := infoOutput{
		Name:   info.Name,
		State:  string(info.State),
		PID:    info.PID,
		IPs:    info.IPs,
		Path:   lxc.Path(),
		Rootfs: lxc.Rootfs(),
	}

	if c.json {
		return ui.PrintJSON(out)
	}

	fmt.Printf("Container: %s\n", out.Name)
	fmt.Printf("  State: %s\n", ui.ColorState(out.State))
	if out.PID != container.UnknownPID {
		fmt.Printf("  PID: %d\n", out.PID)
	}
	if len(out.IPs) > 0 {
		fmt.Printf("  IP: %s\n", strings.Join(out.IPs, ", "))
	}
	fmt.Printf("  Path: %s\n", out.Path)
	fmt.Printf("  Rootfs: %s\n", out.Rootfs)
	return nil
}
