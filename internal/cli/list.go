package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/ui"
)

// ListCommand handles listing containers
type ListCommand struct {
	ctx   *GlobalContext
	json  bool
	state string
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "List containers and their state",
		Long:  `List every container known to LXC with its state and init pid.`,
		Args:  cobra.NoArgs,
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")
	cobraCmd.Flags().StringVarP(&cmd.state, "state", "s", "", "Only show containers in this state (running, stopped, frozen)")

	return cobraCmd
}

type listEntry struct {
	Name  string   `json:"name"`
	State string   `json:"state"`
	PID   int      `json:"pid"`
	IPs   []string `json:"ips,omitempty"`
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	names, err := c.ctx.Discovery.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	entries := make([]listEntry, 0, len(names))
	for _, name := range names {
		info := c.ctx.Discovery.Info(cmd.Context(), name)
		if c.state != "" && info.State != container.State(strings.ToLower(c.state)) {
			continue
		}
		entries = append(entries, listEntry{
			Name:  info.Name,
			State: string(info.State),
			PID:   info.PID,
			IPs:   info.IPs,
		})
	}

	if c.json {
		return ui.PrintJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No containers found")
		return nil
	}

	c.printTable(entries)
	return nil
}

func (c *ListCommand) printTable(entries []listEntry) {
	table := ui.NewTable("NAME", "STATE", "PID", "IP")
	table.Style = func(col int, cell string) string {
		if col == 1 {
			return ui.ColorState(cell)
		}
		return cell
	}

	for _, e := range entries {
		pid := "-"
		if e.PID != container.UnknownPID {
			pid = strconv.Itoa(e.PID)
		}
		ips := "-"
		if len(e.IPs) > 0 {
			ips = strings.Join(e.IPs, ",")
		}
		table.AddRow(e.Name, e.State, pid, ips)
	}

	table.Print()
}
