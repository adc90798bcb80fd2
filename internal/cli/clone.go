package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/clone"
	"github.com/nace/lxkit/internal/identity"
	"github.com/nace/lxkit/internal/system"
)

// CloneCommand handles container cloning
type CloneCommand struct {
	ctx        *GlobalContext
	original   string
	name       string
	device     string
	filesystem string
	ipaddress  string
	gateway    string
	netmask    string
}

// NewCloneCommand creates the clone command
func NewCloneCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &CloneCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "clone -o <original> -n <new>",
		Short: "Copy a stopped container to a new name",
		Long: `Copy a stopped container to a new, independent container. The rootfs is
snapshotted when it is a btrfs subvolume, copied into a loop-mounted image
when --device is given, and copied with rsync otherwise. Names, hostnames
and hardware addresses are rewritten for the new container.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.original, "orig", "o", "", "Original container name")
	cobraCmd.Flags().StringVarP(&cmd.name, "new", "n", "", "New container name")
	cobraCmd.Flags().StringVarP(&cmd.device, "device", "D", "", "Copy the rootfs into an image of this size (e.g. 2000, 4G)")
	cobraCmd.Flags().StringVarP(&cmd.filesystem, "fstype", "t", "ext4", "Filesystem of the image (ext4, xfs, btrfs)")
	cobraCmd.Flags().StringVarP(&cmd.ipaddress, "ipaddress", "I", "", "Static IP address")
	cobraCmd.Flags().StringVarP(&cmd.gateway, "gateway", "G", "", "Static gateway")
	cobraCmd.Flags().StringVarP(&cmd.netmask, "netmask", "N", identity.DefaultNetmask, "Static netmask")
	_ = cobraCmd.MarkFlagRequired("orig")
	_ = cobraCmd.MarkFlagRequired("new")

	return cobraCmd
}

// Run executes the clone command
func (c *CloneCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies("rsync"); err != nil {
		return err
	}

	sizeMB, err := system.ParseSizeMB(c.device)
	if err != nil {
		return err
	}

	ctx, release := withSignals(cmd.Context())
	defer release()

	cloner := clone.New(c.ctx.Executor, c.ctx.Storage, c.ctx.Settings.Container())
	lxc, err := cloner.Clone(ctx, clone.Options{
		Original:     c.original,
		Name:         c.name,
		DeviceSizeMB: sizeMB,
		FSType:       c.filesystem,
		DeviceDir:    c.ctx.Settings.CloneDeviceDir,
		Networking: identity.Networking{
			Address: c.ipaddress,
			Gateway: c.gateway,
			Netmask: c.netmask,
		},
	})
	if err != nil {
		return interrupted(ctx, fmt.Errorf("failed to clone %s: %w", c.original, err))
	}

	c.ctx.Logger.Success("Container %s cloned to %s", c.original, lxc.Name())
	c.ctx.Logger.Info("Rootfs: %s", lxc.Rootfs())
	return nil
}
