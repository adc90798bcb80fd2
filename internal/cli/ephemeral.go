package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/ephemeral"
	"github.com/nace/lxkit/internal/identity"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// directoryDefault is the value of a bare -z: use the tmp dir.
const directoryDefault = "tmp"

// EphemeralCommand handles throwaway containers
type EphemeralCommand struct {
	ctx        *GlobalContext
	configFile *string

	original   string
	device     string
	directory  string
	union      string
	bind       string
	ipaddress  string
	gateway    string
	netmask    string
	command    string
	daemon     bool
	fork       bool
	detach     bool
	createOnly bool
}

// NewEphemeralCommand creates the ephemeral command
func NewEphemeralCommand(ctx *GlobalContext, configFile *string) *cobra.Command {
	cmd := &EphemeralCommand{ctx: ctx, configFile: configFile}

	cobraCmd := &cobra.Command{
		Use:   "ephemeral -o <original>",
		Short: "Run a throwaway copy of a container",
		Long: `Start a copy of a container whose changes live in a scratch layer
stacked over the original rootfs. Everything created for it is removed
when the container stops, or when lxkit receives TERM, INT or QUIT.

The scratch layer is a tmpfs by default, an image of --device size, or a
plain directory with -z. Bind mounts in the original fstab are replaced by
unions over tmpfs so their sources are never written to.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	flags := cobraCmd.Flags()
	flags.StringVarP(&cmd.original, "orig", "o", "", "Original container name")
	flags.StringVarP(&cmd.device, "device", "D", "", "Back the scratch layer with an image of this size (e.g. 2000, 4G)")
	flags.StringVarP(&cmd.directory, "directory", "z", "", "Use a host directory as the scratch layer (-z or --directory=DIR)")
	flags.Lookup("directory").NoOptDefVal = directoryDefault
	flags.StringVarP(&cmd.union, "union", "U", "", "Union filesystem (overlayfs or aufs)")
	flags.StringVarP(&cmd.bind, "bind", "b", "", "Bind this host directory read-write")
	flags.StringVarP(&cmd.ipaddress, "ipaddress", "I", "", "Static IP address")
	flags.StringVarP(&cmd.gateway, "gateway", "G", "", "Static gateway")
	flags.StringVarP(&cmd.netmask, "netmask", "N", identity.DefaultNetmask, "Static netmask")
	flags.StringVarP(&cmd.command, "command", "C", "", "Run this command in the container, then tear it down")
	flags.BoolVarP(&cmd.daemon, "daemon", "d", false, "Run in the background")
	flags.BoolVar(&cmd.fork, "fork", false, "With -d, hand the container to a background lxkit process (default)")
	flags.BoolVar(&cmd.detach, "detach", false, "With -d, hand the container to a detached shell script")
	flags.BoolVar(&cmd.createOnly, "create-only", false, "Build the container but do not start it")
	_ = cobraCmd.MarkFlagRequired("orig")
	cobraCmd.MarkFlagsMutuallyExclusive("fork", "detach")

	cobraCmd.AddCommand(newRunManifestCommand(ctx))

	return cobraCmd
}

func (c *EphemeralCommand) mode() ephemeral.Mode {
	switch {
	case !c.daemon:
		return ephemeral.Foreground
	case c.detach:
		return ephemeral.Detached
	default:
		return ephemeral.Background
	}
}

func (c *EphemeralCommand) options() (ephemeral.Options, error) {
	sizeMB, err := system.ParseSizeMB(c.device)
	if err != nil {
		return ephemeral.Options{}, err
	}
	union := c.ctx.Settings.Union
	if c.union != "" {
		if union, err = storage.ParseUnion(c.union); err != nil {
			return ephemeral.Options{}, err
		}
	}

	opts := ephemeral.Options{
		Original:     c.original,
		LXCDir:       c.ctx.Settings.LXCPath,
		TmpDir:       c.ctx.Settings.TmpDir,
		DeviceSizeMB: sizeMB,
		Directory:    c.directory != "",
		Union:        union,
		Bind:         c.bind,
		Command:      c.command,
		Networking: identity.Networking{
			Address: c.ipaddress,
			Gateway: c.gateway,
			Netmask: c.netmask,
		},
		Announce: c.announce,
	}
	if c.directory != directoryDefault {
		opts.DirectoryPath = c.directory
	}
	return opts, nil
}

func (c *EphemeralCommand) announce(ctx context.Context, s *ephemeral.Session) {
	c.ctx.Logger.Success("New ephemeral container started. (%s)", s.Name())
	addr, err := s.Container().IPAddress(ctx, 10)
	if err != nil {
		c.ctx.Logger.Warning("No live address found for %s", s.Name())
		return
	}
	if key := c.ctx.Settings.SSH.Key; key != "" {
		c.ctx.Logger.Info("    - Connect using: sudo ssh -i %s %s@%s", key, c.ctx.Settings.SSH.User, addr)
		return
	}
	c.ctx.Logger.Info("    - Connect using: ssh %s@%s", c.ctx.Settings.SSH.User, addr)
}

// Run executes the ephemeral command
func (c *EphemeralCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies("mount", "umount"); err != nil {
		return err
	}

	opts, err := c.options()
	if err != nil {
		return err
	}

	session, err := ephemeral.New(cmd.Context(), c.ctx.EphemeralDeps(*c.configFile), opts)
	if err != nil {
		return err
	}

	ctx, release := session.Guard(cmd.Context())
	defer release()

	if err := session.Create(ctx); err != nil {
		return interrupted(ctx, fmt.Errorf("failed to create ephemeral container: %w", err))
	}
	if c.createOnly {
		c.ctx.Logger.Success("Ephemeral container %s created", session.Name())
		fmt.Println(session.Name())
		return nil
	}

	mode := c.mode()
	c.ctx.Logger.Debug("Starting %s in %s mode", session.Name(), mode)
	if err := session.Start(ctx, mode); err != nil {
		return interrupted(ctx, err)
	}
	if mode != ephemeral.Foreground {
		c.ctx.Logger.Success("Ephemeral container %s started in the %s", session.Name(), mode)
		fmt.Println(session.Name())
	}
	return nil
}

// RunManifestCommand is the background half of ephemeral -d
type RunManifestCommand struct {
	ctx *GlobalContext
}

func newRunManifestCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RunManifestCommand{ctx: ctx}

	return &cobra.Command{
		Use:    "run-manifest <manifest>",
		Short:  "Run a created ephemeral container from its session manifest",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE:   cmd.Run,
	}
}

// Run executes the run-manifest command
func (c *RunManifestCommand) Run(cmd *cobra.Command, args []string) error {
	deps := c.ctx.EphemeralDeps("")
	return ephemeral.RunManifest(cmd.Context(), deps, args[0])
}
