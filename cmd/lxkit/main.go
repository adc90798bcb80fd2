package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nace/lxkit/internal/cli"
)

var (
	opts cli.Options

	ctx     = &cli.GlobalContext{}
	once    sync.Once
	initErr error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "lxkit",
	Short: "lxkit - LXC container lifecycle and overlay toolkit",
	Long: `lxkit drives LXC containers through the lxc-* tools.

It starts, stops, freezes and destroys containers, runs commands in them
whether they are running or not, finds their addresses, clones them, and
runs throwaway copies stacked over an overlay that is removed again when
the copy stops.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Build the shared components once the flags are parsed
		once.Do(func() {
			var built *cli.GlobalContext
			built, initErr = cli.NewGlobalContext(opts, cmd.Flags())
			if initErr == nil {
				*ctx = *built
			}
		})
		return initErr
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "Config file (default searches /etc/lxkit, $HOME and .)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable color output")
	flags.BoolVar(&opts.Debug, "debug", false, "Debug mode (show commands)")

	// Setting overrides, bound to the config keys in config.FlagKeys
	flags.String("sudo", "", "Privilege prefix for lxc commands, e.g. \"sudo\"")
	flags.String("lxc-path", "", "Container store (default /var/lib/lxc)")
	flags.String("tmp-dir", "", "Scratch space for ephemeral containers")
	flags.String("union", "", "Union filesystem (overlayfs or aufs)")
	flags.String("command-via", "", "How commands reach running containers (attach or ssh)")
	flags.String("ssh-user", "", "SSH user for command-via ssh")
	flags.String("ssh-key", "", "SSH private key for command-via ssh")
	flags.String("net-device", "", "Preferred container network device")

	// Register commands
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewInfoCommand(ctx))
	rootCmd.AddCommand(cli.NewStartCommand(ctx))
	rootCmd.AddCommand(cli.NewStopCommand(ctx))
	rootCmd.AddCommand(cli.NewShutdownCommand(ctx))
	rootCmd.AddCommand(cli.NewFreezeCommand(ctx))
	rootCmd.AddCommand(cli.NewUnfreezeCommand(ctx))
	rootCmd.AddCommand(cli.NewDestroyCommand(ctx))
	rootCmd.AddCommand(cli.NewExecuteCommand(ctx))
	rootCmd.AddCommand(cli.NewAttachCommand(ctx))
	rootCmd.AddCommand(cli.NewIPCommand(ctx))
	rootCmd.AddCommand(cli.NewCloneCommand(ctx))
	rootCmd.AddCommand(cli.NewEphemeralCommand(ctx, &opts.ConfigFile))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
}
