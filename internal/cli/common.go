package cli

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/nace/lxkit/internal/config"
	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/ephemeral"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
	"github.com/nace/lxkit/internal/ui"
)

// lxcTools are needed by every container operation.
var lxcTools = []string{
	"lxc-ls",
	"lxc-info",
	"lxc-start",
	"lxc-stop",
}

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Settings  config.Settings
	Executor  *system.Executor
	Logger    *ui.Logger
	Storage   *storage.Manager
	Discovery *container.Discovery
}

// Options are the global flag values.
type Options struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
	NoColor    bool
	Debug      bool
}

// NewGlobalContext loads the settings and builds the shared components.
func NewGlobalContext(opts Options, flags *pflag.FlagSet) (*GlobalContext, error) {
	ui.SetupLogging(opts.Verbose || opts.Debug, opts.Quiet, opts.NoColor)
	logger := ui.NewLogger(opts.Verbose, opts.Quiet, opts.NoColor)

	settings, err := config.Load(opts.ConfigFile, flags)
	if err != nil {
		return nil, err
	}
	if settings.File != "" {
		logger.Debug("Using config file %s", settings.File)
	}

	executor := system.NewExecutor(opts.Debug,
		system.WithSudo(settings.Sudo),
		system.WithTimeout(settings.CommandTimeout),
	)
	mgr := storage.NewManager(executor, storage.HostMounts{})

	return &GlobalContext{
		Settings:  settings,
		Executor:  executor,
		Logger:    logger,
		Storage:   mgr,
		Discovery: container.NewDiscovery(executor),
	}, nil
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies(extra ...string) error {
	return ctx.Executor.CheckDependencies(append(append([]string{}, lxcTools...), extra...))
}

// RequireRoot ensures the command runs as root. With a sudo prefix
// configured, an unprivileged invocation is re-executed through it, so
// every file the command writes is written as root.
func (ctx *GlobalContext) RequireRoot() error {
	if system.IsRoot() || ctx.Settings.Sudo == "" {
		return system.RequireRoot()
	}
	ctx.Logger.Debug("Re-running through %s", ctx.Settings.Sudo)
	return system.Elevate(ctx.Settings.Sudo)
}

// Container returns a handle for name.
func (ctx *GlobalContext) Container(name string) *container.Container {
	return container.New(name, ctx.Executor, ctx.Settings.Container())
}

// EphemeralDeps wires the ephemeral orchestrator to the host.
func (ctx *GlobalContext) EphemeralDeps(configFile string) ephemeral.Deps {
	var args []string
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	if ctx.Settings.Sudo != "" {
		args = append(args, "--sudo", ctx.Settings.Sudo)
	}
	return ephemeral.Deps{
		Runner:         ctx.Executor,
		Storage:        ctx.Storage,
		Container:      ctx.Settings.Container(),
		ExecutableArgs: args,
		Sudo:           strings.Fields(ctx.Settings.Sudo),
	}
}

// withSignals cancels the returned context on TERM, INT or QUIT with a
// *system.SignalError cause.
func withSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	release := system.TrapSignals(func(sig os.Signal) {
		cancel(&system.SignalError{Signal: sig})
	})
	return ctx, func() {
		release()
		cancel(nil)
	}
}

// interrupted prefers the signal that cancelled ctx over err.
func interrupted(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var sigErr *system.SignalError
	if errors.As(context.Cause(ctx), &sigErr) {
		return sigErr
	}
	return err
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var sigErr *system.SignalError
	if errors.As(err, &sigErr) {
		return sigErr.ExitCode()
	}
	return 1
}
