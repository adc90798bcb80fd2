// Package ephemeral builds throwaway containers: a union mount of an
// existing container's rootfs under a scratch layer, torn down again when
// the container stops.
package ephemeral

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/identity"
	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

// DefaultTmpDir holds overlay layers, images and mount points.
const DefaultTmpDir = "/tmp/lxc/ephemerals"

// Options describe one ephemeral container.
type Options struct {
	Original string
	// LXCDir is the container store. Empty uses the container base path.
	LXCDir string
	TmpDir string

	// DeviceSizeMB backs the scratch layer with an image of this size.
	// Zero uses a tmpfs.
	DeviceSizeMB int
	// Directory uses a plain directory as the scratch layer, under
	// DirectoryPath or TmpDir.
	Directory     bool
	DirectoryPath string

	Union storage.Union
	// Bind is a host directory bound read-write at the same path.
	Bind       string
	Networking identity.Networking

	// Command runs in the container once it is up; the session ends when
	// it returns.
	Command string

	// Announce is called once a container without a Command is running.
	Announce func(ctx context.Context, s *Session)
}

// Deps are the collaborators a session works through.
type Deps struct {
	Runner           system.Runner
	Storage          *storage.Manager
	Container        container.Config
	ContainerOptions []container.Option

	// Spawn starts a fully detached process. Nil uses spawnDetached.
	Spawn func(name string, args ...string) error
	// Executable is re-run for background sessions. Empty uses
	// os.Executable.
	Executable string
	// ExecutableArgs are passed before the run-manifest subcommand.
	ExecutableArgs []string
	// Sudo prefixes the detached wrapper script.
	Sudo []string
}

// Session is one ephemeral container and everything allocated for it.
type Session struct {
	deps     Deps
	opts     Options
	name     string
	hostname string
	path     string

	lxc     *container.Container
	upper   storage.Resource
	overlay storage.Resource
	binds   []storage.Resource

	handedOff bool
	token     *system.CleanupToken
	log       *logrus.Entry
}

func (o Options) withDefaults(cfg container.Config) (Options, error) {
	if o.Original == "" {
		return o, system.InvalidArgument("ephemeral container requires an original")
	}
	if o.LXCDir == "" {
		o.LXCDir = cfg.BasePath
	}
	if o.LXCDir == "" {
		o.LXCDir = container.DefaultConfig().BasePath
	}
	if o.TmpDir == "" {
		o.TmpDir = DefaultTmpDir
	}
	if o.Union == "" {
		o.Union = storage.UnionOverlayfs
	}
	if _, err := storage.ParseUnion(string(o.Union)); err != nil {
		return o, err
	}
	if o.DeviceSizeMB < 0 {
		return o, system.InvalidArgument("device size must not be negative: %d", o.DeviceSizeMB)
	}
	if o.Directory && o.DeviceSizeMB > 0 {
		return o, system.InvalidArgument("a directory overlay and a device overlay are mutually exclusive")
	}
	return o, nil
}

// New allocates a uniquely named container directory for a copy of
// opts.Original. Nothing else is built until Create.
func New(ctx context.Context, deps Deps, opts Options) (*Session, error) {
	opts, err := opts.withDefaults(deps.Container)
	if err != nil {
		return nil, err
	}
	deps.Container.BasePath = opts.LXCDir

	orig := container.New(opts.Original, deps.Runner, deps.Container, deps.ContainerOptions...)
	if !orig.Exists(ctx) {
		return nil, system.InvalidArgument("requested original container does not exist (%s)", opts.Original)
	}

	path, err := os.MkdirTemp(opts.LXCDir, opts.Original+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate container directory: %w", err)
	}
	if err := os.Chmod(path, 0755); err != nil {
		os.Remove(path)
		return nil, err
	}

	s := newSession(deps, opts, path)
	s.log.WithField("path", path).Debug("allocated ephemeral container")
	return s, nil
}

func newSession(deps Deps, opts Options, path string) *Session {
	name := filepath.Base(path)
	s := &Session{
		deps:     deps,
		opts:     opts,
		name:     name,
		hostname: identity.SanitizeHostname(name),
		path:     path,
		lxc:      container.New(name, deps.Runner, deps.Container, deps.ContainerOptions...),
		log: logrus.WithFields(logrus.Fields{
			"source":    "ephemeral",
			"container": name,
		}),
	}
	s.token = system.NewCleanupToken(s.cleanup)
	return s
}

// Name is the generated container name.
func (s *Session) Name() string { return s.name }

// Hostname is Name with hostname-invalid characters removed.
func (s *Session) Hostname() string { return s.hostname }

// Path is the container directory.
func (s *Session) Path() string { return s.path }

// Rootfs is where the union mount appears.
func (s *Session) Rootfs() string { return filepath.Join(s.path, "rootfs") }

// Container returns the handle of the ephemeral container.
func (s *Session) Container() *container.Container { return s.lxc }

// Upper is the scratch layer, nil before Create.
func (s *Session) Upper() storage.Resource { return s.upper }

// Overlay is the union mount, nil before Create.
func (s *Session) Overlay() storage.Resource { return s.overlay }

// Binds are the scratch devices behind rewritten bind mounts.
func (s *Session) Binds() []storage.Resource { return s.binds }

// Token guards the session teardown. Bind it to every exit path; it runs
// at most once.
func (s *Session) Token() *system.CleanupToken { return s.token }

// Cleanup tears the session down. Only the first call does any work.
func (s *Session) Cleanup() error {
	return s.token.Fire()
}

func (s *Session) stopTimeout() time.Duration {
	if d := s.deps.Container.ShutdownTimeout; d > 0 {
		return d
	}
	return container.DefaultConfig().ShutdownTimeout
}

// cleanup releases resources in reverse order of acquisition. Each step
// runs even when an earlier one fails.
func (s *Session) cleanup() error {
	if s.handedOff {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
	defer cancel()

	var result *multierror.Error
	if s.lxc.Running(ctx) {
		if err := s.lxc.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop %s: %w", s.name, err))
		}
	}
	if s.overlay != nil {
		if err := s.overlay.Unmount(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, b := range s.binds {
		if err := b.Destroy(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.upper != nil {
		if err := s.upper.Destroy(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	switch {
	case system.PathDepth(s.path) < 2:
		s.log.WithField("path", s.path).Error("This path seems bad and will not be removed")
		result = multierror.Append(result, fmt.Errorf("%w: %s", system.ErrUnsafePath, s.path))
	case s.overlay != nil && s.deps.Storage.Mounted(s.overlay.TargetPath()):
		s.log.WithField("path", s.path).Error("overlay is still mounted, container directory kept")
		result = multierror.Append(result, system.InvalidState("overlay still mounted on %s", s.overlay.TargetPath()))
	default:
		if err := s.deps.Storage.RemoveAll(ctx, s.path); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to remove %s: %w", s.path, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	s.log.Debug("ephemeral container cleaned up")
	return nil
}
