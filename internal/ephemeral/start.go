package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/nace/lxkit/internal/container"
	"github.com/nace/lxkit/internal/system"
)

// Mode selects how Start runs the container.
type Mode int

const (
	// Foreground runs the container and tears it down when it stops,
	// holding the caller until then.
	Foreground Mode = iota
	// Background hands the session to a re-executed copy of this program
	// running in its own session. The child owns the teardown.
	Background
	// Detached hands the session to a generated shell script running in
	// its own session. The script owns the teardown.
	Detached
)

func (m Mode) String() string {
	switch m {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Guard traps termination signals for the lifetime of the returned
// context. A signal only cancels the context; the session is torn down by
// the goroutine that owns it, either on the failure path of the work in
// progress or by the release func. Release must be called from that
// goroutine once the guarded work is over.
func (s *Session) Guard(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	release := system.TrapSignals(func(sig os.Signal) {
		s.log.Warnf("received %s, cleaning up", sig)
		cancel(&system.SignalError{Signal: sig})
	})
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			release()
			var sigErr *system.SignalError
			if errors.As(context.Cause(ctx), &sigErr) && !s.handedOff {
				if err := s.Cleanup(); err != nil {
					s.log.WithError(err).Error("cleanup incomplete")
				}
			}
			cancel(nil)
		})
	}
}

// interrupted returns the cause of ctx once it is done.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// Start runs the container in the given mode. The session must have been
// created.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	if s.overlay == nil {
		return system.InvalidState("ephemeral container %s has not been created", s.name)
	}
	if mode == Foreground {
		ctx, release := s.Guard(ctx)
		defer release()
		return s.run(ctx)
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	switch mode {
	case Background:
		return s.startBackground()
	case Detached:
		return s.startDetached()
	default:
		return system.InvalidArgument("unknown start mode %d", int(mode))
	}
}

// run starts the container and waits for it to finish, then tears the
// session down whatever happened.
func (s *Session) run(ctx context.Context) (err error) {
	defer func() {
		cerr := s.Cleanup()
		if cause := context.Cause(ctx); cause != nil && err != nil {
			err = cause
		}
		if cerr == nil {
			return
		}
		if err == nil {
			err = cerr
			return
		}
		s.log.WithError(cerr).Error("cleanup incomplete")
	}()

	if err := s.lxc.Start(ctx, true); err != nil {
		return err
	}

	if s.opts.Command != "" {
		opts := container.DefaultExecOptions()
		opts.LiveStream = true
		_, err := s.lxc.ExecuteRunning(ctx, s.opts.Command, opts)
		return err
	}

	if s.opts.Announce != nil {
		s.opts.Announce(ctx, s)
	}
	return s.lxc.WaitForState(ctx, []container.State{container.StateStopped}, container.WaitOptions{})
}

func (s *Session) spawn(name string, args ...string) error {
	if s.deps.Spawn != nil {
		return s.deps.Spawn(name, args...)
	}
	return spawnDetached(name, args...)
}

// spawnDetached starts name in a new session with no ties to this
// process, so it survives our exit and our terminal.
func spawnDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return cmd.Process.Release()
}

func (s *Session) startBackground() error {
	manifest, err := s.WriteManifest()
	if err != nil {
		return err
	}
	self := s.deps.Executable
	if self == "" {
		if self, err = os.Executable(); err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
	}
	args := append(append([]string{}, s.deps.ExecutableArgs...), "ephemeral", "run-manifest", manifest)
	if err := s.spawn(self, args...); err != nil {
		return err
	}
	s.handedOff = true
	s.log.WithField("manifest", manifest).Info("ephemeral container handed to background runner")
	return nil
}

func (s *Session) startDetached() error {
	script, err := s.writeWrapper()
	if err != nil {
		return err
	}
	name, args := "/bin/bash", []string{script}
	if len(s.deps.Sudo) > 0 {
		name, args = s.deps.Sudo[0], append(append(append([]string{}, s.deps.Sudo[1:]...), "/bin/bash"), script)
	}
	if err := s.spawn(name, args...); err != nil {
		os.Remove(script)
		return err
	}
	s.handedOff = true
	s.log.WithField("wrapper", script).Info("ephemeral container handed to detached wrapper")
	return nil
}
