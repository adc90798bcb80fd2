package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCommandTimeout bounds every command that does not set its own.
	DefaultCommandTimeout = 1200 * time.Second
	// DefaultRetryDelay is the fixed pause between command retries.
	DefaultRetryDelay = 300 * time.Millisecond
)

// Result is the captured outcome of one command invocation.
type Result interface {
	Stdout() string
	Stderr() string
	ExitCode() int
	Success() bool
}

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string

	// Sudo runs the command through the configured privilege prefix.
	Sudo bool
	// Timeout overrides the executor default when positive. A negative
	// timeout disables the bound entirely.
	Timeout time.Duration
	// Retries is the number of additional attempts after a failure.
	Retries int
	// AllowFailure turns a final failure into an unsuccessful Result
	// instead of an error.
	AllowFailure bool
	// LiveStream copies output to the terminal while capturing it.
	LiveStream bool
	Stdin      io.Reader
}

// String renders the command as a shell-like line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$`;&|<>*?()[]{}") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

// Runner executes commands. Executor is the host implementation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Output runs cmd and returns its stdout.
func Output(ctx context.Context, r Runner, cmd Command) (string, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout(), nil
}

type processResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func (r *processResult) Stdout() string { return r.stdout }
func (r *processResult) Stderr() string { return r.stderr }
func (r *processResult) ExitCode() int  { return r.exitCode }
func (r *processResult) Success() bool  { return r.exitCode == 0 }

// Executor handles execution of external commands
type Executor struct {
	sudo       []string
	debug      bool
	timeout    time.Duration
	retryDelay time.Duration
	log        *logrus.Entry
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithSudo sets the privilege prefix, e.g. "sudo" or "sudo -E".
func WithSudo(prefix string) ExecutorOption {
	return func(e *Executor) {
		e.sudo = strings.Fields(prefix)
	}
}

// WithTimeout sets the default command timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRetryDelay sets the pause between retries.
func WithRetryDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retryDelay = d
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(l *logrus.Entry) ExecutorOption {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor creates a new executor
func NewExecutor(debug bool, opts ...ExecutorOption) *Executor {
	e := &Executor{
		debug:      debug,
		timeout:    DefaultCommandTimeout,
		retryDelay: DefaultRetryDelay,
		log:        logrus.WithField("source", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd, retrying failures as requested.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	var res Result
	attempts := uint(cmd.Retries) + 1

	err := retry.Do(
		func() error {
			r, err := e.runOnce(ctx, cmd)
			res = r
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var ce *CommandError
			return errors.As(err, &ce)
		}),
		retry.OnRetry(func(n uint, err error) {
			e.log.WithError(err).Warnf("command failed, retrying (%d of %d retries remain)",
				attempts-n-1, cmd.Retries)
		}),
	)
	if err != nil {
		var ce *CommandError
		if cmd.AllowFailure && errors.As(err, &ce) {
			return ce.Result, nil
		}
		return res, err
	}
	return res, nil
}

func (e *Executor) argv(cmd Command) (string, []string) {
	if !cmd.Sudo || len(e.sudo) == 0 {
		return cmd.Name, cmd.Args
	}
	args := append([]string{}, e.sudo[1:]...)
	args = append(args, cmd.Name)
	args = append(args, cmd.Args...)
	return e.sudo[0], args
}

func (e *Executor) runOnce(ctx context.Context, cmd Command) (Result, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	name, args := e.argv(cmd)
	c := exec.CommandContext(runCtx, name, args...)
	c.Env = append(os.Environ(), "HOME="+detectHome())
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	if cmd.LiveStream {
		c.Stdout = io.MultiWriter(&stdout, os.Stdout)
		c.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	if e.debug {
		e.log.Debugf("Executing: %s", c.String())
	}

	err := c.Run()
	res := &processResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		exitCode: -1,
	}
	if c.ProcessState != nil {
		res.exitCode = c.ProcessState.ExitCode()
	}

	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	line := Command{Name: name, Args: args}.String()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &CommandError{Line: line, Result: res, Err: fmt.Errorf("after %s", timeout), TimedOut: true}
	}
	return res, &CommandError{Line: line, Result: res, Err: err}
}

// detectHome returns a usable HOME for child processes. sudo and init
// systems frequently leave it unset or relative.
func detectHome() string {
	if home := os.Getenv("HOME"); home != "" && filepath.IsAbs(home) {
		return home
	}
	if info, err := os.Stat("/root"); err == nil && info.IsDir() && IsRoot() {
		return "/root"
	}
	return "/tmp"
}

// CommandExists checks if a command is available in PATH
func (e *Executor) CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckDependencies verifies required commands are available
func (e *Executor) CheckDependencies(deps []string) error {
	var missing []string
	for _, dep := range deps {
		if !e.CommandExists(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s",
			strings.Join(missing, ", "))
	}
	return nil
}
