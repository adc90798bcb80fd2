// Package testutil provides in-memory stand-ins for the host so the
// orchestration packages can be tested without LXC or root.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/nace/lxkit/internal/system"
)

// Result is a canned command result.
type Result struct {
	Out  string
	Err  string
	Code int
}

func (r *Result) Stdout() string { return r.Out }
func (r *Result) Stderr() string { return r.Err }
func (r *Result) ExitCode() int  { return r.Code }
func (r *Result) Success() bool  { return r.Code == 0 }

// Handler produces the outcome of one matched command.
type Handler func(cmd system.Command) (system.Result, error)

// Output returns a handler that succeeds with stdout.
func Output(stdout string) Handler {
	return func(system.Command) (system.Result, error) {
		return &Result{Out: stdout}, nil
	}
}

// Fail returns a handler that exits with code and stderr.
func Fail(code int, stderr string) Handler {
	return func(system.Command) (system.Result, error) {
		return &Result{Err: stderr, Code: code}, nil
	}
}

type route struct {
	prefix  []string
	handler Handler
}

// FakeRunner records every command and answers from handlers registered
// by argv prefix. Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu     sync.Mutex
	routes []route
	calls  []system.Command
}

// NewFakeRunner creates an empty fake.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers h for commands whose argv starts with prefix. Later
// registrations win over earlier ones.
func (f *FakeRunner) On(prefix string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{prefix: strings.Fields(prefix), handler: h})
}

// OnOutput is shorthand for On(prefix, Output(stdout)).
func (f *FakeRunner) OnOutput(prefix, stdout string) {
	f.On(prefix, Output(stdout))
}

// Run implements system.Runner with the same retry and failure semantics
// as the host executor.
func (f *FakeRunner) Run(ctx context.Context, cmd system.Command) (system.Result, error) {
	var res system.Result
	var err error
	for attempt := 0; attempt <= cmd.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res, err = f.runOnce(cmd)
		if err == nil && res.Success() {
			return res, nil
		}
	}
	if err != nil {
		return res, err
	}
	if cmd.AllowFailure {
		return res, nil
	}
	return res, &system.CommandError{Line: cmd.String(), Result: res}
}

func (f *FakeRunner) runOnce(cmd system.Command) (system.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.match(argv(cmd))
	f.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	res, err := h(cmd)
	if res == nil {
		res = &Result{}
	}
	return res, err
}

func (f *FakeRunner) match(args []string) Handler {
	for i := len(f.routes) - 1; i >= 0; i-- {
		r := f.routes[i]
		if hasPrefix(args, r.prefix) {
			return r.handler
		}
	}
	return nil
}

// Calls returns every command run so far.
func (f *FakeRunner) Calls() []system.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]system.Command(nil), f.calls...)
}

// Lines returns the rendered command lines in call order.
func (f *FakeRunner) Lines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, c.String())
	}
	return lines
}

// Count returns how many commands matched prefix.
func (f *FakeRunner) Count(prefix string) int {
	want := strings.Fields(prefix)
	n := 0
	for _, c := range f.Calls() {
		if hasPrefix(argv(c), want) {
			n++
		}
	}
	return n
}

// Called reports whether any command matched prefix.
func (f *FakeRunner) Called(prefix string) bool {
	return f.Count(prefix) > 0
}

func argv(cmd system.Command) []string {
	return append([]string{cmd.Name}, cmd.Args...)
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if args[i] != prefix[i] {
			return false
		}
	}
	return true
}
