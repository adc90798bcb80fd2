package container

import (
	"context"
	"time"
)

// WaitOptions bounds a wait. A zero Timeout waits until the state is
// reached or the context ends.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// WaitFor polls probe until it returns one of states or the timeout
// elapses. Reaching the timeout is not an error; the caller re-checks the
// state to decide what to do. Only a cancelled context fails the wait.
func WaitFor(ctx context.Context, probe func(context.Context) State, states []State, opts WaitOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	start := time.Now()
	for {
		if hasState(states, probe(ctx)) {
			return nil
		}
		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			return nil
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitForState polls the container until it reaches one of states.
func (c *Container) WaitForState(ctx context.Context, states []State, opts WaitOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = c.cfg.PollInterval
	}
	err := WaitFor(ctx, c.State, states, opts)
	if err == nil && opts.Timeout > 0 {
		c.log.WithField("states", states).Debug("wait finished")
	}
	return err
}

func hasState(states []State, s State) bool {
	for _, want := range states {
		if want == s {
			return true
		}
	}
	return false
}
