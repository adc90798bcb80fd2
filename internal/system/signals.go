package system

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// TerminationSignals are the signals that must tear down any resources a
// session has allocated.
var TerminationSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}

// TrapSignals calls fn once for the first termination signal received.
// The returned release func stops the trap; it is safe to call repeatedly.
func TrapSignals(fn func(os.Signal)) (release func()) {
	ch := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(ch, TerminationSignals...)

	go func() {
		select {
		case sig := <-ch:
			fn(sig)
		case <-stop:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stop)
		})
	}
}

// SignalExitCode is the conventional shell exit status for a process
// terminated by sig.
func SignalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// SignalError reports that an operation was interrupted by a signal.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return "interrupted by " + e.Signal.String()
}

// ExitCode implements the exit status convention of SignalExitCode.
func (e *SignalError) ExitCode() int {
	return SignalExitCode(e.Signal)
}
