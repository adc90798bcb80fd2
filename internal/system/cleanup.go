package system

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// CleanupStack manages cleanup operations in reverse order (LIFO)
// This mimics bash trap cleanup behavior
type CleanupStack struct {
	cleanups []func() error
	mu       sync.Mutex
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{
		cleanups: make([]func() error, 0),
	}
}

// Add adds a cleanup function to the stack
func (s *CleanupStack) Add(cleanup func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup)
}

// Len reports how many cleanups are pending.
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}

// Execute runs all cleanup functions in reverse order (LIFO). Every
// function runs even if an earlier one fails. The stack is empty afterwards.
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.cleanups = nil

	return result.ErrorOrNil()
}

// Clear removes all cleanup functions (call on success to prevent cleanup)
func (s *CleanupStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = nil
}

// CleanupToken guards a cleanup function so that it runs exactly once no
// matter how many exit paths (normal return, error, signal) reach it.
type CleanupToken struct {
	once sync.Once
	fn   func() error
	err  error
	done chan struct{}
}

// NewCleanupToken wraps fn.
func NewCleanupToken(fn func() error) *CleanupToken {
	return &CleanupToken{fn: fn, done: make(chan struct{})}
}

// Fire runs the cleanup on the first call and returns its error to every
// caller. Concurrent callers block until the first run completes.
func (t *CleanupToken) Fire() error {
	t.once.Do(func() {
		defer close(t.done)
		t.err = t.fn()
	})
	return t.err
}

// Done is closed once the cleanup has finished.
func (t *CleanupToken) Done() <-chan struct{} {
	return t.done
}

// Fired reports whether the cleanup has already completed.
func (t *CleanupToken) Fired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
