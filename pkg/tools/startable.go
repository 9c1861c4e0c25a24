package tools

import (
	"context"
	"sync"
)

// StartableToolSet starts its ToolSet at most once and stops it only if it
// was started. A failed start can be retried.
type StartableToolSet struct {
	ToolSet

	mu      sync.Mutex
	started bool
}

func NewStartable(ts ToolSet) *StartableToolSet {
	return &StartableToolSet{ToolSet: ts}
}

func (s *StartableToolSet) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start is safe to call concurrently; callers wait for the attempt in flight.
func (s *StartableToolSet) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if startable, ok := s.ToolSet.(Startable); ok {
		if err := startable.Start(ctx); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

func (s *StartableToolSet) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if startable, ok := s.ToolSet.(Startable); ok {
		return startable.Stop(ctx)
	}
	return nil
}

func (s *StartableToolSet) Unwrap() ToolSet {
	return s.ToolSet
}

// As asserts ts to T, looking through a StartableToolSet.
func As[T any](ts ToolSet) (T, bool) {
	if startable, ok := ts.(*StartableToolSet); ok {
		ts = startable.ToolSet
	}
	result, ok := ts.(T)
	return result, ok
}
