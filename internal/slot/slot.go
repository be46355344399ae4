// Package slot provides a depth-1 latest-wins mailbox.
package slot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Slot holds at most one pending value. Put overwrites an unconsumed value and
// counts it as dropped; Take consumes it. Latest always returns the last value
// put, consumed or not.
type Slot[T any] struct {
	mu      sync.Mutex
	pending bool
	value   T
	latest  T
	seen    bool
	notify  chan struct{}

	puts  atomic.Uint64
	drops atomic.Uint64
}

// New creates an empty slot.
func New[T any]() *Slot[T] {
	return &Slot[T]{notify: make(chan struct{}, 1)}
}

// Put stores v, replacing any unconsumed value.
func (s *Slot[T]) Put(v T) {
	s.mu.Lock()
	if s.pending {
		s.drops.Add(1)
	}
	s.value = v
	s.latest = v
	s.pending = true
	s.seen = true
	s.mu.Unlock()
	s.puts.Add(1)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Take returns the pending value and clears it.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.pending {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.pending = false
	return v, true
}

// Latest returns the most recent value put, without consuming it.
func (s *Slot[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.seen
}

// Wait blocks until a value is pending or the timeout expires, then takes it.
// A timeout is a normal "no data" outcome and returns false with a nil error.
func (s *Slot[T]) Wait(ctx context.Context, timeout time.Duration) (T, bool, error) {
	if v, ok := s.Take(); ok {
		return v, true, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		case <-timer.C:
			v, ok := s.Take()
			return v, ok, nil
		case <-s.notify:
			if v, ok := s.Take(); ok {
				return v, true, nil
			}
		}
	}
}

// Stats reports how many values were put and how many were overwritten unread.
func (s *Slot[T]) Stats() (puts, drops uint64) {
	return s.puts.Load(), s.drops.Load()
}
