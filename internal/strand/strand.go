// Package strand provides a serial executor: tasks posted to a Strand run
// one at a time, in FIFO order, on a single goroutine. State touched only
// from inside a strand's tasks needs no locking.
package strand

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when posting to a stopped strand.
var ErrStopped = errors.New("strand stopped")

// Strand serializes tasks on one goroutine.
// The queue is unbounded, so Post never blocks and tasks may post to
// their own strand.
type Strand struct {
	name string

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New starts a strand.
func New(name string) *Strand {
	s := &Strand{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the strand's name.
func (s *Strand) Name() string {
	return s.name
}

func (s *Strand) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			<-s.wake
			continue
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, task := range batch {
			task()
		}
	}
}

func (s *Strand) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn.
func (s *Strand) Post(fn func()) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Call runs fn on the strand and waits for it to finish or ctx to end.
// If ctx ends first, fn still runs; only the wait is abandoned.
func (s *Strand) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := s.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further posts, runs the tasks already queued and waits for
// the goroutine to exit. Calling Stop from inside a task deadlocks.
func (s *Strand) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.signal()
	<-s.done
}

// Done is closed once the strand has exited.
func (s *Strand) Done() <-chan struct{} {
	return s.done
}
