package host

import (
	"context"
	"errors"
	"sync"
)

// ErrHostClosed is returned when work is submitted after Close.
var ErrHostClosed = errors.New("host is closed")

// scheduler serializes work per aggregate id while letting different
// aggregates proceed in parallel. This is what upholds the engine's
// single-writer assumption inside one process.
type scheduler struct {
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup // in-flight submissions
	buffer  int
}

type worker struct {
	tasks chan *task
}

type task struct {
	fn   func() error
	done chan error
}

func newScheduler(buffer int) *scheduler {
	if buffer <= 0 {
		buffer = 64
	}
	return &scheduler{
		workers: make(map[string]*worker),
		buffer:  buffer,
	}
}

// do runs fn under the key's worker and blocks until it finishes. When the
// context is cancelled while waiting, an already enqueued task still runs;
// only the wait is abandoned.
func (s *scheduler) do(ctx context.Context, key string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrHostClosed
	}
	s.wg.Add(1)
	w, ok := s.workers[key]
	if !ok {
		w = &worker{tasks: make(chan *task, s.buffer)}
		s.workers[key] = w
		go w.run()
	}
	s.mu.Unlock()

	t := &task{fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.wg.Done()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		s.wg.Done()
		return err
	case <-ctx.Done():
		s.wg.Done()
		return ctx.Err()
	}
}

// close stops accepting work, waits for pending submissions to enqueue and
// lets queued tasks drain.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for _, w := range s.workers {
		close(w.tasks)
	}
	s.workers = nil
	s.mu.Unlock()
}

func (w *worker) run() {
	for t := range w.tasks {
		t.done <- t.fn()
	}
}
