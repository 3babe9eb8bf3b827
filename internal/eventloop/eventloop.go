// Package eventloop provides the single-threaded task loop each worker
// instance runs on.
package eventloop

import (
	"context"
	"sync"
	"time"

	"github.com/cryguy/swkit/internal/core"
)

// EventLoop runs posted tasks one at a time, in order, on the goroutine
// that called Run. Background jobs started with Go run concurrently but are
// counted as pending until they return, which is how waitUntil-style work
// (a stale-while-revalidate refresh) stays observable.
type EventLoop struct {
	mu        sync.Mutex
	tasks     []func()
	executing bool
	jobs      int
	closed    bool
	wake      chan struct{}
	done      chan struct{}
}

// New creates a new EventLoop. Tasks only run once Run is called.
func New() *EventLoop {
	return &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues task to run on the loop goroutine.
func (el *EventLoop) Post(task func()) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return core.ErrClosed
	}
	el.tasks = append(el.tasks, task)
	el.mu.Unlock()

	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// Go runs job on its own goroutine and tracks it until it returns.
func (el *EventLoop) Go(job func()) {
	el.mu.Lock()
	el.jobs++
	el.mu.Unlock()

	go func() {
		defer func() {
			el.mu.Lock()
			el.jobs--
			el.mu.Unlock()
		}()
		job()
	}()
}

// Run processes tasks until ctx is done or Close is called.
func (el *EventLoop) Run(ctx context.Context) {
	for {
		el.mu.Lock()
		if len(el.tasks) == 0 {
			closed := el.closed
			el.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-el.wake:
				continue
			case <-el.done:
				continue
			case <-ctx.Done():
				return
			}
		}
		task := el.tasks[0]
		el.tasks = el.tasks[1:]
		el.executing = true
		el.mu.Unlock()

		task()

		el.mu.Lock()
		el.executing = false
		el.mu.Unlock()
	}
}

// HasPending returns true while tasks are queued or executing, or
// background jobs are still running.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.tasks) > 0 || el.executing || el.jobs > 0
}

// Drain blocks until nothing is pending or ctx is done.
func (el *EventLoop) Drain(ctx context.Context) error {
	for el.HasPending() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Close stops accepting tasks. Run returns once queued tasks are done.
func (el *EventLoop) Close() {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.closed {
		return
	}
	el.closed = true
	close(el.done)
}
