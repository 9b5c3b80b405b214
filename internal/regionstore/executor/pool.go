// Package executor provides the two fixed-size worker pools the region
// store dispatches tile fetches onto: a larger pool for remote/slow
// servers and a smaller one for local/generating servers.
package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size goroutine worker pool. Submit never blocks the
// caller: tasks queue internally up to the pool's buffer and are picked
// up by whichever worker is free. If the buffer is full, or the pool has
// been shut down, Submit is a non-blocking no-op that reports false.
type Pool struct {
	tasks  chan func()
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New starts a Pool with size worker goroutines.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan func(), size*4),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues task for execution. It returns false without running
// task, and without blocking, if the pool has already been shut down or
// its queue buffer is currently full. Callers are expected to treat a
// false return the same way they would treat rejection: undo whatever
// bookkeeping assumed the task would run, and retry later if they want
// the work done at all.
func (p *Pool) Submit(task func()) (ok bool) {
	if p.closed.Load() {
		return false
	}
	// Guard against a race between the closed check above and Shutdown
	// closing the channel concurrently: recover from a send-on-closed-
	// channel panic and report failure instead.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	return p.closed.Load()
}

// Shutdown stops accepting new work and waits for queued and in-flight
// tasks to finish, or for ctx to be done, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.tasks)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.wg.Wait()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemotePoolSize returns the configured size of the remote (slow-source)
// pool: clamp(NumCPU*4, 8, 32).
func RemotePoolSize() int {
	n := runtime.NumCPU() * 4
	if n < 8 {
		return 8
	}
	if n > 32 {
		return 32
	}
	return n
}

// LocalPoolSize returns the configured size of the local (generating
// server) pool: NumCPU.
func LocalPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
