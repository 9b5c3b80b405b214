package regionstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// workerState is the explicit lifecycle of a TileWorker, since Go has no
// Future type of its own to carry this implicitly.
type workerState int32

const (
	workerQueued workerState = iota
	workerRunning
	workerDone
	workerCancelled
)

// TileWorker is a one-shot, cancellable task that reads a single region
// from an ImageServer and reports the result back to the store that
// created it.
type TileWorker[T any] struct {
	store   *Store[T]
	server  ImageServer[T]
	request RegionRequest

	state atomic.Int32

	mu     sync.Mutex
	result T
	err    error
	done   chan struct{}

	cancel context.CancelFunc
	ctx    context.Context
}

func newTileWorker[T any](store *Store[T], server ImageServer[T], request RegionRequest) *TileWorker[T] {
	ctx, cancel := context.WithCancel(context.Background())
	w := &TileWorker[T]{
		store:   store,
		server:  server,
		request: request,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.state.Store(int32(workerQueued))
	return w
}

// Request returns the RegionRequest this worker is fetching.
func (w *TileWorker[T]) Request() RegionRequest {
	return w.request
}

// IsCancelled reports whether Cancel has been called.
func (w *TileWorker[T]) IsCancelled() bool {
	return workerState(w.state.Load()) == workerCancelled
}

// IsDone reports whether the worker has finished, successfully or not.
func (w *TileWorker[T]) IsDone() bool {
	s := workerState(w.state.Load())
	return s == workerDone || s == workerCancelled
}

// Cancel requests that the worker's run end (if it hasn't already) and
// that its result, if any, be discarded. Safe to call more than once and
// from any goroutine.
func (w *TileWorker[T]) Cancel() {
	for {
		s := workerState(w.state.Load())
		if s == workerDone || s == workerCancelled {
			return
		}
		if w.state.CompareAndSwap(int32(s), int32(workerCancelled)) {
			w.cancel()
			// If nobody is going to call run() anymore (it never got
			// scheduled, or run() already checked state before this
			// CAS lost the race), make sure done channel closes so any
			// waiter unblocks.
			w.finishOnce()
			return
		}
	}
}

// finishOnce closes the done channel exactly once. Used both by Cancel
// (when a worker is cancelled before or during run) and by run's own
// completion path.
func (w *TileWorker[T]) finishOnce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		// already closed
	default:
		close(w.done)
	}
}

// run executes the worker body. It is submitted to one of the store's
// executor pools; workerComplete is always invoked afterward, however run
// ends.
func (w *TileWorker[T]) run() {
	if !w.state.CompareAndSwap(int32(workerQueued), int32(workerRunning)) {
		// Already cancelled before it got a chance to run.
		w.store.workerComplete(w)
		return
	}

	// Re-check the cache: a concurrent insertion (e.g. from a different
	// caller's direct fetch) may have filled it already.
	if tile, ok := w.store.cache.Get(w.request); ok {
		w.finishWith(tile, nil)
		w.store.workerComplete(w)
		return
	}

	tile, err := w.server.ReadRegion(w.ctx, w.request)
	if err != nil {
		if errors.Is(err, ErrNoTile) {
			w.store.log.Debug("no tile for request",
				zap.Stringer("request", w.request))
		} else {
			w.store.log.Warn("tile request exception",
				zap.Stringer("request", w.request), zap.Error(err))
		}
		w.finishWith(tile, err)
		w.store.workerComplete(w)
		return
	}

	w.finishWith(tile, nil)
	w.store.workerComplete(w)
}

func (w *TileWorker[T]) finishWith(tile T, err error) {
	w.mu.Lock()
	w.result = tile
	w.err = err
	w.mu.Unlock()
	w.state.CompareAndSwap(int32(workerRunning), int32(workerDone))
	w.finishOnce()
}

// Wait blocks until the worker completes or ctx is done, then returns its
// result. If the worker was cancelled, tile is the zero value and err is
// ErrCancelled.
func (w *TileWorker[T]) Wait(ctx context.Context) (tile T, err error) {
	select {
	case <-w.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.IsCancelled() {
		var zero T
		return zero, ErrCancelled
	}
	return w.result, w.err
}
