// Package regionstore implements a shared, memory-bounded cache of
// rendered image tiles for a multi-resolution whole-slide-imaging viewer,
// with request deduplication, spatial/Z-stack prefetch scheduling, and
// two-pool asynchronous execution, generalized to any tile representation
// T.
package regionstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qupath-go/regionstore/internal/regionstore/executor"
)

const (
	defaultMaxThumbnailSize = 1024
	defaultMinThumbnailSize = 16
	defaultMaxZSeparation   = 10
	defaultNThreads         = 10
)

// Options configures a Store at construction time. Zero-value fields fall
// back to sensible defaults.
type Options[T any] struct {
	// CacheSizeBytes is the maximum aggregate byte weight the tile cache
	// will hold (converted internally to the cache's 1024-byte weight
	// unit).
	CacheSizeBytes int64

	// SizeEstimator approximates the byte weight of a tile.
	SizeEstimator SizeEstimator[T]

	// TileGeometry enumerates tile-aligned requests covering a clip
	// shape. Required: there is no in-package default, because the only
	// implementation (package tilegeom) necessarily imports this
	// package for its types, so it cannot be imported back here without
	// a cycle. Pass tilegeom.GetTilesToRequest unless a caller has its
	// own tiling scheme.
	TileGeometry TileGeometry[T]

	MaxThumbnailSize int
	MinThumbnailSize int
	MaxZSeparation   int
	NThreads         int

	RemotePoolSize int
	LocalPoolSize  int

	Logger *zap.Logger

	// now, if set, replaces time.Now for collection timestamps. Exposed
	// only for deterministic tests (see DESIGN.md Open Question
	// O-Clock); nil uses the real clock.
	now func() int64
}

// Store is the façade external collaborators see: thumbnails, synchronous
// cache lookup, visible-area prefetch registration, listener subscription,
// selective and full clearing, and teardown. It owns the cache, the
// waiting map, both executor pools, the prefetch manager, and every
// collection and worker it has scheduled.
type Store[T any] struct {
	mu sync.Mutex

	cache *tileCache[T]

	// waitingMap is RegionRequest -> currently in-flight TileWorker,
	// guarded by mu (not an independent concurrent map): the façade must
	// be able to touch the cache and the waiting map together atomically
	// whenever consistency between the two matters.
	waitingMap map[RegionRequest]*TileWorker[T]

	// workers is every TileWorker the store has created and not yet
	// forgotten.
	workers []*TileWorker[T]

	tileListeners []TileListener[T]
	listenersMu   sync.Mutex

	manager *tileRequestManager[T]

	remotePool *executor.Pool
	localPool  *executor.Pool

	tileGeometry     TileGeometry[T]
	sizeEstimator    SizeEstimator[T]
	maxThumbnailSize int
	minThumbnailSize int
	maxZSeparation   int

	clearingCache bool
	closed        bool

	log *zap.Logger

	clock func() int64
}

// New constructs a Store. SizeEstimator, TileGeometry (New panics if it is
// nil) and a positive CacheSizeBytes are required; every other option has
// a sensible default.
func New[T any](opts Options[T]) *Store[T] {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxThumbnailSize <= 0 {
		opts.MaxThumbnailSize = defaultMaxThumbnailSize
	}
	if opts.MinThumbnailSize <= 0 {
		opts.MinThumbnailSize = defaultMinThumbnailSize
	}
	if opts.MaxZSeparation <= 0 {
		opts.MaxZSeparation = defaultMaxZSeparation
	}
	if opts.NThreads <= 0 {
		opts.NThreads = defaultNThreads
	}
	if opts.RemotePoolSize <= 0 {
		opts.RemotePoolSize = executor.RemotePoolSize()
	}
	if opts.LocalPoolSize <= 0 {
		opts.LocalPoolSize = executor.LocalPoolSize()
	}
	if opts.TileGeometry == nil {
		panic("regionstore: Options.TileGeometry is required (pass tilegeom.GetTilesToRequest)")
	}

	clock := opts.now
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}

	s := &Store[T]{
		cache:            newTileCache[T](opts.CacheSizeBytes, opts.SizeEstimator, opts.Logger),
		waitingMap:       make(map[RegionRequest]*TileWorker[T]),
		remotePool:       executor.New(opts.RemotePoolSize),
		localPool:        executor.New(opts.LocalPoolSize),
		tileGeometry:     opts.TileGeometry,
		sizeEstimator:    opts.SizeEstimator,
		maxThumbnailSize: opts.MaxThumbnailSize,
		minThumbnailSize: opts.MinThumbnailSize,
		maxZSeparation:   opts.MaxZSeparation,
		log:              opts.Logger,
		clock:            clock,
	}
	s.manager = newTileRequestManager(s, opts.NThreads)
	return s
}

func (s *Store[T]) now() int64 { return s.clock() }

func (s *Store[T]) poolFor(server ImageServer[T]) *executor.Pool {
	if isGenerating(server) {
		return s.localPool
	}
	return s.remotePool
}

// GetCachedTile returns the cached tile for request, if any. It never
// schedules work.
func (s *Store[T]) GetCachedTile(server ImageServer[T], request RegionRequest) (T, bool) {
	return s.cache.Get(request)
}

// GetCachedThumbnail returns the cached thumbnail tile for (server, z, t),
// if any.
func (s *Store[T]) GetCachedThumbnail(server ImageServer[T], z, t int) (T, bool) {
	request := ThumbnailRequest(server, z, t, s.maxThumbnailSize, s.minThumbnailSize)
	return s.cache.Get(request)
}

// GetCachedTilesForServer returns every cached tile belonging to server.
func (s *Store[T]) GetCachedTilesForServer(server ImageServer[T]) map[RegionRequest]T {
	path := server.Path()
	return s.cache.Snapshot(func(r RegionRequest) bool { return r.ServerPath == path })
}

// tileOrWorker is the three-way result of requestImageTileLocked: a ready
// tile, a pending worker to wait on, or an error.
type tileOrWorker[T any] struct {
	tile     T
	haveTile bool
	worker   *TileWorker[T]
	err      error
}

// RequestTile is the façade's direct-dispatch entry point (distinct from
// RegisterRequest's prefetch scheduling): if request is already cached it
// is returned immediately; otherwise a worker is looked up or created and
// deduplicated through the waiting map exactly as RegisterRequest's
// prefetch workers are, but without going through the priority scheduler.
// ready reports whether tile is already valid; when false, the caller may
// either poll GetCachedTile later or use GetThumbnail instead if it needs
// to block for the result, since RequestTile itself never blocks. err is
// non-nil only if the store is closed (ErrClosed) or its executor pool
// refused the worker because it has shut down or its queue buffer is full
// (ErrPoolUnavailable).
//
// Workers started this way are not registered with the prefetch manager:
// direct RequestTile callers do not affect prefetch scheduling.
func (s *Store[T]) RequestTile(server ImageServer[T], request RegionRequest) (tile T, ready bool, err error) {
	s.mu.Lock()
	result := s.requestImageTileLocked(server, request)
	s.mu.Unlock()
	return result.tile, result.haveTile, result.err
}

// requestImageTileLocked is the single gateway that guarantees at most
// one live, non-cancelled worker per request. Callers must hold s.mu.
func (s *Store[T]) requestImageTileLocked(server ImageServer[T], request RegionRequest) tileOrWorker[T] {
	if s.closed {
		return tileOrWorker[T]{err: ErrClosed}
	}
	if tile, ok := s.cache.Get(request); ok {
		return tileOrWorker[T]{tile: tile, haveTile: true}
	}
	if server.IsEmptyRegion(request) {
		return tileOrWorker[T]{}
	}

	worker, waiting := s.waitingMap[request]
	if waiting && worker.IsCancelled() {
		s.removeWorkerLocked(worker)
		worker = nil
		waiting = false
	}
	if !waiting {
		worker = newTileWorker(s, server, request)
		s.workers = append(s.workers, worker)
		s.waitingMap[request] = worker
		pool := s.poolFor(server)
		if !pool.Submit(worker.run) {
			// Pool already shut down, or its queue buffer is full: undo
			// the bookkeeping as if the worker had never been created.
			delete(s.waitingMap, request)
			s.removeWorkerLocked(worker)
			return tileOrWorker[T]{err: ErrPoolUnavailable}
		}
	}
	return tileOrWorker[T]{worker: worker}
}

func (s *Store[T]) removeWorkerLocked(worker *TileWorker[T]) {
	for i, w := range s.workers {
		if w == worker {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
}

// stopWaitingLocked removes request from the waiting map and reports
// whether it was present. The clearingCache flag only changes the log
// level emitted, never the outcome.
func (s *Store[T]) stopWaitingLocked(request RegionRequest) bool {
	if _, ok := s.waitingMap[request]; !ok {
		return false
	}
	if s.clearingCache {
		s.log.Warn("stop waiting called while clearing cache", zap.Stringer("request", request))
	}
	delete(s.waitingMap, request)
	return true
}

// workerComplete is invoked by every TileWorker when it finishes, whether
// it succeeded, failed, or was cancelled.
func (s *Store[T]) workerComplete(worker *TileWorker[T]) {
	s.mu.Lock()

	s.removeWorkerLocked(worker)
	s.manager.taskCompleted(worker)

	if worker.IsCancelled() || !s.stopWaitingLocked(worker.Request()) {
		s.mu.Unlock()
		return
	}

	tile, err := worker.Wait(context.Background())
	s.mu.Unlock()

	// A failed read and a legitimate absence (ErrNoTile) are both
	// dropped here: neither gets cached, neither reaches a listener.
	if err != nil {
		return
	}
	request := worker.Request()
	s.cache.Put(request, tile)

	for _, listener := range s.listenersSnapshot() {
		listener.TileAvailable(request.ServerPath, request, tile)
	}
}

func (s *Store[T]) listenersSnapshot() []TileListener[T] {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	out := make([]TileListener[T], len(s.tileListeners))
	copy(out, s.tileListeners)
	return out
}

// AddTileListener registers listener to be notified when new tiles
// become available.
func (s *Store[T]) AddTileListener(listener TileListener[T]) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.tileListeners = append(s.tileListeners, listener)
}

// RemoveTileListener unregisters listener.
func (s *Store[T]) RemoveTileListener(listener TileListener[T]) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, l := range s.tileListeners {
		if sameListener(l, listener) {
			s.tileListeners = append(s.tileListeners[:i], s.tileListeners[i+1:]...)
			return
		}
	}
}

// RegisterRequest enqueues, or replaces, a prefetch collection for
// listener covering clipShape at downsampleFactor, z, t. It returns
// immediately; work happens asynchronously on the executor pools.
func (s *Store[T]) RegisterRequest(listener TileListener[T], server ImageServer[T], clipShape Shape, downsampleFactor float64, zPosition, tPosition int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.manager.registerRequest(listener, server, clipShape, downsampleFactor, zPosition, tPosition)
}

// DeregisterRequest drops any pending prefetch collection for listener.
func (s *Store[T]) DeregisterRequest(listener TileListener[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manager.deregisterRequest(listener)
}

// GetThumbnail returns the thumbnail tile for (server, z, t), blocking
// until it is available. If cached, it is returned immediately; else the
// in-flight worker (or a freshly started one) is awaited. If that worker
// fails or is cancelled, GetThumbnail falls back to a direct synchronous
// read on the server. This is the only façade entry that blocks, and the
// only one with a user-surfaced failure path.
//
// addToCache is accepted for API symmetry but has no differentiated
// effect here: a successful worker inserts its result into the cache via
// the normal completion path (which may finish just after GetThumbnail
// has returned the tile), and a fallback direct read is deliberately not
// cached, since it is a last resort rather than the normal path.
func (s *Store[T]) GetThumbnail(ctx context.Context, server ImageServer[T], zPosition, tPosition int, addToCache bool) (T, error) {
	request := ThumbnailRequest(server, zPosition, tPosition, s.maxThumbnailSize, s.minThumbnailSize)

	s.mu.Lock()
	result := s.requestImageTileLocked(server, request)
	s.mu.Unlock()

	if result.haveTile {
		return result.tile, nil
	}
	if result.worker == nil {
		var zero T
		return zero, result.err
	}

	s.log.Debug("thumbnail request", zap.String("server", server.Path()), zap.Int("z", zPosition), zap.Int("t", tPosition))

	tile, err := result.worker.Wait(ctx)
	if err == nil {
		return tile, nil
	}

	s.log.Warn("fallback to requesting thumbnail directly", zap.Error(err))
	tile, err = server.ReadRegion(ctx, request)
	if err != nil {
		s.log.Error("unable to obtain thumbnail", zap.Stringer("request", request), zap.Error(err))
		var zero T
		return zero, err
	}
	return tile, nil
}

// ClearCache empties the tile cache and, if stopWaiting is true, cancels
// every in-flight worker first.
func (s *Store[T]) ClearCache(stopWaiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearingCache = true
	defer func() { s.clearingCache = false }()

	if stopWaiting {
		for _, worker := range s.waitingMap {
			worker.Cancel()
		}
		s.waitingMap = make(map[RegionRequest]*TileWorker[T])
		s.workers = nil
	}
	s.cache.Clear()
}

// ClearCacheForServer removes every cache entry for server and cancels
// every waiting worker addressed to it.
func (s *Store[T]) ClearCacheForServer(server ImageServer[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearingCache = true
	defer func() { s.clearingCache = false }()

	path := server.Path()
	for request, worker := range s.waitingMap {
		if request.ServerPath == path {
			delete(s.waitingMap, request)
			worker.Cancel()
			s.removeWorkerLocked(worker)
		}
	}
	s.cache.RemoveIf(func(r RegionRequest) bool { return r.ServerPath == path })
}

// ClearCacheForRequestOverlap removes every cache entry overlapping
// request and cancels every waiting worker whose request overlaps it.
func (s *Store[T]) ClearCacheForRequestOverlap(request RegionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for other, worker := range s.waitingMap {
		if request.OverlapsRequest(other) {
			delete(s.waitingMap, other)
			worker.Cancel()
			s.removeWorkerLocked(worker)
		}
	}
	s.cache.RemoveIf(func(r RegionRequest) bool { return request.OverlapsRequest(r) })
}

// Close cancels every outstanding worker, shuts down both executor pools,
// and clears the cache. No operation on Store is valid afterwards.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	workers := append([]*TileWorker[T](nil), s.workers...)
	s.mu.Unlock()

	for _, worker := range workers {
		worker.Cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.remotePool.Shutdown(ctx)
	_ = s.localPool.Shutdown(ctx)

	s.cache.Clear()
	return nil
}

// Stats is a snapshot of store occupancy, useful for debug endpoints and
// tests.
type Stats struct {
	CacheEntries    int
	CacheWeight     int64
	WaitingRequests int
	BusyThreads     int
}

// Stats returns a point-in-time snapshot of the store's internal state.
func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	waiting := len(s.waitingMap)
	busy := s.manager.busyThreads
	s.mu.Unlock()
	return Stats{
		CacheEntries:    s.cache.Len(),
		CacheWeight:     s.cache.TotalWeight(),
		WaitingRequests: waiting,
		BusyThreads:     busy,
	}
}
