package regionstore

import (
	"sort"

	"golang.org/x/sync/semaphore"
)

// tileRequestManager is the priority scheduler over active prefetch
// collections. It holds at most nThreads concurrently-running prefetch
// workers, always preferring the collection closest to the current focal
// plane and, within a Z-band, the oldest registration. It carries no lock
// of its own: every method is only ever called while the owning Store
// already holds its façade mutex.
type tileRequestManager[T any] struct {
	store *Store[T]

	collections []*tileRequestCollection[T]

	nThreads    int
	busyThreads int

	// budget bounds concurrently-dispatched prefetch workers to nThreads.
	// It is redundant with busyThreads under the façade mutex that
	// serialises every manager call, but keeping the budget as a
	// semaphore (rather than only a counter) means the invariant
	// busyThreads <= nThreads is enforced by a primitive built for
	// exactly this purpose, not just by careful bookkeeping.
	budget *semaphore.Weighted

	// requestedWorkers tracks only the workers this manager dispatched;
	// every entry here also has an entry in the store's waiting map, but
	// not every waiting-map entry was dispatched by this manager (direct
	// RequestTile callers add their own).
	requestedWorkers map[RegionRequest]*TileWorker[T]
}

func newTileRequestManager[T any](store *Store[T], nThreads int) *tileRequestManager[T] {
	if nThreads < 1 {
		nThreads = 1
	}
	return &tileRequestManager[T]{
		store:            store,
		nThreads:         nThreads,
		budget:           semaphore.NewWeighted(int64(nThreads)),
		requestedWorkers: make(map[RegionRequest]*TileWorker[T]),
	}
}

// registerRequest replaces any existing collection for listener, unless the
// new registration is identical to the one already in place, in which case
// it is a no-op: re-registering the same view shouldn't restart its
// prefetch progress from scratch.
func (m *tileRequestManager[T]) registerRequest(listener TileListener[T], server ImageServer[T], clip Shape, downsample float64, z, t int) {
	for i, c := range m.collections {
		if sameListener(c.listener, listener) {
			if c.sameRegistration(clip, downsample, z, t) {
				return
			}
			m.collections = append(m.collections[:i], m.collections[i+1:]...)
			break
		}
	}

	collection := newTileRequestCollection[T](
		listener, server, clip, downsample, z, t,
		m.store.maxZSeparation, m.store.now(), m.store.tileGeometry,
	)
	m.collections = append(m.collections, collection)
	m.sort()
	m.assignTasks()
}

// deregisterRequest drops any collection belonging to listener.
func (m *tileRequestManager[T]) deregisterRequest(listener TileListener[T]) {
	out := m.collections[:0]
	for _, c := range m.collections {
		if !sameListener(c.listener, listener) {
			out = append(out, c)
		}
	}
	m.collections = out
}

func sameListener[T any](a, b TileListener[T]) bool {
	return a == b
}

// sort reorders collections by zSeparation ascending, then timestamp
// ascending within the same z-band, matching TileRequestComparator.
func (m *tileRequestManager[T]) sort() {
	sort.SliceStable(m.collections, func(i, j int) bool {
		a, b := m.collections[i], m.collections[j]
		if a.zSeparation != b.zSeparation {
			return a.zSeparation < b.zSeparation
		}
		return a.timestamp < b.timestamp
	})
}

// assignTasks dispatches prefetch workers for the highest-priority
// collections until busyThreads reaches nThreads or no collection has any
// pending request left.
func (m *tileRequestManager[T]) assignTasks() {
	for len(m.collections) > 0 && m.busyThreads < m.nThreads {
		c := m.collections[0]
		if !c.HasMoreTiles() {
			m.collections = m.collections[1:]
			continue
		}
		request := c.NextTileRequest()
		if m.store.cache.Contains(request) {
			continue
		}
		if _, waiting := m.store.waitingMap[request]; waiting {
			continue
		}
		if !m.budget.TryAcquire(1) {
			break
		}

		worker := newTileWorker(m.store, c.server, request)
		m.store.waitingMap[request] = worker
		m.store.workers = append(m.store.workers, worker)
		m.requestedWorkers[request] = worker
		m.busyThreads++

		pool := m.store.poolFor(c.server)
		if !pool.Submit(worker.run) {
			// Pool already shut down, or its queue buffer is full: undo
			// the bookkeeping as if the worker had never been created.
			delete(m.store.waitingMap, request)
			delete(m.requestedWorkers, request)
			m.busyThreads--
			m.budget.Release(1)
			m.store.removeWorkerLocked(worker)
		}
	}
	m.sort()
}

// taskCompleted is called by Store.workerComplete for every finished
// worker, regardless of whether the manager dispatched it. Workers the
// manager never scheduled (direct RequestTile callers) don't affect
// busyThreads or the budget.
func (m *tileRequestManager[T]) taskCompleted(worker *TileWorker[T]) {
	if _, ok := m.requestedWorkers[worker.Request()]; !ok {
		return
	}
	delete(m.requestedWorkers, worker.Request())
	m.busyThreads--
	m.budget.Release(1)
	m.sort()
	m.assignTasks()
}
