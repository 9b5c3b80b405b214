package regionstore

import (
	"container/list"
	"math"
	"sync"

	"go.uber.org/zap"
)

// cacheEntry carries its own pre-computed weight alongside the key/value
// pair so eviction doesn't need to re-invoke the weigher.
type cacheEntry[T any] struct {
	key    RegionRequest
	value  T
	weight int64
}

// tileCache is a weight-bounded, generic, concurrency-safe LRU cache keyed
// by RegionRequest: entries are evicted oldest-first whenever the
// aggregate weight of cached tiles exceeds maxWeight. There is no separate
// memory-pressure signal — eviction is driven purely by the weight bound.
type tileCache[T any] struct {
	mu         sync.Mutex
	items      map[RegionRequest]*list.Element
	lruList    *list.List
	maxWeight  int64
	curWeight  int64
	sizer      SizeEstimator[T]
	log        *zap.Logger
}

func newTileCache[T any](cacheSizeBytes int64, sizer SizeEstimator[T], log *zap.Logger) *tileCache[T] {
	maxWeight := cacheSizeBytes / 1024
	if maxWeight < 1 {
		maxWeight = 1
	}
	return &tileCache[T]{
		items:     make(map[RegionRequest]*list.Element),
		lruList:   list.New(),
		maxWeight: maxWeight,
		sizer:     sizer,
		log:       log,
	}
}

// weigh converts a tile's estimated byte size into the cache's weight
// unit: divided by 1024, never zero for a real tile, and clamped to
// math.MaxInt32 so a single pathological tile can't overflow the running
// weight total.
func (c *tileCache[T]) weigh(tile T) int64 {
	size := c.sizer(tile)
	w := size / 1024
	if w < 1 {
		w = 1
	}
	if w > math.MaxInt32 {
		w = math.MaxInt32
	}
	return w
}

// Get returns the cached tile for key, if any, and promotes it to
// most-recently-used.
func (c *tileCache[T]) Get(key RegionRequest) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	c.lruList.MoveToFront(elem)
	return elem.Value.(*cacheEntry[T]).value, true
}

// Contains reports whether key is present, without affecting LRU order.
func (c *tileCache[T]) Contains(key RegionRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put inserts tile under key, evicting least-recently-used entries as
// needed to stay within maxWeight. A tile whose own weight exceeds
// maxWeight is still inserted (after evicting everything else); it will
// simply be the next eviction candidate rather than being rejected.
func (c *tileCache[T]) Put(key RegionRequest, tile T) {
	weight := c.weigh(tile)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*cacheEntry[T])
		c.curWeight += weight - old.weight
		old.value = tile
		old.weight = weight
		c.lruList.MoveToFront(elem)
		c.evictLocked()
		return
	}

	ent := &cacheEntry[T]{key: key, value: tile, weight: weight}
	elem := c.lruList.PushFront(ent)
	c.items[key] = elem
	c.curWeight += weight
	c.evictLocked()
}

// evictLocked drops least-recently-used entries until curWeight <=
// maxWeight, or until only one entry remains (to guarantee progress for
// a cache holding a single oversized tile).
func (c *tileCache[T]) evictLocked() {
	for c.curWeight > c.maxWeight && c.lruList.Len() > 1 {
		oldest := c.lruList.Back()
		if oldest == nil {
			return
		}
		ent := oldest.Value.(*cacheEntry[T])
		c.lruList.Remove(oldest)
		delete(c.items, ent.key)
		c.curWeight -= ent.weight
		if c.log != nil {
			c.log.Debug("cached tile evicted", zap.Stringer("request", ent.key), zap.Int64("cache_weight", c.curWeight))
		}
	}
}

// Remove deletes key, if present, and reports whether it was found.
func (c *tileCache[T]) Remove(key RegionRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	ent := elem.Value.(*cacheEntry[T])
	c.lruList.Remove(elem)
	delete(c.items, key)
	c.curWeight -= ent.weight
	return true
}

// RemoveIf removes every entry for which pred returns true. Holds the lock
// for the whole scan: a partial eviction under a released-and-reacquired
// lock could leave the LRU list and the weight total inconsistent with
// each other.
func (c *tileCache[T]) RemoveIf(pred func(RegionRequest) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if pred(key) {
			ent := elem.Value.(*cacheEntry[T])
			c.lruList.Remove(elem)
			delete(c.items, key)
			c.curWeight -= ent.weight
		}
	}
}

// Clear empties the cache.
func (c *tileCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[RegionRequest]*list.Element)
	c.lruList = list.New()
	c.curWeight = 0
}

// Len returns the number of cached entries.
func (c *tileCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// TotalWeight returns the current aggregate weight of all cached entries.
func (c *tileCache[T]) TotalWeight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curWeight
}

// Snapshot returns a shallow copy of every cached (key, value) pair whose
// key satisfies pred. Used by GetCachedTilesForServer-equivalent callers.
func (c *tileCache[T]) Snapshot(pred func(RegionRequest) bool) map[RegionRequest]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[RegionRequest]T)
	for key, elem := range c.items {
		if pred == nil || pred(key) {
			out[key] = elem.Value.(*cacheEntry[T]).value
		}
	}
	return out
}
