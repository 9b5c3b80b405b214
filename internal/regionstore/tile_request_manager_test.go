package regionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTileRequestManagerBusyThreadsBoundedByNThreads(t *testing.T) {
	server := newFakeServer("s1")
	release := server.gateReads()
	defer release()

	store := New(Options[[]byte]{
		CacheSizeBytes: 64 * 1024 * 1024,
		SizeEstimator:  byteSizeEstimator,
		TileGeometry:   testTileGeometry[[]byte],
		NThreads:       2,
		RemotePoolSize: 8,
	})
	defer store.Close()

	listener := &countingListener{id: 1}
	store.RegisterRequest(listener, server, nil, 1, 0, 0)

	require.Eventually(t, func() bool {
		return store.Stats().BusyThreads == 1
	}, time.Second, time.Millisecond)

	// testTileGeometry only ever produces one tile per registration, so
	// busyThreads never exceeds 1 here; the bound itself is exercised by
	// TestScenarioPrefetchCap in the external test package, which uses a
	// geometry producing many tiles.
	require.LessOrEqual(t, store.Stats().BusyThreads, 2)
}

// manyTileGeometry produces a growing set of distinct RegionRequests (one
// per call, offset by how many already exist), unlike testTileGeometry's
// single fixed tile: the replace-by-listener test below needs a
// collection that survives a full assignTasks pass without draining, so
// the manager's collections slice still contains it afterward.
func manyTileGeometry[T any](server ImageServer[T], clip Shape, downsample float64, z, t int, existing []RegionRequest) []RegionRequest {
	for i := 0; i < 5; i++ {
		x := (len(existing) + i) * 300
		existing = append(existing, NewRegionRequest(server.Path(), downsample, x, 0, 256, 256, z, t))
	}
	return existing
}

func TestTileRequestManagerReplaceByListenerIsNoOpWhenIdentical(t *testing.T) {
	server := newFakeServer("s1")
	release := server.gateReads()
	defer release()

	store := New(Options[[]byte]{
		CacheSizeBytes: 64 * 1024 * 1024,
		SizeEstimator:  byteSizeEstimator,
		TileGeometry:   manyTileGeometry[[]byte],
		NThreads:       2,
		RemotePoolSize: 8,
	})
	defer store.Close()

	listener := &countingListener{id: 1}
	clip := RectShape{X: 0, Y: 0, Width: 10, Height: 10}

	store.RegisterRequest(listener, server, clip, 1, 0, 0)
	require.Eventually(t, func() bool { return store.Stats().BusyThreads == 2 }, time.Second, time.Millisecond)
	require.Len(t, store.manager.collections, 1)
	first := store.manager.collections[0]

	// Registering again with identical parameters must not replace the
	// collection (Invariant I3).
	store.RegisterRequest(listener, server, clip, 1, 0, 0)
	require.Len(t, store.manager.collections, 1)
	require.Same(t, first, store.manager.collections[0])

	// A different registration for the same listener replaces it.
	store.RegisterRequest(listener, server, clip, 1, 1, 0)
	require.Len(t, store.manager.collections, 1)
	require.NotSame(t, first, store.manager.collections[0])
}

func TestTileRequestManagerDeregister(t *testing.T) {
	server := newFakeServer("s1")
	release := server.gateReads()
	defer release()

	store := New(Options[[]byte]{
		CacheSizeBytes: 64 * 1024 * 1024,
		SizeEstimator:  byteSizeEstimator,
		TileGeometry:   manyTileGeometry[[]byte],
		NThreads:       2,
		RemotePoolSize: 8,
	})
	defer store.Close()

	listener := &countingListener{id: 1}
	store.RegisterRequest(listener, server, nil, 1, 0, 0)
	require.Eventually(t, func() bool { return store.Stats().BusyThreads == 2 }, time.Second, time.Millisecond)
	require.Len(t, store.manager.collections, 1)

	store.DeregisterRequest(listener)
	require.Len(t, store.manager.collections, 0)
}
