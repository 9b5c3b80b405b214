package regionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(server ImageServer[[]byte]) *Store[[]byte] {
	return New(Options[[]byte]{
		CacheSizeBytes: 64 * 1024 * 1024,
		SizeEstimator:  byteSizeEstimator,
		TileGeometry:   testTileGeometry[[]byte],
	})
}

// testTileGeometry is a minimal TileGeometry: it always produces exactly
// one RegionRequest covering the whole image at the given downsample.
// Collection/manager/worker tests only care about dedup and ordering, not
// about realistic tiling, so this keeps them independent of package
// tilegeom (which would otherwise import this package back, a cycle for
// an in-package test).
func testTileGeometry[T any](server ImageServer[T], clip Shape, downsample float64, z, t int, existing []RegionRequest) []RegionRequest {
	if server == nil {
		return existing
	}
	return append(existing, NewRegionRequest(server.Path(), downsample, 0, 0, server.Width(), server.Height(), z, t))
}

func TestTileWorkerRunSuccess(t *testing.T) {
	server := newFakeServer("s1")
	store := newTestStore(server)
	defer store.Close()

	req := NewRegionRequest("s1", 1, 0, 0, 256, 256, 0, 0)
	w := newTileWorker(store, server, req)
	w.run()

	require.True(t, w.IsDone())
	require.False(t, w.IsCancelled())

	tile, err := w.Wait(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tile)
}

func TestTileWorkerRunFailure(t *testing.T) {
	server := newFakeServer("s1")
	server.setReadErr(errors.New("boom"))
	store := newTestStore(server)
	defer store.Close()

	req := NewRegionRequest("s1", 1, 0, 0, 256, 256, 0, 0)
	w := newTileWorker(store, server, req)
	w.run()

	_, err := w.Wait(context.Background())
	require.ErrorContains(t, err, "boom")
}

func TestTileWorkerCancelBeforeRun(t *testing.T) {
	server := newFakeServer("s1")
	store := newTestStore(server)
	defer store.Close()

	req := NewRegionRequest("s1", 1, 0, 0, 256, 256, 0, 0)
	w := newTileWorker(store, server, req)
	w.Cancel()
	require.True(t, w.IsCancelled())

	// run() should still be safe to call (the store's pool may have
	// already dequeued it); it must not re-read the server.
	w.run()
	require.Equal(t, int32(0), server.readCount())

	_, err := w.Wait(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
}

func TestTileWorkerCancelDuringRun(t *testing.T) {
	server := newFakeServer("s1")
	release := server.gateReads()
	store := newTestStore(server)
	defer store.Close()

	req := NewRegionRequest("s1", 1, 0, 0, 256, 256, 0, 0)
	w := newTileWorker(store, server, req)

	go w.run()

	// Give run() a moment to enter ReadRegion and block on the gate.
	require.Eventually(t, func() bool { return server.readCount() > 0 }, time.Second, time.Millisecond)

	w.Cancel()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.Wait(ctx)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestTileWorkerWaitRespectsContext(t *testing.T) {
	server := newFakeServer("s1")
	release := server.gateReads()
	defer release()
	store := newTestStore(server)
	defer store.Close()

	req := NewRegionRequest("s1", 1, 0, 0, 256, 256, 0, 0)
	w := newTileWorker(store, server, req)
	go w.run()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
