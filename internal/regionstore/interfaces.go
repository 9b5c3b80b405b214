package regionstore

import "context"

// ImageServer is the external collaborator that actually knows how to read
// pixels. The store never constructs one; it only consumes it.
type ImageServer[T any] interface {
	// Path is the server's opaque identity, used as the ServerPath of every
	// RegionRequest addressed to it.
	Path() string

	// Width and Height are the full-resolution image dimensions, used to
	// build the whole-image thumbnail request.
	Width() int
	Height() int

	// NResolutions is the number of precomputed pyramid levels. A server
	// with more than one resolution is "pyramidal".
	NResolutions() int

	// NZSlices is the number of focal planes.
	NZSlices() int

	// PreferredDownsamples returns the set of downsample factors the
	// server can supply efficiently, in no particular order.
	PreferredDownsamples() []float64

	// IsEmptyRegion is a cheap predicate: true means ReadRegion would
	// produce nothing for req, so the caller can skip dispatching a
	// worker entirely.
	IsEmptyRegion(req RegionRequest) bool

	// ReadRegion blocks until the region is read (or fails). It may be
	// called on a pool goroutine. Returning ErrNoTile signals that the
	// request legitimately produced no tile, as opposed to a read
	// failure; the store drops the result the same way either way, but
	// only a real failure is logged as one.
	ReadRegion(ctx context.Context, req RegionRequest) (T, error)
}

// GeneratingImageServer is a capability tag, not a type hierarchy: a
// server that can cheaply synthesise tiles in-process (as opposed to
// fetching them from a slow remote source) should report true from
// IsGenerating so the store routes its work to the local pool.
type GeneratingImageServer[T any] interface {
	ImageServer[T]
	IsGenerating() bool
}

// isGenerating reports whether server should be routed to the local pool.
// Centralised here since several callers (requestImageTileLocked,
// assignTasks) need the same capability check.
func isGenerating[T any](server ImageServer[T]) bool {
	g, ok := server.(GeneratingImageServer[T])
	return ok && g.IsGenerating()
}

// TileListener is notified after a tile has been inserted into the cache.
type TileListener[T any] interface {
	TileAvailable(serverPath string, req RegionRequest, tile T)
}

// SizeEstimator approximates the byte weight of a tile for the cache's
// weigher.
type SizeEstimator[T any] func(tile T) int64

// TileGeometry enumerates the tile-aligned RegionRequests that cover clip
// at the given downsample, z and t, appending them to existing and
// returning the (possibly reallocated) slice. It is a collaborator, not
// part of the store's own logic: the store calls it, but does not care how
// it decides tile boundaries.
type TileGeometry[T any] func(server ImageServer[T], clip Shape, downsample float64, z, t int, existing []RegionRequest) []RegionRequest
