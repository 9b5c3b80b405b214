package regionstore

import "errors"

var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("regionstore: store is closed")

	// ErrCancelled is the result a TileWorker reports when Cancel was
	// called before it produced a tile.
	ErrCancelled = errors.New("regionstore: tile request cancelled")

	// ErrNoTile is returned by an ImageServer's ReadRegion to report a
	// legitimate absence of a tile for the request (for example, a
	// region that turned out to carry no data once actually read) as
	// distinct from a failed read. A worker that ends with ErrNoTile is
	// not logged as a failure, and its result is dropped the same way a
	// real failure's would be: never cached, never handed to listeners.
	ErrNoTile = errors.New("regionstore: no tile for request")

	// ErrPoolUnavailable is returned internally when a worker pool
	// refuses a submission, either because it has already been shut
	// down or because its queue buffer is full.
	ErrPoolUnavailable = errors.New("regionstore: worker pool unavailable")
)
