// Package demoserver provides a synthetic, cheaply-rendered ImageServer
// used by cmd/storedemo to exercise the region store end-to-end without
// needing real whole-slide image files on disk. Tiles are rendered with
// libvips and exported as JPEG buffers, but the pixels themselves are
// generated rather than read from a file, so the server reports itself
// as a GeneratingImageServer and gets routed to the store's local pool.
package demoserver

import (
	"context"
	"fmt"
	"math"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"github.com/qupath-go/regionstore/internal/regionstore"
)

// GeneratingServer is a synthetic pyramidal image server. Each tile is
// rendered as a flat-colored JPEG whose color is derived from the
// request's own coordinates, so neighbouring tiles are visually
// distinguishable without needing a real image on disk.
type GeneratingServer struct {
	path           string
	width, height  int
	nZSlices       int
	downsamples    []float64
	log            *zap.Logger
}

// New builds a GeneratingServer covering a width x height pixel canvas
// at the given pyramid downsamples (e.g. []float64{1, 4, 16, 64}) with
// nZSlices focal planes.
func New(path string, width, height int, downsamples []float64, nZSlices int, log *zap.Logger) *GeneratingServer {
	if nZSlices < 1 {
		nZSlices = 1
	}
	if len(downsamples) == 0 {
		downsamples = []float64{1}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeneratingServer{
		path:        path,
		width:       width,
		height:      height,
		nZSlices:    nZSlices,
		downsamples: downsamples,
		log:         log,
	}
}

func (s *GeneratingServer) Path() string                     { return s.path }
func (s *GeneratingServer) Width() int                        { return s.width }
func (s *GeneratingServer) Height() int                       { return s.height }
func (s *GeneratingServer) NResolutions() int                 { return len(s.downsamples) }
func (s *GeneratingServer) NZSlices() int                     { return s.nZSlices }
func (s *GeneratingServer) PreferredDownsamples() []float64   { return append([]float64(nil), s.downsamples...) }
func (s *GeneratingServer) IsGenerating() bool                { return true }

// IsEmptyRegion reports true for any request wholly outside the canvas or
// addressed to an unknown z plane, letting the store skip dispatching a
// worker entirely.
func (s *GeneratingServer) IsEmptyRegion(req regionstore.RegionRequest) bool {
	if req.ServerPath != s.path {
		return true
	}
	if req.Z < 0 || req.Z >= s.nZSlices {
		return true
	}
	return req.X >= s.width || req.Y >= s.height || req.Width <= 0 || req.Height <= 0
}

// ReadRegion renders req's region synthetically and returns it as JPEG
// bytes. It deliberately has no artificial latency: GeneratingImageServer
// implementations are meant to be cheap, which is exactly why the store
// routes them to the smaller local pool instead of the remote one.
func (s *GeneratingServer) ReadRegion(ctx context.Context, req regionstore.RegionRequest) ([]byte, error) {
	if s.IsEmptyRegion(req) {
		return nil, fmt.Errorf("demoserver: empty region %s", req)
	}

	// Derive a per-tile color from the request's own coordinates so
	// adjacent tiles are visually distinguishable.
	r := uint8((req.X/256*37 + req.Z*19) % 256)
	g := uint8((req.Y/256*59 + req.T*23) % 256)
	b := uint8((int(req.Downsample)*83 + 11) % 256)

	width := int(math.Max(1, math.Round(float64(req.Width)/req.Downsample)))
	height := int(math.Max(1, math.Round(float64(req.Height)/req.Downsample)))

	blackOpts := vips.DefaultBlackOptions()
	blackOpts.Bands = 3
	img, err := vips.NewBlack(width, height, blackOpts)
	if err != nil {
		return nil, fmt.Errorf("demoserver: create canvas: %w", err)
	}
	defer img.Close()

	if err := img.Linear([]float64{0, 0, 0}, []float64{float64(r), float64(g), float64(b)}); err != nil {
		return nil, fmt.Errorf("demoserver: colorize: %w", err)
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = 82
	data, err := img.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("demoserver: encode: %w", err)
	}

	s.log.Debug("rendered synthetic tile", zap.Stringer("request", req), zap.Int("bytes", len(data)))
	return data, nil
}

// EstimateTileSize is the demo's SizeEstimator: the approximate byte
// weight of a []byte tile is simply its length.
func EstimateTileSize(tile []byte) int64 {
	return int64(len(tile))
}
