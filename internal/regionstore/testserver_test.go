package regionstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeServer is a minimal, controllable ImageServer used across this
// package's tests. ReadRegion can be made to block until release() is
// called, which is what lets the dedup and cancellation tests observe
// "exactly one read in flight" rather than relying on timing.
type fakeServer struct {
	path        string
	width       int
	height      int
	nZSlices    int
	downsamples []float64
	generating  bool

	mu      sync.Mutex
	gate    chan struct{} // when non-nil, ReadRegion blocks on it
	reads   int32
	readErr error
}

func newFakeServer(path string) *fakeServer {
	return &fakeServer{
		path:        path,
		width:       4096,
		height:      4096,
		nZSlices:    1,
		downsamples: []float64{1, 4, 16},
	}
}

func (s *fakeServer) Path() string                   { return s.path }
func (s *fakeServer) Width() int                     { return s.width }
func (s *fakeServer) Height() int                    { return s.height }
func (s *fakeServer) NResolutions() int              { return len(s.downsamples) }
func (s *fakeServer) NZSlices() int                  { return s.nZSlices }
func (s *fakeServer) PreferredDownsamples() []float64 {
	return append([]float64(nil), s.downsamples...)
}

func (s *fakeServer) IsGenerating() bool { return s.generating }

func (s *fakeServer) IsEmptyRegion(req RegionRequest) bool {
	return req.ServerPath != s.path || req.Z < 0 || req.Z >= s.nZSlices ||
		req.X >= s.width || req.Y >= s.height
}

// gateReads makes every subsequent ReadRegion call block until release is
// invoked, returning the release function.
func (s *fakeServer) gateReads() (release func()) {
	s.mu.Lock()
	ch := make(chan struct{})
	s.gate = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *fakeServer) setReadErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *fakeServer) readCount() int32 { return atomic.LoadInt32(&s.reads) }

func (s *fakeServer) ReadRegion(ctx context.Context, req RegionRequest) ([]byte, error) {
	atomic.AddInt32(&s.reads, 1)

	s.mu.Lock()
	gate := s.gate
	readErr := s.readErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	return []byte(fmt.Sprintf("tile:%s", req.String())), nil
}

func byteSizeEstimator(tile []byte) int64 { return int64(len(tile)) }

func fixedSizeEstimator(n int64) SizeEstimator[[]byte] {
	return func(tile []byte) int64 { return n }
}
