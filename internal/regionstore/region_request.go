package regionstore

import "fmt"

// RegionRequest identifies a single rectangular region of one image server,
// at a given downsample, Z-plane and T-plane. It is immutable and
// comparable, so it can be used directly as a map key.
type RegionRequest struct {
	ServerPath string
	Downsample float64
	X          int
	Y          int
	Width      int
	Height     int
	Z          int
	T          int
}

// NewRegionRequest builds a RegionRequest. Kept as a constructor (rather
// than relying solely on struct literals) because most call sites build a
// request from a server path plus a downsample, the way
// RegionRequest.createInstance does.
func NewRegionRequest(serverPath string, downsample float64, x, y, width, height, z, t int) RegionRequest {
	return RegionRequest{
		ServerPath: serverPath,
		Downsample: downsample,
		X:          x,
		Y:          y,
		Width:      width,
		Height:     height,
		Z:          z,
		T:          t,
	}
}

// OverlapsRequest reports whether r and other address the same server,
// the same Z and T plane, and overlapping rectangles.
func (r RegionRequest) OverlapsRequest(other RegionRequest) bool {
	if r.ServerPath != other.ServerPath || r.Z != other.Z || r.T != other.T {
		return false
	}
	return r.X < other.X+other.Width && other.X < r.X+r.Width &&
		r.Y < other.Y+other.Height && other.Y < r.Y+r.Height
}

func (r RegionRequest) String() string {
	return fmt.Sprintf("%s downsample=%g (%d,%d,%d,%d) z=%d t=%d",
		r.ServerPath, r.Downsample, r.X, r.Y, r.Width, r.Height, r.Z, r.T)
}

// Shape stands in for java.awt.Shape: a caller-supplied description of the
// visible clip area a prefetch request should cover. Only axis-aligned
// bounds and a coarse intersection test are needed by the store itself;
// the demo uses a plain rectangle.
type Shape interface {
	Bounds() (x, y, width, height int)
	Intersects(x, y, width, height int) bool
}

// RectShape is the simplest possible Shape: an axis-aligned rectangle.
type RectShape struct {
	X, Y, Width, Height int
}

func (s RectShape) Bounds() (int, int, int, int) {
	return s.X, s.Y, s.Width, s.Height
}

func (s RectShape) Intersects(x, y, width, height int) bool {
	return s.X < x+width && x < s.X+s.Width &&
		s.Y < y+height && y < s.Y+s.Height
}
