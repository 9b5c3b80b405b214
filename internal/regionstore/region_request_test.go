package regionstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionRequestOverlapsRequest(t *testing.T) {
	a := NewRegionRequest("s", 1, 0, 0, 100, 100, 0, 0)
	b := NewRegionRequest("s", 1, 50, 50, 100, 100, 0, 0)
	c := NewRegionRequest("s", 1, 200, 200, 100, 100, 0, 0)
	d := NewRegionRequest("other", 1, 0, 0, 100, 100, 0, 0)
	e := NewRegionRequest("s", 1, 0, 0, 100, 100, 1, 0)

	require.True(t, a.OverlapsRequest(b))
	require.True(t, b.OverlapsRequest(a))
	require.False(t, a.OverlapsRequest(c))
	require.False(t, a.OverlapsRequest(d))
	require.False(t, a.OverlapsRequest(e))
}

func TestRegionRequestEqualityAsMapKey(t *testing.T) {
	m := map[RegionRequest]int{}
	a := NewRegionRequest("s", 1, 0, 0, 100, 100, 0, 0)
	b := NewRegionRequest("s", 1, 0, 0, 100, 100, 0, 0)
	m[a] = 1
	m[b] = 2
	require.Len(t, m, 1)
	require.Equal(t, 2, m[a])
}

func TestRectShapeIntersects(t *testing.T) {
	r := RectShape{X: 0, Y: 0, Width: 10, Height: 10}
	require.True(t, r.Intersects(5, 5, 10, 10))
	require.False(t, r.Intersects(20, 20, 5, 5))
}
