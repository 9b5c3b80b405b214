// Package tilegeom enumerates which tile-aligned regions cover a shape at
// a given downsample. It is the store's default TileGeometry
// implementation, and freely overridable by callers with their own
// tiling scheme.
package tilegeom

import (
	"math"

	"github.com/qupath-go/regionstore/internal/regionstore"
)

// DefaultTileSize is the edge length, in source pixels at downsample 1,
// of a tile produced by GetTilesToRequest.
const DefaultTileSize = 256

// GetTilesToRequest enumerates every tile-aligned RegionRequest, sized
// DefaultTileSize x DefaultTileSize at downsample 1, at the given
// downsample, whose bounds intersect clip, appending them to existing and
// returning the (possibly reallocated) slice. It matches the signature
// regionstore.TileGeometry expects.
func GetTilesToRequest[T any](server regionstore.ImageServer[T], clip regionstore.Shape, downsample float64, z, t int, existing []regionstore.RegionRequest) []regionstore.RegionRequest {
	if server == nil || downsample <= 0 {
		return existing
	}

	maxX, maxY := server.Width(), server.Height()

	clipX, clipY, clipW, clipH := 0, 0, maxX, maxY
	if clip != nil {
		clipX, clipY, clipW, clipH = clip.Bounds()
	}
	if clipW <= 0 || clipH <= 0 {
		return existing
	}

	tileSpan := int(math.Round(DefaultTileSize * downsample))
	if tileSpan < 1 {
		tileSpan = 1
	}

	startCol := floorDiv(clipX, tileSpan)
	startRow := floorDiv(clipY, tileSpan)
	endCol := floorDiv(clipX+clipW-1, tileSpan)
	endRow := floorDiv(clipY+clipH-1, tileSpan)

	for row := startRow; row <= endRow; row++ {
		y := row * tileSpan
		if y >= maxY {
			continue
		}
		h := tileSpan
		if y+h > maxY {
			h = maxY - y
		}
		for col := startCol; col <= endCol; col++ {
			x := col * tileSpan
			if x >= maxX {
				continue
			}
			w := tileSpan
			if x+w > maxX {
				w = maxX - x
			}
			if clip != nil && !clip.Intersects(x, y, w, h) {
				continue
			}
			existing = append(existing, regionstore.NewRegionRequest(server.Path(), downsample, x, y, w, h, z, t))
		}
	}
	return existing
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
