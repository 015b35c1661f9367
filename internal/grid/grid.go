// Package grid implements the 2D rasteriser that maps a caller's pixel
// rectangle onto a set of tile draws against a fixed-size tile grid.
package grid

import "math"

// Grid describes a tile grid of identical tile_w x tile_h cells,
// tiles_across x tiles_down in extent.
type Grid struct {
	TilesAcross int
	TilesDown   int
	TileW       int
	TileH       int
}

// NewSimple constructs a Grid over a uniform tile layout.
func NewSimple(tilesAcross, tilesDown, tileW, tileH int) *Grid {
	return &Grid{
		TilesAcross: tilesAcross,
		TilesDown:   tilesDown,
		TileW:       tileW,
		TileH:       tileH,
	}
}

// ReadTileFunc paints one tile's contribution onto surface. originX,
// originY is the tile's top-left position on the surface, which may be
// fractional and may fall (partially or wholly) outside the surface
// bounds; the implementation is responsible for clipping. col, row
// identify which grid cell is being requested; a ReadTileFunc may
// return nil without painting anything if the cell is outside the
// area it backs.
type ReadTileFunc func(surface *Surface, originX, originY float64, col, row int) error

// PaintRegion computes the tile-column and tile-row ranges intersecting
// [x, x+w) x [y, y+h), then invokes read for each cell in row-major
// order, translating the surface origin for each call. It stops and
// propagates the first error.
func (g *Grid) PaintRegion(surface *Surface, x, y float64, w, h int, read ReadTileFunc) error {
	if w <= 0 || h <= 0 {
		return nil
	}

	fx := int64(math.Floor(x))
	fy := int64(math.Floor(y))

	colLo := floorDiv(fx, int64(g.TileW))
	colHi := floorDiv(fx+int64(w)-1, int64(g.TileW))
	rowLo := floorDiv(fy, int64(g.TileH))
	rowHi := floorDiv(fy+int64(h)-1, int64(g.TileH))

	for row := rowLo; row <= rowHi; row++ {
		for col := colLo; col <= colHi; col++ {
			originX := float64(col*int64(g.TileW)) - x
			originY := float64(row*int64(g.TileH)) - y
			if err := read(surface, originX, originY, int(col), int(row)); err != nil {
				return err
			}
		}
	}
	return nil
}

// floorDiv performs floor division, unlike Go's truncating integer
// division, so that negative coordinates (regions starting left of or
// above the canvas) resolve to the correct tile index.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
