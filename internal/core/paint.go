package core

import "github.com/cocosip/go-wsi/internal/grid"

// PaintRegion is the one shared paint_region algorithm every vendor
// uses. Vendors differ only in how they build Level.Areas and in each
// Area's TileSource; the iteration, coordinate math, and grid
// rasterisation are identical across vendors, so there is exactly one
// implementation rather than a per-vendor vtable entry.
//
// x, y are level-0 pixel coordinates of the region's top-left corner,
// matching the public read_region contract; w, h are output pixel
// dimensions at level's resolution. Areas with no coverage over the
// requested rectangle leave the corresponding surface pixels
// untouched (transparent black, since surface starts zeroed).
func PaintRegion(level *Level, surface *grid.Surface, x, y float64, w, h int) error {
	if w <= 0 || h <= 0 {
		return nil
	}

	// Level-local pixel coordinates of the region's top-left corner.
	lx := x / level.Downsample
	ly := y / level.Downsample

	for i := range level.Areas {
		area := &level.Areas[i]
		src := area.Source

		// Area-local pixel origin: subtract the area's offset, itself
		// converted from clicks to pixels at this level.
		ax := lx - area.OffsetXClicks/level.ClicksPerPixel
		ay := ly - area.OffsetYClicks/level.ClicksPerPixel

		g := grid.NewSimple(src.TilesAcross(), src.TilesDown(), src.TileWidth(), src.TileHeight())
		err := g.PaintRegion(surface, ax, ay, w, h, func(s *grid.Surface, originX, originY float64, col, row int) error {
			if col < 0 || row < 0 || col >= src.TilesAcross() || row >= src.TilesDown() {
				return nil
			}
			tile, err := src.ReadTile(col, row)
			if err != nil {
				return err
			}
			if tile == nil {
				return nil
			}
			s.BlitTile(originX, originY, tile, src.TileWidth(), src.TileHeight())
			return nil
		})
		if err != nil {
			return Prefix(err, "Cannot paint area %d", i)
		}
	}
	return nil
}

// BestLevelForDownsample returns the highest index whose Downsample is
// <= requested, or 0 if every level's downsample exceeds it.
func BestLevelForDownsample(levels []Level, downsample float64) int {
	best := 0
	for i, l := range levels {
		if l.Downsample <= downsample {
			best = i
		}
	}
	return best
}
