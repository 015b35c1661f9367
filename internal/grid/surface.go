package grid

import "math"

// Surface is an ARGB32 premultiplied pixel buffer, little-endian
// byte order per pixel (B, G, R, A), matching the public read_region
// contract.
type Surface struct {
	Pix    []byte
	Width  int
	Height int
}

// NewSurface allocates a zeroed (fully transparent) surface.
func NewSurface(width, height int) *Surface {
	return &Surface{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}
}

// BlitTile composites an opaque tileW x tileH ARGB32 tile onto the
// surface with its top-left corner at (originX, originY). Sub-pixel
// origins round to the nearest destination pixel; compositing never
// blends (tiles from distinct areas do not overlap in practice, and a
// hit tile simply overwrites whatever was there, matching the
// "no double-draw" contract for abutting areas).
func (s *Surface) BlitTile(originX, originY float64, tile []byte, tileW, tileH int) {
	dx := int(math.Round(originX))
	dy := int(math.Round(originY))

	srcColLo, dstColLo := clipLo(dx)
	srcRowLo, dstRowLo := clipLo(dy)
	width := tileW - srcColLo
	if over := (dstColLo + width) - s.Width; over > 0 {
		width -= over
	}
	height := tileH - srcRowLo
	if over := (dstRowLo + height) - s.Height; over > 0 {
		height -= over
	}
	if width <= 0 || height <= 0 {
		return
	}

	for row := 0; row < height; row++ {
		srcOff := ((srcRowLo+row)*tileW + srcColLo) * 4
		dstOff := ((dstRowLo+row)*s.Width + dstColLo) * 4
		copy(s.Pix[dstOff:dstOff+width*4], tile[srcOff:srcOff+width*4])
	}
}

// clipLo handles a negative destination offset by advancing the source
// start to match; it returns (srcStart, dstStart), both clamped to 0.
func clipLo(d int) (int, int) {
	if d < 0 {
		return -d, 0
	}
	return 0, d
}
