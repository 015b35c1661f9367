package tiff

import (
	"bytes"

	"github.com/cocosip/go-wsi/internal/core"
)

// Geometry is the subset of one IFD's tags the higher layers need to
// build a Level/Area: pixel dimensions, tile geometry, and the few
// metadata fields vendors read out of directory 0.
type Geometry struct {
	Width, Height     int64
	TileWidth         int
	TileHeight        int
	TilesAcross       int
	TilesDown         int
	Compression       Compression
	SamplesPerPixel   int
	ICCProfile        []byte
	XResolution       float64
	YResolution       float64
	ResolutionUnit    ResolutionUnit
	ImageDescription  string
	NewSubfileType    uint64
}

// Geometry reports the geometry of directory i.
func (rd *Reader) Geometry(i int) (Geometry, error) {
	if i < 0 || i >= len(rd.dirs) {
		return Geometry{}, core.Failed("Directory index %d out of range", i)
	}
	d := rd.Directory(i)

	width, ok := d.Uint(TagImageWidth)
	if !ok {
		return Geometry{}, core.BadData("Directory %d missing ImageWidth", i)
	}
	height, ok := d.Uint(TagImageLength)
	if !ok {
		return Geometry{}, core.BadData("Directory %d missing ImageLength", i)
	}
	tw, ok := d.Uint(TagTileWidth)
	if !ok {
		return Geometry{}, core.BadData("Directory %d is not tiled: missing TileWidth", i)
	}
	th, ok := d.Uint(TagTileLength)
	if !ok {
		return Geometry{}, core.BadData("Directory %d is not tiled: missing TileLength", i)
	}

	spp, _ := d.Uint(TagSamplesPerPixel)
	if spp == 0 {
		spp = 1
	}
	comp, _ := d.Uint(TagCompression)
	if comp == 0 {
		comp = uint64(CompressionNone)
	}
	subfile, _ := d.Uint(TagNewSubfileType)
	desc, _ := d.String(TagImageDescription)
	icc, _ := d.tags[TagICCProfile]

	g := Geometry{
		Width:            int64(width),
		Height:           int64(height),
		TileWidth:        int(tw),
		TileHeight:       int(th),
		TilesAcross:      int((width + tw - 1) / tw),
		TilesDown:        int((height + th - 1) / th),
		Compression:      Compression(comp),
		SamplesPerPixel:  int(spp),
		ICCProfile:       icc.bytes,
		ImageDescription: desc,
		NewSubfileType:   subfile,
	}

	if num, den, ok := d.Rational(TagXResolution); ok && den != 0 {
		g.XResolution = float64(num) / float64(den)
	}
	if num, den, ok := d.Rational(TagYResolution); ok && den != 0 {
		g.YResolution = float64(num) / float64(den)
	}
	if ru, ok := d.Uint(TagResolutionUnit); ok {
		g.ResolutionUnit = ResolutionUnit(ru)
	} else {
		g.ResolutionUnit = ResolutionUnitInch
	}

	return g, nil
}

// ReadTile decodes tile (col, row) of directory dirIdx into dst, which
// must be geometry.TileWidth*geometry.TileHeight*4 bytes. Edge tiles
// that extend past the image's actual width/height are clipped: pixels
// beyond the image boundary are left zeroed (transparent).
func (rd *Reader) ReadTile(dirIdx, col, row int, dst []byte) error {
	g, err := rd.Geometry(dirIdx)
	if err != nil {
		return err
	}
	if col < 0 || col >= g.TilesAcross || row < 0 || row >= g.TilesDown {
		return core.Failed("Tile (%d,%d) out of range for directory %d", col, row, dirIdx)
	}

	d := rd.Directory(dirIdx)
	offsets, ok := d.UintSlice(TagTileOffsets)
	if !ok {
		return core.BadData("Directory %d missing TileOffsets", dirIdx)
	}
	counts, ok := d.UintSlice(TagTileByteCounts)
	if !ok {
		return core.BadData("Directory %d missing TileByteCounts", dirIdx)
	}
	idx := row*g.TilesAcross + col
	if idx >= len(offsets) || idx >= len(counts) {
		return core.BadData("Directory %d has too few tiles for its geometry", dirIdx)
	}

	raw := make([]byte, counts[idx])
	if _, err := readFull(rd.r, raw, int64(offsets[idx])); err != nil {
		return core.Prefix(err, "Couldn't read tile (%d,%d) of directory %d", col, row, dirIdx)
	}

	samples, components, err := decompress(g.Compression, raw, g.SamplesPerPixel)
	if err != nil {
		return core.Prefix(err, "Couldn't decode tile (%d,%d) of directory %d", col, row, dirIdx)
	}

	// Clip the rightmost/bottommost tile columns/rows to the image's
	// actual extent rather than the full declared tile size.
	actualW := g.TileWidth
	if right := int64(col)*int64(g.TileWidth) + int64(g.TileWidth); right > g.Width {
		actualW = int(g.Width - int64(col)*int64(g.TileWidth))
	}
	actualH := g.TileHeight
	if bottom := int64(row)*int64(g.TileHeight) + int64(g.TileHeight); bottom > g.Height {
		actualH = int(g.Height - int64(row)*int64(g.TileHeight))
	}

	// TIFF stores edge tiles at the full tile size, so the samples keep
	// a TileWidth row stride; the columns past the right edge are then
	// zeroed.
	packARGB(samples, g.TileWidth, actualH, components, dst, g.TileWidth)
	for y := 0; y < actualH; y++ {
		clear(dst[(y*g.TileWidth+actualW)*4 : (y+1)*g.TileWidth*4])
	}
	return nil
}

// ReadFullImage decodes every tile of directory dirIdx into one
// contiguous ARGB32 buffer sized to the directory's actual pixel
// dimensions. Used for associated images (label, macro, thumbnail),
// which are small enough to decode whole rather than tile-by-tile.
func (rd *Reader) ReadFullImage(dirIdx int) (pix []byte, width, height int, err error) {
	g, err := rd.Geometry(dirIdx)
	if err != nil {
		return nil, 0, 0, err
	}
	width, height = int(g.Width), int(g.Height)
	pix = make([]byte, width*height*4)
	tileBuf := make([]byte, g.TileWidth*g.TileHeight*4)

	for row := 0; row < g.TilesDown; row++ {
		for col := 0; col < g.TilesAcross; col++ {
			if err := rd.ReadTile(dirIdx, col, row, tileBuf); err != nil {
				return nil, 0, 0, err
			}
			ox, oy := col*g.TileWidth, row*g.TileHeight
			copyW := g.TileWidth
			if ox+copyW > width {
				copyW = width - ox
			}
			copyH := g.TileHeight
			if oy+copyH > height {
				copyH = height - oy
			}
			for y := 0; y < copyH; y++ {
				srcOff := y * g.TileWidth * 4
				dstOff := ((oy+y)*width + ox) * 4
				copy(pix[dstOff:dstOff+copyW*4], tileBuf[srcOff:srcOff+copyW*4])
			}
		}
	}
	return pix, width, height, nil
}

// ReadStrippedImage decodes a non-tiled (strip-organized) directory
// into one contiguous ARGB32 buffer: the layout Aperio's associated
// images (thumbnail, label, macro) are stored in, as opposed to the
// tiled baseline/pyramid directories ReadFullImage expects. RowsPerStrip
// defaults to the full image height, per the TIFF 6.0 spec, when the
// tag is absent (a single-strip image).
func (rd *Reader) ReadStrippedImage(dirIdx int) (pix []byte, width, height int, err error) {
	if dirIdx < 0 || dirIdx >= len(rd.dirs) {
		return nil, 0, 0, core.Failed("Directory index %d out of range", dirIdx)
	}
	d := rd.Directory(dirIdx)

	w, ok := d.Uint(TagImageWidth)
	if !ok {
		return nil, 0, 0, core.BadData("Directory %d missing ImageWidth", dirIdx)
	}
	h, ok := d.Uint(TagImageLength)
	if !ok {
		return nil, 0, 0, core.BadData("Directory %d missing ImageLength", dirIdx)
	}
	width, height = int(w), int(h)

	offsets, ok := d.UintSlice(TagStripOffsets)
	if !ok {
		return nil, 0, 0, core.BadData("Directory %d is not strip-organized: missing StripOffsets", dirIdx)
	}
	counts, ok := d.UintSlice(TagStripByteCounts)
	if !ok {
		return nil, 0, 0, core.BadData("Directory %d missing StripByteCounts", dirIdx)
	}
	rowsPerStrip, ok := d.Uint(TagRowsPerStrip)
	if !ok || rowsPerStrip == 0 {
		rowsPerStrip = uint64(height)
	}

	spp, _ := d.Uint(TagSamplesPerPixel)
	if spp == 0 {
		spp = 1
	}
	comp, _ := d.Uint(TagCompression)
	if comp == 0 {
		comp = uint64(CompressionNone)
	}
	compression := Compression(comp)

	pix = make([]byte, width*height*4)
	for i := range offsets {
		if i >= len(counts) {
			return nil, 0, 0, core.BadData("Directory %d has fewer strip byte counts than offsets", dirIdx)
		}
		rowOff := i * int(rowsPerStrip)
		if rowOff >= height {
			break
		}
		stripH := int(rowsPerStrip)
		if rowOff+stripH > height {
			stripH = height - rowOff
		}

		raw := make([]byte, counts[i])
		if _, err := readFull(rd.r, raw, int64(offsets[i])); err != nil {
			return nil, 0, 0, core.Prefix(err, "Couldn't read strip %d of directory %d", i, dirIdx)
		}
		samples, components, err := decompress(compression, raw, int(spp))
		if err != nil {
			return nil, 0, 0, core.Prefix(err, "Couldn't decode strip %d of directory %d", i, dirIdx)
		}

		dstOff := rowOff * width * 4
		packARGB(samples, width, stripH, components, pix[dstOff:], width)
	}
	return pix, width, height, nil
}

// DirectoryRawBytes concatenates a directory's raw (still compressed)
// tile bytes in row-major order. This is the fingerprint input C8
// hashes for the quickhash property: stable across re-reads of a
// byte-identical file, and insensitive to everything outside the
// chosen directory.
func (rd *Reader) DirectoryRawBytes(dirIdx int) ([]byte, error) {
	if dirIdx < 0 || dirIdx >= len(rd.dirs) {
		return nil, core.Failed("Directory index %d out of range", dirIdx)
	}
	d := rd.Directory(dirIdx)
	offsets, ok := d.UintSlice(TagTileOffsets)
	if !ok {
		return nil, core.BadData("Directory %d missing TileOffsets", dirIdx)
	}
	counts, ok := d.UintSlice(TagTileByteCounts)
	if !ok {
		return nil, core.BadData("Directory %d missing TileByteCounts", dirIdx)
	}

	var buf bytes.Buffer
	for i := range offsets {
		raw := make([]byte, counts[i])
		if _, err := readFull(rd.r, raw, int64(offsets[i])); err != nil {
			return nil, core.Prefix(err, "Couldn't read directory %d for quickhash", dirIdx)
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}
