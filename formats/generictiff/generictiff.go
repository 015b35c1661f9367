// Package generictiff implements the tiled-TIFF fallback vendor: any
// TIFF/BigTIFF whose directory 0 is tiled but carries no metadata any
// more specific vendor recognises. It is registered after Leica and
// Aperio so both get first refusal (§4.5's probe-ordering contract):
// it imports both vendor packages, so their init() registrations run
// before its own.
package generictiff

import (
	_ "github.com/cocosip/go-wsi/formats/aperio"
	_ "github.com/cocosip/go-wsi/formats/leica"

	"github.com/cocosip/go-wsi/formats"
	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/tiff"
	"github.com/cocosip/go-wsi/internal/tilecache"
)

func init() {
	formats.RegisterTIFF(vendor{})
}

type vendor struct{}

func (vendor) Name() string { return "generic-tiff" }

// ProbeTIFF implements formats.TIFFProbe. It accepts any TIFF whose
// directory 0 is tiled, treating every tiled directory in file order
// as a pyramid level (one unsplit Area each) and declining entirely
// if there is none. It never inspects ImageDescription at all, which
// is exactly what lets it sit after every metadata-driven vendor
// without risk of stealing their files: a Leica SCN or Aperio SVS is
// also a tiled TIFF, but both those vendors are registered first and
// accept before this one ever runs.
func (vendor) ProbeTIFF(file *diskio.File, rd *tiff.Reader) (*core.Descriptor, error) {
	if !rd.Directory(0).Has(tiff.TagTileWidth) {
		return nil, core.FormatNotSupported("generic-tiff: directory 0 is not tiled")
	}

	cache := tilecache.New(tilecache.DefaultCapacityBytes)

	var levels []core.Level
	var baseWidth int64

	for dir := 0; dir < rd.NumDirectories(); dir++ {
		if !rd.Directory(dir).Has(tiff.TagTileWidth) {
			continue
		}
		geom, err := rd.Geometry(dir)
		if err != nil {
			return nil, err
		}
		if !isSupportedCompression(geom.Compression) {
			return nil, core.BadData("Unrecognised TIFF compression %d in directory %d", geom.Compression, dir)
		}
		if baseWidth == 0 {
			baseWidth = geom.Width
		}
		src := &tileSource{rd: rd, cache: cache, dir: dir, geom: geom}
		levels = append(levels, core.Level{
			Width:          geom.Width,
			Height:         geom.Height,
			Downsample:     float64(baseWidth) / float64(geom.Width),
			ClicksPerPixel: 1.0,
			Areas:          []core.Area{{Source: src}},
		})
	}
	if len(levels) == 0 {
		return nil, core.FormatNotSupported("generic-tiff: no tiled directories")
	}

	return &core.Descriptor{
		Vendor:           "generic-tiff",
		Levels:           levels,
		Properties:       map[string]string{"openslide.vendor": "generic-tiff"},
		AssociatedImages: map[string]core.AssociatedImage{},
		QuickhashSource:  core.QuickhashSource{HasDirectory: true, DirectoryIndex: 0},
	}, nil
}

func isSupportedCompression(c tiff.Compression) bool {
	switch c {
	case tiff.CompressionNone, tiff.CompressionLZW, tiff.CompressionDeflate, tiff.CompressionDeflateOld,
		tiff.CompressionPackBits, tiff.CompressionNewJPEG:
		return true
	default:
		return false
	}
}

type tileSource struct {
	rd    *tiff.Reader
	cache *tilecache.Cache
	dir   int
	geom  tiff.Geometry
}

func (ts *tileSource) TilesAcross() int { return ts.geom.TilesAcross }
func (ts *tileSource) TilesDown() int   { return ts.geom.TilesDown }
func (ts *tileSource) TileWidth() int   { return ts.geom.TileWidth }
func (ts *tileSource) TileHeight() int  { return ts.geom.TileHeight }

func (ts *tileSource) ReadTile(col, row int) ([]byte, error) {
	if h, ok := ts.cache.Get(ts, col, row); ok {
		defer h.Release()
		return h.Bytes(), nil
	}
	buf := make([]byte, ts.geom.TileWidth*ts.geom.TileHeight*4)
	if err := ts.rd.ReadTile(ts.dir, col, row, buf); err != nil {
		return nil, err
	}
	h := ts.cache.Put(ts, col, row, buf)
	defer h.Release()
	return h.Bytes(), nil
}
