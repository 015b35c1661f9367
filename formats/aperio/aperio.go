// Package aperio implements the Aperio SVS vendor probe (C6 instance):
// a second TIFF-container vendor alongside Leica, whose metadata is a
// pipe-delimited key=value ImageDescription rather than XML (§5,
// grounded on original_source/src/openslide-vendor-aperio.c).
package aperio

import (
	"strconv"
	"strings"

	"github.com/cocosip/go-wsi/formats"
	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/tiff"
	"github.com/cocosip/go-wsi/internal/tilecache"
)

func init() {
	formats.RegisterTIFF(vendor{})
}

// marker is the prefix every Aperio ImageDescription carries.
const marker = "Aperio"

type vendor struct{}

func (vendor) Name() string { return "aperio" }

// ProbeTIFF implements formats.TIFFProbe. Directory 0's ImageDescription
// must start with "Aperio"; anything else declines with
// FormatNotSupported. Tiled directories become pyramid levels in file
// order (the baseline is always directory 0, per Aperio's own format
// documentation); non-tiled directories are associated images,
// directory 1 conventionally named "thumbnail", later ones named from
// the second line of their own ImageDescription.
func (vendor) ProbeTIFF(file *diskio.File, rd *tiff.Reader) (*core.Descriptor, error) {
	desc0, ok := rd.Directory(0).String(tiff.TagImageDescription)
	if !ok || !strings.HasPrefix(desc0, marker) {
		return nil, core.FormatNotSupported("Aperio: directory 0's ImageDescription does not start with %q", marker)
	}

	cache := tilecache.New(tilecache.DefaultCapacityBytes)

	var levels []core.Level
	associated := map[string]core.AssociatedImage{}
	var baseDownsampleUnit int64
	lastTiledDir := -1

	for dir := 0; dir < rd.NumDirectories(); dir++ {
		d := rd.Directory(dir)
		if d.Has(tiff.TagTileWidth) {
			lastTiledDir = dir
			geom, err := rd.Geometry(dir)
			if err != nil {
				return nil, err
			}
			if !isSupportedCompression(geom.Compression) {
				return nil, core.BadData("Unrecognised TIFF compression %d in directory %d", geom.Compression, dir)
			}
			if baseDownsampleUnit == 0 {
				baseDownsampleUnit = geom.Width
			}
			src := &tileSource{rd: rd, cache: cache, dir: dir, geom: geom}
			levels = append(levels, core.Level{
				Width:          geom.Width,
				Height:         geom.Height,
				Downsample:     float64(baseDownsampleUnit) / float64(geom.Width),
				ClicksPerPixel: 1.0,
				Areas: []core.Area{{
					Source:        src,
					OffsetXClicks: 0,
					OffsetYClicks: 0,
				}},
			})
			continue
		}

		// Non-tiled directories are associated images (thumbnail, label,
		// macro), strip-organized rather than tiled; add_associated_image
		// in the ground truth silently skips a directory it can't name,
		// which associatedImageName's empty-string return mirrors here.
		name := associatedImageName(dir, d)
		if name == "" {
			continue
		}
		pix, width, height, err := rd.ReadStrippedImage(dir)
		if err != nil {
			return nil, core.Prefix(err, "Couldn't read associated image %q in directory %d", name, dir)
		}
		associated[name] = core.AssociatedImage{Width: width, Height: height, Pix: pix}
	}

	if len(levels) == 0 {
		return nil, core.BadData("Aperio slide has no tiled directories")
	}

	props, err := buildProperties(desc0)
	if err != nil {
		return nil, err
	}

	return &core.Descriptor{
		Vendor:           "aperio",
		Levels:           levels,
		Properties:       props,
		AssociatedImages: associated,
		QuickhashSource:  core.QuickhashSource{HasDirectory: true, DirectoryIndex: lastTiledDir},
	}, nil
}

// associatedImageName mirrors add_associated_image's naming rule:
// directory 1 is always "thumbnail"; anything else gets the first
// whitespace-delimited token of the second line of its own
// ImageDescription, or no name at all if that's absent.
func associatedImageName(dir int, d *tiff.Directory) string {
	if dir == 1 {
		return "thumbnail"
	}
	desc, ok := d.String(tiff.TagImageDescription)
	if !ok {
		return ""
	}
	lines := strings.SplitN(desc, "\n", 3)
	if len(lines) < 2 {
		return ""
	}
	fields := strings.Fields(lines[1])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// buildProperties parses the pipe-delimited key=value pairs out of the
// baseline directory's ImageDescription (the first field, a free-text
// description, is ignored, matching read_properties), and duplicates
// AppMag/MPP to the standard objective-power/mpp properties.
func buildProperties(desc string) (map[string]string, error) {
	props := map[string]string{}
	parts := strings.Split(desc, "|")
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key == "" {
			continue
		}
		props["aperio."+key] = val
	}

	if v, ok := props["aperio.AppMag"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			props["openslide.objective-power"] = v
		}
	}
	if v, ok := props["aperio.MPP"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			props["openslide.mpp-x"] = v
			props["openslide.mpp-y"] = v
		}
	}
	return props, nil
}

func isSupportedCompression(c tiff.Compression) bool {
	switch c {
	case tiff.CompressionNone, tiff.CompressionLZW, tiff.CompressionDeflate, tiff.CompressionDeflateOld,
		tiff.CompressionPackBits, tiff.CompressionNewJPEG, tiff.CompressionAperioJP2K, tiff.CompressionAperioJP2KYCbCr:
		return true
	default:
		return false
	}
}

// tileSource adapts one Aperio TIFF directory into a core.TileSource,
// identical in shape to formats/leica's but kept as its own type since
// the two vendors must never share cache entries through a coincidental
// identical pointer value.
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
