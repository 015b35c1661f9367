// Package leica implements the Leica SCN vendor probe (C6 instance,
// §4.6): the canonical exemplar of a TIFF-container vendor driven by
// an XML ImageDescription.
package leica

import (
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/tiff"
	"github.com/cocosip/go-wsi/internal/tilecache"
	"github.com/cocosip/go-wsi/internal/xmlmeta"
	"github.com/cocosip/go-wsi/formats"
)

func init() {
	formats.RegisterTIFF(vendor{})
}

const brightfield = "brightfield"

// vendor is the stateless probe registered with formats. Its
// per-slide work lives in tileSource, constructed fresh on acceptance.
type vendor struct{}

func (vendor) Name() string { return "leica" }

// ProbeTIFF implements formats.TIFFProbe.
func (vendor) ProbeTIFF(file *diskio.File, rd *tiff.Reader) (*core.Descriptor, error) {
	desc0, ok := rd.Directory(0).String(tiff.TagImageDescription)
	if !ok {
		return nil, core.FormatNotSupported("Leica: directory 0 has no ImageDescription")
	}
	if !xmlmeta.Sniff(desc0) {
		return nil, core.FormatNotSupported("Leica: not an SCN document")
	}

	collection, err := xmlmeta.Parse(desc0)
	if err != nil {
		return nil, err
	}

	var mains, macros []xmlmeta.Image
	for _, img := range collection.Images {
		if img.IlluminationSource != brightfield {
			continue
		}
		if img.IsMacro {
			macros = append(macros, img)
		} else {
			mains = append(mains, img)
		}
	}
	if len(mains) == 0 {
		return nil, core.BadData("Leica slide has no brightfield main image")
	}
	if len(macros) > 1 {
		return nil, core.BadData("Found multiple macro images")
	}

	if err := validateMainConsistency(mains); err != nil {
		return nil, err
	}
	for i := range mains {
		sortDimensions(mains[i].Dimensions)
	}

	cache := tilecache.New(tilecache.DefaultCapacityBytes)

	levels, err := buildLevels(rd, cache, collection, mains)
	if err != nil {
		return nil, err
	}

	props, err := buildProperties(rd, collection, mains[0])
	if err != nil {
		return nil, err
	}

	desc := &core.Descriptor{
		Vendor:           "leica",
		Levels:           levels,
		Properties:       props,
		AssociatedImages: map[string]core.AssociatedImage{},
	}

	if len(macros) == 1 {
		img, err := decodeMacro(rd, macros[0])
		if err != nil {
			return nil, err
		}
		desc.AssociatedImages["macro"] = *img
	}

	src, err := quickhashSource(mains, macros)
	if err != nil {
		return nil, err
	}
	desc.QuickhashSource = src

	return desc, nil
}

// sortDimensions orders an image's dimensions by decreasing pixel
// width (increasing downsample), so level 0 is always Dimensions[0].
func sortDimensions(dims []xmlmeta.Dimension) {
	slices.SortStableFunc(dims, func(a, b xmlmeta.Dimension) int {
		switch {
		case a.Width > b.Width:
			return -1
		case a.Width < b.Width:
			return 1
		default:
			return 0
		}
	})
}

// validateMainConsistency enforces §4.6 step 4: every main image after
// the first must agree on illumination, objective, dimension count,
// and have per-dimension clicks_per_pixel within 2% of the reference.
func validateMainConsistency(mains []xmlmeta.Image) error {
	ref := mains[0]
	sortDimensions(ref.Dimensions)

	for i := 1; i < len(mains); i++ {
		img := mains[i]
		sortDimensions(img.Dimensions)

		if img.Objective != ref.Objective || img.IlluminationSource != ref.IlluminationSource || len(img.Dimensions) != len(ref.Dimensions) {
			return core.BadData("Slides with dissimilar main images are not supported")
		}
		for d := range img.Dimensions {
			if !resolutionSimilar(img.Dimensions[d].ClicksPerPixel, ref.Dimensions[d].ClicksPerPixel) {
				return core.BadData("Inconsistent main image resolutions")
			}
		}
	}
	return nil
}

func resolutionSimilar(dpp, refDPP float64) bool {
	if refDPP == 0 {
		return dpp == 0
	}
	diff := dpp - refDPP
	if diff < 0 {
		diff = -diff
	}
	return 1-diff/refDPP >= 0.98
}

// buildLevels constructs one core.Level per reference dimension index,
// taking the minimum clicks_per_pixel across participating main images
// for that level, and one Area per main image. Downsample is relative
// to level 0's minimum clicks_per_pixel, so level 0's is exactly 1.0.
func buildLevels(rd *tiff.Reader, cache *tilecache.Cache, collection *xmlmeta.Collection, mains []xmlmeta.Image) ([]core.Level, error) {
	numLevels := len(mains[0].Dimensions)
	levels := make([]core.Level, numLevels)
	var baseCPP float64

	for lvl := 0; lvl < numLevels; lvl++ {
		minCPP := mains[0].Dimensions[lvl].ClicksPerPixel
		for _, img := range mains[1:] {
			if img.Dimensions[lvl].ClicksPerPixel < minCPP {
				minCPP = img.Dimensions[lvl].ClicksPerPixel
			}
		}
		if lvl == 0 {
			baseCPP = minCPP
		}

		width := ceilDiv(float64(collection.ClicksAcross), minCPP)
		height := ceilDiv(float64(collection.ClicksDown), minCPP)

		areas := make([]core.Area, 0, len(mains))
		for _, img := range mains {
			dim := img.Dimensions[lvl]
			src, err := newTileSource(cache, rd, dim.Dir)
			if err != nil {
				return nil, err
			}
			areas = append(areas, core.Area{
				Source:        src,
				OffsetXClicks: img.ClicksOffsetX,
				OffsetYClicks: img.ClicksOffsetY,
			})
		}

		levels[lvl] = core.Level{
			Width:          width,
			Height:         height,
			Downsample:     minCPP / baseCPP,
			ClicksPerPixel: minCPP,
			Areas:          areas,
		}
	}
	return levels, nil
}

func ceilDiv(a, b float64) int64 {
	q := a / b
	i := int64(q)
	if float64(i) < q {
		i++
	}
	return i
}

// buildProperties implements §4.6 step 9, including deriving
// openslide.mpp-{x,y} from the base directory's resolution tags when
// the unit is centimetres (ResolutionUnit == 3); inch/none are left
// unconverted, matching the original implementation.
func buildProperties(rd *tiff.Reader, collection *xmlmeta.Collection, ref xmlmeta.Image) (map[string]string, error) {
	props := map[string]string{
		"leica.barcode":             collection.Barcode,
		"leica.aperture":            ref.NumericalAperture,
		"leica.creation-date":       ref.CreationDate,
		"leica.device-model":        ref.DeviceModel,
		"leica.device-version":      ref.DeviceVersion,
		"leica.illumination-source": ref.IlluminationSource,
		"leica.objective":           ref.Objective,
	}
	if power, ok := xmlmeta.ParseObjectivePower(ref.Objective); ok {
		props["openslide.objective-power"] = power
	}

	// ref.Dimensions is sorted by decreasing width, so the first entry
	// is the base (highest-resolution) directory.
	geom, err := rd.Geometry(ref.Dimensions[0].Dir)
	if err != nil {
		return nil, core.Prefix(err, "Couldn't read base directory geometry for properties")
	}
	if geom.ResolutionUnit == tiff.ResolutionUnitCM {
		if geom.XResolution != 0 {
			props["openslide.mpp-x"] = formatMPP(10000.0 / geom.XResolution)
		}
		if geom.YResolution != 0 {
			props["openslide.mpp-y"] = formatMPP(10000.0 / geom.YResolution)
		}
	}
	return props, nil
}

func formatMPP(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// quickhashSource implements §4.6 step 8.
func quickhashSource(mains, macros []xmlmeta.Image) (core.QuickhashSource, error) {
	legacy := len(mains) == 1 && len(macros) <= 1
	if legacy {
		dims := mains[0].Dimensions
		smallest := smallestDimension(dims)
		return core.QuickhashSource{HasDirectory: true, DirectoryIndex: smallest.Dir}, nil
	}
	if len(macros) == 0 {
		return core.QuickhashSource{}, core.BadData("Couldn't locate TIFF directory for quickhash")
	}
	smallest := smallestDimension(macros[0].Dimensions)
	return core.QuickhashSource{HasDirectory: true, DirectoryIndex: smallest.Dir}, nil
}

func smallestDimension(dims []xmlmeta.Dimension) xmlmeta.Dimension {
	best := dims[0]
	for _, d := range dims[1:] {
		if d.Width < best.Width {
			best = d
		}
	}
	return best
}

// decodeMacro decodes the macro image's largest dimension whole.
func decodeMacro(rd *tiff.Reader, macro xmlmeta.Image) (*core.AssociatedImage, error) {
	largest := macro.Dimensions[0]
	for _, d := range macro.Dimensions[1:] {
		if d.Width > largest.Width {
			largest = d
		}
	}
	pix, w, h, err := rd.ReadFullImage(largest.Dir)
	if err != nil {
		return nil, core.Prefix(err, "Couldn't decode Leica macro image")
	}
	return &core.AssociatedImage{Width: w, Height: h, Pix: pix}, nil
}

// tileSource adapts one TIFF directory into a core.TileSource, reading
// through the shared tilecache.Cache keyed by this tileSource's own
// pointer identity (stable for the probe's lifetime; Leica areas are
// never lazily reloaded). Reads go through the same *tiff.Reader every
// area shares, which in turn reads through the one diskio.File the
// probe opened; concurrent ReadAt calls on one *os.File are safe, so
// no per-area cursor is needed.
type tileSource struct {
	rd    *tiff.Reader
	cache *tilecache.Cache
	dir   int
	geom  tiff.Geometry
}

func newTileSource(cache *tilecache.Cache, rd *tiff.Reader, dir int) (*tileSource, error) {
	geom, err := rd.Geometry(dir)
	if err != nil {
		return nil, core.Prefix(err, "Couldn't read geometry for directory %d", dir)
	}
	if !isSupportedCompression(geom.Compression) {
		return nil, core.BadData("Unrecognised TIFF compression %d in directory %d", geom.Compression, dir)
	}
	return &tileSource{rd: rd, cache: cache, dir: dir, geom: geom}, nil
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

func (ts *tileSource) TilesAcross() int { return ts.geom.TilesAcross }
func (ts *tileSource) TilesDown() int   { return ts.geom.TilesDown }
func (ts *tileSource) TileWidth() int   { return ts.geom.TileWidth }
func (ts *tileSource) TileHeight() int  { return ts.geom.TileHeight }

// ReadTile implements core.TileSource, consulting the shared cache
// keyed on this tileSource's own pointer identity before decoding.
// The handle is released before returning rather than held across the
// blit. The returned slice is the cache entry's own bytes, not a copy:
// the cache never mutates them, and Go's GC keeps the backing array
// alive through the caller's own reference even after eviction, unlike the
// original implementation's manual refcounting which had to defer the
// release until after the paint completed.
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
