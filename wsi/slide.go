// Package wsi is the public root API (§6 of SPEC_FULL.md): open a
// whole-slide image file, walk its pyramid, and paint pixel regions,
// dispatching across every vendor registered under formats without
// the caller ever naming one.
package wsi

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cocosip/go-wsi/formats"
	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/grid"
	"github.com/cocosip/go-wsi/internal/quickhash"
	"github.com/cocosip/go-wsi/internal/tiff"
)

// Dimensions is a pixel width/height pair.
type Dimensions struct {
	Width  int
	Height int
}

// Image is a decoded pixel rectangle: premultiplied ARGB32, the same
// byte layout grid.Surface uses, copied out so the caller owns it
// independently of any tile cache entry.
type Image struct {
	Pix    []byte
	Width  int
	Height int
}

// PropertyMap is the ordered, read-only view over a slide's vendor and
// well-known properties (C9). It is built once at Open and never
// mutated afterward, so it is safe to share across goroutines without
// copying.
type PropertyMap struct {
	m map[string]string
}

// Get looks up one property by name.
func (p PropertyMap) Get(key string) (string, bool) {
	v, ok := p.m[key]
	return v, ok
}

// Keys returns every property name in sorted order, giving callers a
// deterministic iteration order over what is, underneath, an
// unordered Go map.
func (p PropertyMap) Keys() []string {
	keys := make([]string, 0, len(p.m))
	for k := range p.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of properties.
func (p PropertyMap) Len() int { return len(p.m) }

// Slide is the root handle returned by Open. A Slide owns its
// per-vendor decode state, its HandleCache, and a sticky error state
// scoped to render calls: once ReadRegion or ReadAssociatedImage
// fails, every subsequent call to either short-circuits with the same
// error, and the Slide cannot be repaired — the caller must Close and
// reopen.
type Slide struct {
	path   string
	vendor string
	levels []core.Level
	props  PropertyMap
	assoc  map[string]core.AssociatedImage

	hc *diskio.HandleCache

	mu  sync.Mutex
	err error
}

// Open probes path against every registered vendor and, on
// acceptance, builds a ready-to-render Slide. The File the winning
// probe opened is handed to a new HandleCache via Adopt rather than
// reopened, since the Descriptor's Areas already hold readers over it.
func Open(path string, opts ...Options) (*Slide, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	logger := o.logger()

	desc, vendorName, file, err := formats.ProbeFile(path, logger)
	if err != nil {
		logger.Warn("slide open failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("slide opened", "path", path, "vendor", vendorName, "levels", len(desc.Levels))

	qh, err := computeQuickhash(file, desc.QuickhashSource, vendorName)
	if err != nil {
		file.Close()
		return nil, core.Prefix(err, "Couldn't compute quickhash for %s", path)
	}

	hc := diskio.NewHandleCache(path)
	hc.Adopt(file)

	props := buildPropertyMap(desc, vendorName, qh)

	return &Slide{
		path:   path,
		vendor: vendorName,
		levels: desc.Levels,
		props:  props,
		assoc:  desc.AssociatedImages,
		hc:     hc,
	}, nil
}

// computeQuickhash dispatches on which QuickhashSource mode the
// winning vendor populated: HasDirectory re-derives a tiff.Reader over
// the already-open File and hashes that directory's raw tile bytes;
// HasRange hashes a literal byte range of the File; HasBytes hashes
// bytes the vendor already gathered for itself during probing.
func computeQuickhash(file *diskio.File, src core.QuickhashSource, vendorName string) (string, error) {
	switch {
	case src.HasDirectory:
		rd, err := tiff.Open(file)
		if err != nil {
			return "", core.Prefix(err, "Couldn't reopen TIFF for quickhash")
		}
		raw, err := rd.DirectoryRawBytes(src.DirectoryIndex)
		if err != nil {
			return "", err
		}
		return quickhash.Bytes(fmt.Sprintf("%s-dir:%d", vendorName, src.DirectoryIndex), raw), nil

	case src.HasRange:
		buf := make([]byte, src.RangeLen)
		if err := file.ReadExact(buf, src.RangeOff); err != nil {
			return "", err
		}
		return quickhash.Bytes(fmt.Sprintf("%s-range:%d:%d", vendorName, src.RangeOff, src.RangeLen), buf), nil

	case src.HasBytes:
		return quickhash.Bytes(fmt.Sprintf("%s-bytes", vendorName), src.Bytes), nil

	default:
		return "", core.Failed("vendor %s produced no quickhash source", vendorName)
	}
}

// buildPropertyMap layers the well-known synthesized keys (§9's
// "openslide.vendor", "openslide.quickhash-1", "openslide.level-count",
// "openslide.level[i].*") over whatever the vendor populated; each of
// these keys is always set here and replaces any value the vendor put
// under the same key.
func buildPropertyMap(desc *core.Descriptor, vendorName, quickhash string) PropertyMap {
	m := make(map[string]string, len(desc.Properties)+4+4*len(desc.Levels))
	for k, v := range desc.Properties {
		m[k] = v
	}
	m["openslide.vendor"] = vendorName
	m["openslide.quickhash-1"] = quickhash
	m["openslide.level-count"] = fmt.Sprintf("%d", len(desc.Levels))

	for i, lvl := range desc.Levels {
		prefix := fmt.Sprintf("openslide.level[%d].", i)
		m[prefix+"width"] = fmt.Sprintf("%d", lvl.Width)
		m[prefix+"height"] = fmt.Sprintf("%d", lvl.Height)
		m[prefix+"downsample"] = fmt.Sprintf("%g", lvl.Downsample)
		if len(lvl.Areas) > 0 {
			src := lvl.Areas[0].Source
			m[prefix+"tile-width"] = fmt.Sprintf("%d", src.TileWidth())
			m[prefix+"tile-height"] = fmt.Sprintf("%d", src.TileHeight())
		}
	}
	return PropertyMap{m: m}
}

// Close releases every cursor this slide's HandleCache has opened.
// Close is idempotent and releases every resource the Slide holds: the
// HandleCache's file cursors and, for vendors whose TileSource opens
// something beyond the probed File (the indexed vendor's pooled SQLite
// connection), that resource too. core.TileSource carries no Close
// method of its own — most vendors only ever read through the File
// diskio.HandleCache already owns — so Close is an optional capability
// checked with io.Closer, and closed at most once per distinct
// resource even when several Areas share one underlying TileSource.
func (s *Slide) Close() error {
	err := s.hc.Close()

	closed := make(map[io.Closer]bool)
	for _, level := range s.levels {
		for _, area := range level.Areas {
			c, ok := area.Source.(io.Closer)
			if !ok || closed[c] {
				continue
			}
			closed[c] = true
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

// Levels reports the number of pyramid tiers.
func (s *Slide) Levels() int { return len(s.levels) }

// LevelDimensions reports level's pixel dimensions.
func (s *Slide) LevelDimensions(level int) (Dimensions, error) {
	if level < 0 || level >= len(s.levels) {
		return Dimensions{}, core.Failed("level %d out of range [0, %d)", level, len(s.levels))
	}
	l := s.levels[level]
	return Dimensions{Width: int(l.Width), Height: int(l.Height)}, nil
}

// LevelDownsample reports level's downsample factor relative to level 0.
func (s *Slide) LevelDownsample(level int) (float64, error) {
	if level < 0 || level >= len(s.levels) {
		return 0, core.Failed("level %d out of range [0, %d)", level, len(s.levels))
	}
	return s.levels[level].Downsample, nil
}

// BestLevelForDownsample returns the lowest-resolution level (largest
// index) whose downsample does not exceed the requested value, or 0 if
// every level's does, using a binary search over the levels slice
// (levels is always sorted by non-decreasing Downsample) rather than
// core.BestLevelForDownsample's linear scan, which no vendor currently
// calls.
func (s *Slide) BestLevelForDownsample(downsample float64) int {
	idx, found := slices.BinarySearchFunc(s.levels, downsample, func(l core.Level, target float64) int {
		switch {
		case l.Downsample < target:
			return -1
		case l.Downsample > target:
			return 1
		default:
			return 0
		}
	})
	if found {
		return idx
	}
	// idx is the first level whose Downsample exceeds target; the best
	// level is the one just before it, or 0 if even the first level's
	// downsample already exceeds target.
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// ReadRegion paints the level-0-pixel-space rectangle [x, x+w) x
// [y, y+h), sampled at level's resolution, into a freshly allocated
// Image. If the slide is already in its sticky error state, or this
// call is the one that sets it, the same error is returned without
// attempting to paint.
func (s *Slide) ReadRegion(level int, x, y int64, w, h int) (*Image, error) {
	if err := s.GetError(); err != nil {
		return nil, err
	}
	if level < 0 || level >= len(s.levels) {
		return nil, s.setError(core.Failed("level %d out of range [0, %d)", level, len(s.levels)))
	}
	if w < 0 || h < 0 {
		return nil, s.setError(core.Failed("negative region size %dx%d", w, h))
	}

	surface := grid.NewSurface(w, h)
	if err := core.PaintRegion(&s.levels[level], surface, float64(x), float64(y), w, h); err != nil {
		return nil, s.setError(core.Prefix(err, "Couldn't read region"))
	}
	return &Image{Pix: surface.Pix, Width: w, Height: h}, nil
}

// Properties returns the slide's property map.
func (s *Slide) Properties() PropertyMap { return s.props }

// AssociatedImages reports the dimensions of every associated image
// (label, macro, thumbnail, ...) without copying pixel data; call
// ReadAssociatedImage for the pixels themselves.
func (s *Slide) AssociatedImages() map[string]Dimensions {
	out := make(map[string]Dimensions, len(s.assoc))
	for name, img := range s.assoc {
		out[name] = Dimensions{Width: img.Width, Height: img.Height}
	}
	return out
}

// ReadAssociatedImage returns the decoded pixels of the named
// associated image.
func (s *Slide) ReadAssociatedImage(name string) (*Image, error) {
	if err := s.GetError(); err != nil {
		return nil, err
	}
	img, ok := s.assoc[name]
	if !ok {
		return nil, s.setError(core.Failed("no associated image named %q", name))
	}
	pix := make([]byte, len(img.Pix))
	copy(pix, img.Pix)
	return &Image{Pix: pix, Width: img.Width, Height: img.Height}, nil
}

// GetError returns the slide's sticky render error, or nil if no
// render call has failed yet.
func (s *Slide) GetError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// setError records err as the slide's sticky error if none is set yet
// and returns whichever error is now stored — the argument on a first
// call, or the previously stored one on every call after.
func (s *Slide) setError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	return s.err
}
