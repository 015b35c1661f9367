// Package indexed implements the SQLite-indexed whole-slide vendor
// (§5 of SPEC_FULL.md): a non-TIFF container whose tile grid, level
// table, properties, and associated images all live as rows in an
// embedded SQLite database opened through internal/sqliteindex.
// Exercises the probe dispatch's non-TIFF branch, with tile-cache
// ownership scoped by a uuid.UUID generated per level rather than by
// a *struct identity.
package indexed

import (
	"github.com/google/uuid"

	"github.com/cocosip/go-wsi/formats"
	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/sqliteindex"
	"github.com/cocosip/go-wsi/internal/tilecache"
)

func init() {
	formats.Register(vendor{})
}

type vendor struct{}

func (vendor) Name() string { return "indexed" }

// sqliteMagic is the 16-byte header every SQLite 3 database file
// starts with.
const sqliteMagic = "SQLite format 3\x00"

// ProbeFile implements formats.Probe. It declines anything that isn't
// a SQLite database, or one without the tile-index schema.
func (vendor) ProbeFile(file *diskio.File) (*core.Descriptor, error) {
	hdr := make([]byte, len(sqliteMagic))
	if err := file.ReadExact(hdr, 0); err != nil {
		return nil, core.FormatNotSupported("indexed: file too short for a SQLite header")
	}
	if string(hdr) != sqliteMagic {
		return nil, core.FormatNotSupported("indexed: missing SQLite magic")
	}

	idx, err := sqliteindex.Open(file.Path())
	if err != nil {
		return nil, err
	}

	levelMeta, err := idx.Levels()
	if err != nil {
		idx.Close()
		return nil, err
	}

	cache := tilecache.New(tilecache.DefaultCapacityBytes)
	baseWidth := levelMeta[0].Width

	levels := make([]core.Level, 0, len(levelMeta))
	for _, lm := range levelMeta {
		owner := uuid.New()
		src := &tileSource{idx: idx, cache: cache, owner: owner, level: lm}
		downsample := lm.Downsample
		if downsample <= 0 {
			downsample = float64(baseWidth) / float64(lm.Width)
		}
		levels = append(levels, core.Level{
			Width:          lm.Width,
			Height:         lm.Height,
			Downsample:     downsample,
			ClicksPerPixel: 1.0,
			Areas:          []core.Area{{Source: src}},
		})
	}

	props, err := idx.Properties()
	if err != nil {
		idx.Close()
		return nil, err
	}
	props["openslide.vendor"] = "indexed"

	assocMeta, err := idx.AssociatedImages()
	if err != nil {
		idx.Close()
		return nil, err
	}
	assoc := make(map[string]core.AssociatedImage, len(assocMeta))
	for name, im := range assocMeta {
		assoc[name] = core.AssociatedImage{Width: im.Width, Height: im.Height, Pix: im.Pix}
	}

	coarsest := levelMeta[len(levelMeta)-1].Index
	fingerprint, err := idx.SmallestLevelTileBytesConcat(coarsest)
	if err != nil {
		idx.Close()
		return nil, err
	}

	return &core.Descriptor{
		Vendor:           "indexed",
		Levels:           levels,
		Properties:       props,
		AssociatedImages: assoc,
		QuickhashSource:  core.QuickhashSource{HasBytes: true, Bytes: fingerprint},
	}, nil
}

// tileSource adapts one level's rows of the tiles table into a
// core.TileSource. owner is a uuid.UUID generated once per level at
// probe time and used as the cache owner in place of a pointer to
// tileSource itself — tilecache.OwnerToken only requires comparability,
// which a uuid.UUID satisfies as well as a pointer does.
type tileSource struct {
	idx   *sqliteindex.Index
	cache *tilecache.Cache
	owner uuid.UUID
	level sqliteindex.LevelMeta
}

func (ts *tileSource) TilesAcross() int {
	return int((ts.level.Width + int64(ts.level.TileWidth) - 1) / int64(ts.level.TileWidth))
}

func (ts *tileSource) TilesDown() int {
	return int((ts.level.Height + int64(ts.level.TileHeight) - 1) / int64(ts.level.TileHeight))
}

func (ts *tileSource) TileWidth() int  { return ts.level.TileWidth }
func (ts *tileSource) TileHeight() int { return ts.level.TileHeight }

// Close releases the underlying SQLite connection pool. Every level's
// tileSource shares one *sqliteindex.Index, and Index.Close is
// idempotent, so Slide.Close may call this once per level without
// double-closing the pool. core.TileSource does not require Close;
// this is the optional io.Closer capability wsi.Slide checks for.
func (ts *tileSource) Close() error {
	return ts.idx.Close()
}

// ReadTile fetches one tile's already-decoded ARGB32 blob from the
// database, caching it keyed by (owner, col, row) so repeated reads of
// the same tile avoid a round trip through the connection pool. A
// missing row (a hole in the grid) yields a fully transparent tile
// rather than an error.
func (ts *tileSource) ReadTile(col, row int) ([]byte, error) {
	if h, ok := ts.cache.Get(ts.owner, col, row); ok {
		defer h.Release()
		return h.Bytes(), nil
	}

	pix, err := ts.idx.Tile(ts.level.Index, col, row)
	if err != nil {
		return nil, err
	}
	want := ts.level.TileWidth * ts.level.TileHeight * 4
	if pix == nil {
		pix = make([]byte, want)
	} else if len(pix) != want {
		return nil, core.BadData("indexed: tile (%d,%d) of level %d has %d bytes, want %d",
			col, row, ts.level.Index, len(pix), want)
	}

	h := ts.cache.Put(ts.owner, col, row, pix)
	defer h.Release()
	return h.Bytes(), nil
}
