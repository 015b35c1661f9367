// Package sqliteindex is the C3 typed accessor layer for the
// "indexed" supplemental vendor (formats/indexed, see SPEC_FULL.md
// §5): a non-TIFF container whose tile offsets and already-decoded
// pixel blobs live in an embedded SQLite database, queried through a
// pooled connection exactly as bureau-foundation-bureau's
// lib/sqlitepool wraps zombiezen.com/go/sqlite.
package sqliteindex

import (
	"context"
	"fmt"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cocosip/go-wsi/internal/core"
)

// Schema is the expected container layout. A container file is valid
// iff every one of these tables exists; Open's probe check queries
// sqlite_master rather than trying (and catching a failure from) a
// real SELECT, so a non-SQLite file declines cheaply too.
const Schema = `
CREATE TABLE IF NOT EXISTS levels (
	idx INTEGER PRIMARY KEY,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	tile_width INTEGER NOT NULL,
	tile_height INTEGER NOT NULL,
	downsample REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS tiles (
	level INTEGER NOT NULL,
	col INTEGER NOT NULL,
	row INTEGER NOT NULL,
	pix BLOB NOT NULL,
	PRIMARY KEY (level, col, row)
);
CREATE TABLE IF NOT EXISTS properties (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS associated_images (
	name TEXT PRIMARY KEY,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	pix BLOB NOT NULL
);
`

var requiredTables = []string{"levels", "tiles", "properties", "associated_images"}

// LevelMeta is one row of the levels table.
type LevelMeta struct {
	Index      int
	Width      int64
	Height     int64
	TileWidth  int
	TileHeight int
	Downsample float64
}

// AssociatedImageMeta is one row of the associated_images table,
// pixels included (these are thumbnail-sized, unlike tile blobs).
type AssociatedImageMeta struct {
	Name   string
	Width  int
	Height int
	Pix    []byte
}

// Index is a pooled, read-only handle onto one container database.
// Every level built from it shares the same Index, so Close is
// idempotent: the first call closes the pool, every later call (one
// per level's tileSource, at Slide.Close) is a no-op returning the
// same result.
type Index struct {
	pool *sqlitex.Pool
	path string

	closeOnce sync.Once
	closeErr  error
}

// Open opens path as a SQLite database and verifies it has the
// indexed-container schema. Returns core.FormatNotSupported if the
// file isn't a SQLite database at all, or is one but lacks the
// required tables.
func Open(path string) (*Index, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{PoolSize: 4})
	if err != nil {
		return nil, core.FormatNotSupported("indexed: not a SQLite database: %v", err)
	}

	idx := &Index{pool: pool, path: path}
	ok, err := idx.hasSchema()
	if err != nil {
		idx.Close()
		return nil, err
	}
	if !ok {
		idx.Close()
		return nil, core.FormatNotSupported("indexed: missing tile-index tables")
	}
	return idx, nil
}

func (idx *Index) hasSchema() (bool, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return false, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	found := map[string]bool{}
	err = sqlitex.Execute(conn,
		"SELECT name FROM sqlite_master WHERE type='table'",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found[stmt.ColumnText(0)] = true
				return nil
			},
		})
	if err != nil {
		return false, core.BadData("indexed: couldn't enumerate tables in %s: %v", idx.path, err)
	}
	for _, t := range requiredTables {
		if !found[t] {
			return false, nil
		}
	}
	return true, nil
}

// Close releases the connection pool.
func (idx *Index) Close() error {
	idx.closeOnce.Do(func() {
		if err := idx.pool.Close(); err != nil {
			idx.closeErr = fmt.Errorf("sqliteindex: closing %s: %w", idx.path, err)
		}
	})
	return idx.closeErr
}

// Levels returns every level row, ordered by idx.
func (idx *Index) Levels() ([]LevelMeta, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return nil, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	var levels []LevelMeta
	err = sqlitex.Execute(conn,
		"SELECT idx, width, height, tile_width, tile_height, downsample FROM levels ORDER BY idx",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				levels = append(levels, LevelMeta{
					Index:      int(stmt.ColumnInt64(0)),
					Width:      stmt.ColumnInt64(1),
					Height:     stmt.ColumnInt64(2),
					TileWidth:  int(stmt.ColumnInt64(3)),
					TileHeight: int(stmt.ColumnInt64(4)),
					Downsample: stmt.ColumnFloat(5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, core.BadData("indexed: couldn't read levels table in %s: %v", idx.path, err)
	}
	if len(levels) == 0 {
		return nil, core.BadData("indexed: %s has no levels", idx.path)
	}
	return levels, nil
}

// Properties returns every (key, value) row.
func (idx *Index) Properties() (map[string]string, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return nil, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	props := map[string]string{}
	err = sqlitex.Execute(conn, "SELECT key, value FROM properties", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			props[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return nil, core.BadData("indexed: couldn't read properties table in %s: %v", idx.path, err)
	}
	return props, nil
}

// AssociatedImages returns every associated image, pixels included.
func (idx *Index) AssociatedImages() (map[string]AssociatedImageMeta, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return nil, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	out := map[string]AssociatedImageMeta{}
	err = sqlitex.Execute(conn, "SELECT name, width, height, pix FROM associated_images", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			name := stmt.ColumnText(0)
			pix := make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, pix)
			out[name] = AssociatedImageMeta{
				Name:   name,
				Width:  int(stmt.ColumnInt64(1)),
				Height: int(stmt.ColumnInt64(2)),
				Pix:    pix,
			}
			return nil
		},
	})
	if err != nil {
		return nil, core.BadData("indexed: couldn't read associated_images table in %s: %v", idx.path, err)
	}
	return out, nil
}

// Tile returns one tile's already-decoded premultiplied ARGB32 blob,
// or (nil, nil) if no row exists for that cell (a hole in the grid —
// the painter leaves the corresponding surface pixels transparent).
func (idx *Index) Tile(level, col, row int) ([]byte, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return nil, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	var pix []byte
	err = sqlitex.Execute(conn,
		"SELECT pix FROM tiles WHERE level = ? AND col = ? AND row = ?",
		&sqlitex.ExecOptions{
			Args: []any{level, col, row},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				pix = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, pix)
				return nil
			},
		})
	if err != nil {
		return nil, core.Prefix(err, "Couldn't read tile (%d,%d) of level %d in %s", col, row, level, idx.path)
	}
	return pix, nil
}

// SmallestLevelTileBytesConcat concatenates every tile blob of the
// coarsest (highest-index) level in (row, col) order: the C8
// fingerprint input for the indexed vendor.
func (idx *Index) SmallestLevelTileBytesConcat(level int) ([]byte, error) {
	conn, err := idx.pool.Take(context.Background())
	if err != nil {
		return nil, core.IOError(err, "Couldn't take SQLite connection for %s", idx.path)
	}
	defer idx.pool.Put(conn)

	var out []byte
	err = sqlitex.Execute(conn,
		"SELECT pix FROM tiles WHERE level = ? ORDER BY row, col",
		&sqlitex.ExecOptions{
			Args: []any{level},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				buf := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, buf)
				out = append(out, buf...)
				return nil
			},
		})
	if err != nil {
		return nil, core.BadData("indexed: couldn't build quickhash input from %s: %v", idx.path, err)
	}
	return out, nil
}
