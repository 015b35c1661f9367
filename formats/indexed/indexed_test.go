package indexed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/sqliteindex"
)

func buildFixture(t *testing.T, path string) {
	t.Helper()

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{PoolSize: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteindex.Schema, nil); err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}

	tile := make([]byte, 2*2*4)
	for i := range tile {
		tile[i] = byte(i + 1)
	}

	rows := []struct {
		query string
		args  []any
	}{
		{"INSERT INTO levels (idx, width, height, tile_width, tile_height, downsample) VALUES (?, ?, ?, ?, ?, ?)",
			[]any{0, int64(4), int64(4), 2, 2, 1.0}},
		{"INSERT INTO levels (idx, width, height, tile_width, tile_height, downsample) VALUES (?, ?, ?, ?, ?, ?)",
			[]any{1, int64(2), int64(2), 2, 2, 2.0}},
		{"INSERT INTO tiles (level, col, row, pix) VALUES (?, ?, ?, ?)", []any{0, 0, 0, tile}},
		{"INSERT INTO tiles (level, col, row, pix) VALUES (?, ?, ?, ?)", []any{0, 1, 0, tile}},
		{"INSERT INTO tiles (level, col, row, pix) VALUES (?, ?, ?, ?)", []any{1, 0, 0, tile}},
		{"INSERT INTO properties (key, value) VALUES (?, ?)", []any{"indexed.source", "fixture"}},
	}
	for _, r := range rows {
		if err := sqlitex.Execute(conn, r.query, &sqlitex.ExecOptions{Args: r.args}); err != nil {
			t.Fatalf("fixture insert %q: %v", r.query, err)
		}
	}
}

func TestProbeFileAcceptsValidContainer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.wsidb")
	buildFixture(t, path)

	file, err := diskio.Open(path)
	if err != nil {
		t.Fatalf("diskio.Open: %v", err)
	}
	defer file.Close()

	v := vendor{}
	desc, err := v.ProbeFile(file)
	if err != nil {
		t.Fatalf("ProbeFile: %v", err)
	}
	if desc.Vendor != "indexed" {
		t.Errorf("Vendor = %q, want indexed", desc.Vendor)
	}
	if len(desc.Levels) != 2 {
		t.Fatalf("len(Levels) = %d, want 2", len(desc.Levels))
	}
	if desc.Properties["openslide.vendor"] != "indexed" {
		t.Errorf("openslide.vendor = %q, want indexed", desc.Properties["openslide.vendor"])
	}
	if desc.Properties["indexed.source"] != "fixture" {
		t.Errorf("indexed.source = %q, want fixture", desc.Properties["indexed.source"])
	}
	if !desc.QuickhashSource.HasBytes || len(desc.QuickhashSource.Bytes) == 0 {
		t.Errorf("expected a non-empty byte-based quickhash source")
	}

	src := desc.Levels[0].Areas[0].Source
	if src.TilesAcross() != 2 || src.TilesDown() != 2 {
		t.Errorf("level 0 grid = %dx%d, want 2x2", src.TilesAcross(), src.TilesDown())
	}
	tileBytes, err := src.ReadTile(0, 0)
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	if len(tileBytes) != 2*2*4 {
		t.Errorf("len(tile) = %d, want %d", len(tileBytes), 2*2*4)
	}
	// A cached re-read must return the same bytes.
	again, err := src.ReadTile(0, 0)
	if err != nil {
		t.Fatalf("ReadTile (cached): %v", err)
	}
	if string(again) != string(tileBytes) {
		t.Errorf("cached ReadTile returned different bytes")
	}

	hole, err := src.ReadTile(1, 1)
	if err != nil {
		t.Fatalf("ReadTile(hole): %v", err)
	}
	if len(hole) != 2*2*4 {
		t.Errorf("len(hole tile) = %d, want %d (transparent filler)", len(hole), 2*2*4)
	}
	for _, b := range hole {
		if b != 0 {
			t.Fatalf("hole tile not fully transparent: %v", hole)
		}
	}
}

func TestProbeFileRejectsNonSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.bin")
	if err := os.WriteFile(path, []byte("definitely not a slide"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	file, err := diskio.Open(path)
	if err != nil {
		t.Fatalf("diskio.Open: %v", err)
	}
	defer file.Close()

	v := vendor{}
	if _, err := v.ProbeFile(file); !core.IsFormatNotSupported(err) {
		t.Fatalf("ProbeFile error = %v, want FormatNotSupported", err)
	}
}
