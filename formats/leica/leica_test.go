package leica

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/tiff"
)

// --- minimal in-memory TIFF builder, covering only what this test
// needs: classic little-endian, tiled, uncompressed RGB, a chain of
// directories, and one ASCII tag long enough to need offset
// indirection (the ImageDescription holding the SCN XML). ---

type rawEntry struct {
	tag   tiff.Tag
	typ   uint16
	count uint32
	value []byte // already laid out as either the inline 4-byte value or nothing (offset filled in later)
	bytes []byte // full out-of-line payload, nil if inline
}

type dirSpec struct {
	width, height int
	desc          string // ImageDescription; empty means omit the tag
	tileRGB       [3]byte
}

const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

func shortVal(v uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func longVal(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// buildTIFF assembles a multi-directory classic TIFF, each directory
// tiled into a single 4x4 tile for simplicity, chained in slice order.
func buildTIFF(t *testing.T, specs []dirSpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	// First pass: lay out directories back to back, leaving room for
	// ASCII payloads and tile data after each directory's fixed entries.
	type built struct {
		entries []rawEntry
		desc    []byte
		tile    []byte
	}
	all := make([]built, len(specs))
	for i, s := range specs {
		tile := make([]byte, 4*4*3)
		for p := 0; p < 16; p++ {
			tile[p*3+0] = s.tileRGB[0]
			tile[p*3+1] = s.tileRGB[1]
			tile[p*3+2] = s.tileRGB[2]
		}
		entries := []rawEntry{
			{tag: tiff.TagImageWidth, typ: typeLong, count: 1, value: longVal(uint32(s.width))},
			{tag: tiff.TagImageLength, typ: typeLong, count: 1, value: longVal(uint32(s.height))},
			{tag: tiff.TagCompression, typ: typeShort, count: 1, value: shortVal(uint16(tiff.CompressionNone))},
			{tag: tiff.TagSamplesPerPixel, typ: typeShort, count: 1, value: shortVal(3)},
			{tag: tiff.TagTileWidth, typ: typeShort, count: 1, value: shortVal(4)},
			{tag: tiff.TagTileLength, typ: typeShort, count: 1, value: shortVal(4)},
		}
		if s.desc != "" {
			entries = append(entries, rawEntry{tag: tiff.TagImageDescription, typ: typeASCII, count: uint32(len(s.desc) + 1), bytes: append([]byte(s.desc), 0)})
		}
		all[i] = built{entries: entries, tile: tile}
	}

	// Compute offsets: each directory is (2 + 12*n + 4) bytes, followed
	// by any out-of-line ASCII payloads, followed by the tile.
	type placed struct {
		dirOff  int64
		descOff int64
		tileOff int64
	}
	places := make([]placed, len(all))
	off := int64(8)
	for i, b := range all {
		places[i].dirOff = off
		// +2 for the TileOffsets/TileByteCounts entries appended in the
		// second pass below, not yet present in b.entries here.
		dirSize := int64(2 + 12*(len(b.entries)+2) + 4)
		off += dirSize
		for j := range b.entries {
			if b.entries[j].bytes != nil {
				places[i].descOff = off
				off += int64(len(b.entries[j].bytes))
			}
		}
		places[i].tileOff = off
		off += int64(len(b.tile))
	}

	for i, b := range all {
		entries := b.entries
		tileOffsetsEntry := rawEntry{tag: tiff.TagTileOffsets, typ: typeLong, count: 1, value: longVal(uint32(places[i].tileOff))}
		tileCountsEntry := rawEntry{tag: tiff.TagTileByteCounts, typ: typeLong, count: 1, value: longVal(uint32(len(b.tile)))}
		entries = append(entries, tileOffsetsEntry, tileCountsEntry)

		binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
		for _, e := range entries {
			binary.Write(&buf, binary.LittleEndian, uint16(e.tag))
			binary.Write(&buf, binary.LittleEndian, uint16(e.typ))
			binary.Write(&buf, binary.LittleEndian, e.count)
			if e.bytes != nil {
				binary.Write(&buf, binary.LittleEndian, uint32(places[i].descOff))
			} else {
				buf.Write(e.value)
			}
		}
		var next uint32
		if i+1 < len(all) {
			next = uint32(places[i+1].dirOff)
		}
		binary.Write(&buf, binary.LittleEndian, next)

		for _, e := range b.entries {
			if e.bytes != nil {
				buf.Write(e.bytes)
			}
		}
		buf.Write(b.tile)
	}

	return buf.Bytes()
}

const testSCN = `<?xml version="1.0" encoding="UTF-8"?>
<scn xmlns="http://www.leica-microsystems.com/scn/2010/10/01">
  <collection sizeX="10" sizeY="10">
    <barcode>TEST1</barcode>
    <image>
      <creationDate>2021-05-01T00:00:00Z</creationDate>
      <device model="SCN400" version="2.0"/>
      <scanSettings>
        <illuminationSettings>
          <illuminationSource>brightfield</illuminationSource>
          <numericalAperture>0.4</numericalAperture>
        </illuminationSettings>
        <objectiveSettings>
          <objective>10x</objective>
        </objectiveSettings>
      </scanSettings>
      <view sizeX="8" sizeY="8" offsetX="1" offsetY="1"/>
      <pixels>
        <dimension ifd="0" sizeX="8" sizeY="8" z="0"/>
        <dimension ifd="1" sizeX="4" sizeY="4" z="0"/>
      </pixels>
    </image>
  </collection>
</scn>`

func writeTempTIFF(t *testing.T, data []byte) *diskio.File {
	t.Helper()
	path := t.TempDir() + "/slide.scn"
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	f, err := diskio.Open(path)
	if err != nil {
		t.Fatalf("diskio.Open: %v", err)
	}
	return f
}

func TestProbeTIFFAcceptsLegacySingleMainImage(t *testing.T) {
	data := buildTIFF(t, []dirSpec{
		{width: 8, height: 8, desc: testSCN, tileRGB: [3]byte{10, 20, 30}},
		{width: 4, height: 4, tileRGB: [3]byte{10, 20, 30}},
	})

	rd, err := tiff.Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("tiff.Open: %v", err)
	}

	f := writeTempTIFF(t, data)
	defer f.Close()

	v := vendor{}
	desc, err := v.ProbeTIFF(f, rd)
	if err != nil {
		t.Fatalf("ProbeTIFF: %v", err)
	}
	if desc.Vendor != "leica" {
		t.Errorf("Vendor = %q, want leica", desc.Vendor)
	}
	if len(desc.Levels) != 2 {
		t.Fatalf("len(Levels) = %d, want 2", len(desc.Levels))
	}
	if desc.Levels[0].Downsample != 1.0 {
		t.Errorf("level 0 downsample = %v, want 1.0", desc.Levels[0].Downsample)
	}
	if desc.Properties["leica.barcode"] != "TEST1" {
		t.Errorf("leica.barcode = %q, want TEST1", desc.Properties["leica.barcode"])
	}
	if desc.Properties["openslide.objective-power"] != "10" {
		t.Errorf("openslide.objective-power = %q, want 10", desc.Properties["openslide.objective-power"])
	}
	if !desc.QuickhashSource.HasDirectory {
		t.Fatalf("expected legacy quickhash mode to select a directory")
	}
	if desc.QuickhashSource.DirectoryIndex != 1 {
		t.Errorf("quickhash directory = %d, want 1 (smallest main dimension)", desc.QuickhashSource.DirectoryIndex)
	}
	if _, ok := desc.AssociatedImages["macro"]; ok {
		t.Errorf("expected no macro associated image when no macro image is present")
	}
}

func TestProbeTIFFRejectsNonLeicaDescription(t *testing.T) {
	data := buildTIFF(t, []dirSpec{
		{width: 8, height: 8, desc: "not leica at all", tileRGB: [3]byte{1, 2, 3}},
	})
	rd, err := tiff.Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("tiff.Open: %v", err)
	}
	f := writeTempTIFF(t, data)
	defer f.Close()

	v := vendor{}
	if _, err := v.ProbeTIFF(f, rd); !core.IsFormatNotSupported(err) {
		t.Fatalf("ProbeTIFF error = %v, want FormatNotSupported", err)
	}
}

func TestResolutionSimilar(t *testing.T) {
	if !resolutionSimilar(1.0, 1.0) {
		t.Errorf("identical values should be similar")
	}
	if !resolutionSimilar(1.01, 1.0) {
		t.Errorf("1%% difference should pass the 98%% threshold")
	}
	if resolutionSimilar(1.05, 1.0) {
		t.Errorf("5%% difference should fail the 98%% threshold")
	}
}
