package core

import (
	"testing"

	"github.com/cocosip/go-wsi/internal/grid"
)

type fakeSource struct {
	across, down, w, h int
	fill               byte
	reads              int
}

func (f *fakeSource) TilesAcross() int { return f.across }
func (f *fakeSource) TilesDown() int   { return f.down }
func (f *fakeSource) TileWidth() int   { return f.w }
func (f *fakeSource) TileHeight() int  { return f.h }

func (f *fakeSource) ReadTile(col, row int) ([]byte, error) {
	f.reads++
	buf := make([]byte, f.w*f.h*4)
	for i := 0; i < f.w*f.h; i++ {
		buf[i*4] = f.fill
		buf[i*4+3] = 255
	}
	return buf, nil
}

func TestPaintRegionSingleArea(t *testing.T) {
	src := &fakeSource{across: 2, down: 2, w: 4, h: 4, fill: 0x42}
	level := &Level{
		Width: 8, Height: 8, Downsample: 1.0, ClicksPerPixel: 1.0,
		Areas: []Area{{Source: src}},
	}
	surface := grid.NewSurface(8, 8)
	if err := PaintRegion(level, surface, 0, 0, 8, 8); err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	if src.reads != 4 {
		t.Fatalf("expected 4 tile reads, got %d", src.reads)
	}
	if surface.Pix[0] != 0x42 {
		t.Fatalf("expected painted top-left pixel, got surface %v", surface.Pix[:4])
	}
}

func TestPaintRegionOutsideCanvasStaysTransparent(t *testing.T) {
	src := &fakeSource{across: 2, down: 2, w: 4, h: 4, fill: 0x99}
	level := &Level{
		Width: 8, Height: 8, Downsample: 1.0, ClicksPerPixel: 1.0,
		Areas: []Area{{Source: src}},
	}
	surface := grid.NewSurface(4, 4)
	if err := PaintRegion(level, surface, 100, 100, 4, 4); err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	for _, b := range surface.Pix {
		if b != 0 {
			t.Fatalf("expected fully transparent surface, got %v", surface.Pix)
		}
	}
}

func TestPaintRegionRespectsAreaOffset(t *testing.T) {
	left := &fakeSource{across: 1, down: 1, w: 4, h: 4, fill: 0x10}
	right := &fakeSource{across: 1, down: 1, w: 4, h: 4, fill: 0x20}
	level := &Level{
		Width: 8, Height: 4, Downsample: 1.0, ClicksPerPixel: 1.0,
		Areas: []Area{
			{Source: left, OffsetXClicks: 0},
			{Source: right, OffsetXClicks: 4},
		},
	}
	surface := grid.NewSurface(8, 4)
	if err := PaintRegion(level, surface, 0, 0, 8, 4); err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	if surface.Pix[0] != 0x10 {
		t.Fatalf("expected left area pixel at x=0, got %v", surface.Pix[0])
	}
	if surface.Pix[4*4] != 0x20 {
		t.Fatalf("expected right area pixel at x=4, got %v", surface.Pix[4*4])
	}
}

func TestBestLevelForDownsample(t *testing.T) {
	levels := []Level{{Downsample: 1.0}, {Downsample: 2.0}, {Downsample: 4.0}}
	cases := map[float64]int{
		0.5: 0,
		1.0: 0,
		1.9: 0,
		2.0: 1,
		3.9: 1,
		4.0: 2,
		100: 2,
	}
	for d, want := range cases {
		if got := BestLevelForDownsample(levels, d); got != want {
			t.Errorf("BestLevelForDownsample(%v) = %d, want %d", d, got, want)
		}
	}
}
