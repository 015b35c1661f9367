package grid

import "testing"

func TestPaintRegionCoversExpectedCells(t *testing.T) {
	g := NewSimple(4, 4, 10, 10)
	var got [][2]int
	err := g.PaintRegion(nil, 5, 5, 12, 12, func(_ *Surface, _, _ float64, col, row int) error {
		got = append(got, [2]int{col, row})
		return nil
	})
	if err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	want := map[[2]int]bool{{0, 0}: true, {1, 0}: true, {0, 1}: true, {1, 1}: true}
	if len(got) != len(want) {
		t.Fatalf("got %d cells, want %d: %v", len(got), len(want), got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("unexpected cell %v", c)
		}
	}
}

func TestPaintRegionNegativeOrigin(t *testing.T) {
	g := NewSimple(4, 4, 10, 10)
	var got [][2]int
	err := g.PaintRegion(nil, -15, -5, 20, 20, func(_ *Surface, _, _ float64, col, row int) error {
		got = append(got, [2]int{col, row})
		return nil
	})
	if err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	for _, c := range got {
		if c[0] < -2 || c[0] > 1 {
			t.Errorf("unexpected column %d", c[0])
		}
	}
}

func TestPaintRegionZeroSizeIsNoop(t *testing.T) {
	g := NewSimple(4, 4, 10, 10)
	called := false
	err := g.PaintRegion(nil, 0, 0, 0, 0, func(*Surface, float64, float64, int, int) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("PaintRegion: %v", err)
	}
	if called {
		t.Errorf("read callback invoked for a zero-size region")
	}
}

func TestPaintRegionStopsOnFirstError(t *testing.T) {
	g := NewSimple(4, 4, 10, 10)
	wantErr := errTest{}
	calls := 0
	err := g.PaintRegion(nil, 0, 0, 40, 40, func(*Surface, float64, float64, int, int) error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("expected to stop after first failure, got %d calls", calls)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
