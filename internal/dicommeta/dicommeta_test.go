package dicommeta

import "testing"

func TestTilesAcrossAndDown(t *testing.T) {
	cases := []struct {
		name                string
		matrixW, matrixH    int64
		tileW, tileH        int
		wantAcross, wantDown int
	}{
		{"exact fit", 512, 512, 256, 256, 2, 2},
		{"partial last tile", 500, 500, 256, 256, 2, 2},
		{"single tile", 200, 100, 256, 256, 1, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := &Instance{MatrixWidth: c.matrixW, MatrixHeight: c.matrixH, TileWidth: c.tileW, TileHeight: c.tileH}
			if got := in.TilesAcross(); got != c.wantAcross {
				t.Errorf("TilesAcross() = %d, want %d", got, c.wantAcross)
			}
			if got := in.TilesDown(); got != c.wantDown {
				t.Errorf("TilesDown() = %d, want %d", got, c.wantDown)
			}
		})
	}
}
