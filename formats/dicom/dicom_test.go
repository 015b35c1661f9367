package dicom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
)

func TestPackFrameGrayscale(t *testing.T) {
	samples := []byte{10, 20, 30, 40}
	dst := make([]byte, len(samples)*4)
	packFrame(samples, 1, dst)

	for i, v := range samples {
		d := i * 4
		if dst[d] != v || dst[d+1] != v || dst[d+2] != v || dst[d+3] != 255 {
			t.Errorf("pixel %d = %v, want (%d,%d,%d,255)", i, dst[d:d+4], v, v, v)
		}
	}
}

func TestPackFrameRGB(t *testing.T) {
	// Two RGB pixels: (1,2,3) and (4,5,6).
	samples := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, 2*4)
	packFrame(samples, 3, dst)

	// packFrame writes B, G, R, A (premultiplied ARGB32 byte order).
	want := []byte{3, 2, 1, 255, 6, 5, 4, 255}
	for i := range dst {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestPackFrameUnsupportedComponentsIsNoop(t *testing.T) {
	dst := make([]byte, 4*4)
	for i := range dst {
		dst[i] = 0xAB
	}
	packFrame([]byte{1, 2, 3, 4}, 4, dst)
	for _, b := range dst {
		if b != 0xAB {
			t.Fatalf("unsupported component count must leave dst untouched, got %v", dst)
		}
	}
}

func TestProbeFileRejectsMissingDICMMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-dicom.dcm")
	if err := os.WriteFile(path, make([]byte, 200), 0o600); err != nil {
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

func TestProbeFileRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.dcm")
	if err := os.WriteFile(path, []byte("too short"), 0o600); err != nil {
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
