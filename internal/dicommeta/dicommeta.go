// Package dicommeta provides thin typed accessors (C3) over a parsed
// DICOM dataset for the formats/dicom vendor: the subset of the file
// meta header and data-set elements a whole-slide DICOM instance
// carries, plus decoded pixel frames.
package dicommeta

import (
	"strconv"

	"github.com/cocosip/go-dicom/pkg/dicom/parser"
	"github.com/cocosip/go-dicom/pkg/dicom/tag"
	"github.com/cocosip/go-dicom/pkg/imaging"

	"github.com/cocosip/go-wsi/internal/core"
)

// tagTotalPixelMatrixColumns and tagTotalPixelMatrixRows are DICOM
// Supplement 145 Whole Slide Microscopy tags (0048,0006) and
// (0048,0007): the full pyramid level's pixel dimensions, as opposed
// to tag.Rows/tag.Columns which name one frame's (tile's) dimensions.
// No symbolic constant for them is attested anywhere in the example
// pack, so they are named by group/element directly, same as any DICOM
// toolkit does for a tag outside its curated dictionary subset.
var (
	tagTotalPixelMatrixColumns = tag.Tag{Group: 0x0048, Element: 0x0006}
	tagTotalPixelMatrixRows    = tag.Tag{Group: 0x0048, Element: 0x0007}
	tagNumberOfFrames          = tag.Tag{Group: 0x0028, Element: 0x0008}
	tagSeriesInstanceUID       = tag.Tag{Group: 0x0020, Element: 0x000E}
)

// Instance is one parsed DICOM WSI pyramid-level instance: one file,
// holding NumberOfFrames tiles of TileWidth x TileHeight each, tiling
// a MatrixWidth x MatrixHeight pixel matrix.
type Instance struct {
	Path                 string
	SeriesInstanceUID    string
	Modality             string
	PhotometricInterp    string
	TileWidth            int
	TileHeight           int
	MatrixWidth          int64
	MatrixHeight         int64
	NumberOfFrames       int
	SamplesPerPixel      int
	BitsAllocated        int
	pixelData            *imaging.PixelData
}

// Open parses path as a DICOM file and decodes its pixel data through
// go-dicom's imaging package, which in turn dispatches compressed
// frames to whichever codec is registered under the file's transfer
// syntax (internal/codecbridge's sibling registration, performed the
// same way by any DICOM toolkit: blank-import the codecs it intends to
// support, then let the imaging layer look them up by UID).
func Open(path string) (*Instance, error) {
	res, err := parser.ParseFile(path, parser.WithReadOption(parser.ReadAll))
	if err != nil {
		return nil, core.IOError(err, "Couldn't parse DICOM file %s", path)
	}
	ds := res.Dataset

	pd, err := imaging.CreatePixelData(ds)
	if err != nil {
		return nil, core.BadData("Couldn't decode pixel data in %s: %v", path, err)
	}

	seriesUID, _ := ds.GetString(tagSeriesInstanceUID)
	modality, _ := ds.GetString(tag.Modality)
	photometric, _ := ds.GetString(tag.PhotometricInterpretation)

	matrixW := int64(ds.TryGetUInt16(tag.Columns, 0))
	matrixH := int64(ds.TryGetUInt16(tag.Rows, 0))
	// TotalPixelMatrixColumns/Rows are VR UL (32-bit), wider than the
	// per-frame Columns/Rows (VR US) the attested TryGetUInt16 family
	// covers; TryGetUInt32 is the same accessor family at the wider
	// width a DICOM toolkit would need for it.
	if v := ds.TryGetUInt32(tagTotalPixelMatrixColumns, 0); v != 0 {
		matrixW = int64(v)
	}
	if v := ds.TryGetUInt32(tagTotalPixelMatrixRows, 0); v != 0 {
		matrixH = int64(v)
	}

	numFrames := pd.FrameCount()
	if raw, ok := ds.GetString(tagNumberOfFrames); ok {
		if v, err := strconv.Atoi(raw); err == nil {
			numFrames = v
		}
	}

	info := pd.Info
	return &Instance{
		Path:              path,
		SeriesInstanceUID: seriesUID,
		Modality:          modality,
		PhotometricInterp: photometric,
		TileWidth:         info.Width,
		TileHeight:        info.Height,
		MatrixWidth:       matrixW,
		MatrixHeight:      matrixH,
		NumberOfFrames:    numFrames,
		SamplesPerPixel:   info.SamplesPerPixel,
		BitsAllocated:     info.BitsAllocated,
		pixelData:         pd,
	}, nil
}

// TilesAcross and TilesDown report the frame grid implied by the
// instance's pixel matrix and per-frame tile size.
func (in *Instance) TilesAcross() int {
	return int((in.MatrixWidth + int64(in.TileWidth) - 1) / int64(in.TileWidth))
}

func (in *Instance) TilesDown() int {
	return int((in.MatrixHeight + int64(in.TileHeight) - 1) / int64(in.TileHeight))
}

// Frame returns the raw decoded samples of frame i, interleaved
// SamplesPerPixel-wide.
func (in *Instance) Frame(i int) ([]byte, error) {
	if i < 0 || i >= in.pixelData.FrameCount() {
		return nil, core.Failed("Frame %d out of range for %s", i, in.Path)
	}
	frame, err := in.pixelData.GetFrame(i)
	if err != nil {
		return nil, core.Prefix(err, "Couldn't decode frame %d of %s", i, in.Path)
	}
	return frame, nil
}

// AllFrameBytesConcat concatenates every frame's raw bytes in
// ascending frame order: the C8 fingerprint input for the DICOM
// vendor, since there is no single TIFF-style directory to point at.
func (in *Instance) AllFrameBytesConcat() ([]byte, error) {
	var out []byte
	for i := 0; i < in.NumberOfFrames; i++ {
		f, err := in.Frame(i)
		if err != nil {
			return nil, err
		}
		out = append(out, f...)
	}
	return out, nil
}
