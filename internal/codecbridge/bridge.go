// Package codecbridge is the narrow adapter spec.md §6 calls for: the
// core never implements JPEG/JPEG-2000/JPEG-LS pixel decoding itself,
// it hands compressed tile bytes to github.com/cocosip/go-dicom-codec
// keyed by DICOM transfer-syntax UID and gets back raw samples.
package codecbridge

import (
	"github.com/cocosip/go-dicom-codec/codec"

	// Blank-imported for their init() self-registration into the
	// codec registry, exactly as a DICOM toolkit would import the
	// transfer syntaxes it intends to support.
	_ "github.com/cocosip/go-dicom-codec/jpeg/baseline"
	_ "github.com/cocosip/go-dicom-codec/jpeg/lossless"
	_ "github.com/cocosip/go-dicom-codec/jpeg2000/lossless"
	_ "github.com/cocosip/go-dicom-codec/jpeg2000/lossy"
	_ "github.com/cocosip/go-dicom-codec/jpegls/lossless"

	"github.com/cocosip/go-wsi/internal/core"
)

// UID is a DICOM transfer-syntax UID identifying a pixel codec.
type UID string

const (
	UIDJPEGBaseline    UID = "1.2.840.10008.1.2.4.50"
	UIDJPEGLosslessSV1 UID = "1.2.840.10008.1.2.4.70"
	UIDJPEGLSLossless  UID = "1.2.840.10008.1.2.4.80"
	UIDJPEG2000Lossless UID = "1.2.840.10008.1.2.4.90"
	UIDJPEG2000Lossy   UID = "1.2.840.10008.1.2.4.91"
)

// Decoded is the codec's raw output, prior to any ARGB32 conversion.
type Decoded struct {
	Samples    []byte
	Width      int
	Height     int
	Components int
	BitDepth   int
}

// Decode decodes one compressed tile's bytes through the codec
// registered under uid.
func Decode(uid UID, data []byte) (*Decoded, error) {
	c, err := codec.Get(string(uid))
	if err != nil {
		return nil, core.Prefix(err, "No codec registered for transfer syntax %s", uid)
	}
	res, err := c.Decode(data)
	if err != nil {
		return nil, core.Prefix(err, "Couldn't decode tile with codec %s", c.Name())
	}
	return &Decoded{
		Samples:    res.PixelData,
		Width:      res.Width,
		Height:     res.Height,
		Components: res.Components,
		BitDepth:   res.BitDepth,
	}, nil
}
