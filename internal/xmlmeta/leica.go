// Package xmlmeta provides typed accessors over the Leica SCN XML
// metadata format carried in a slide's first TIFF directory's
// ImageDescription tag (C3).
package xmlmeta

import (
	"encoding/xml"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/cocosip/go-wsi/internal/core"
)

// Namespace is the XML namespace every Leica SCN document declares.
const Namespace = "http://www.leica-microsystems.com/scn/2010/10/01"

// Collection is the whole parsed XML payload: built during open,
// consumed into core.Level/core.Area, then discarded.
type Collection struct {
	Barcode      string
	ClicksAcross int64
	ClicksDown   int64
	Images       []Image
}

// Image is one vendor metadata image record.
type Image struct {
	IsMacro            bool
	CreationDate       string
	DeviceModel        string
	DeviceVersion      string
	IlluminationSource string
	NumericalAperture  string
	Objective          string
	ClicksOffsetX      float64
	ClicksOffsetY      float64
	ClicksAcross       int64
	ClicksDown         int64
	Dimensions         []Dimension
}

// Dimension is one pyramid level of one Image: a TIFF directory index
// plus the pixel size recorded for it and the derived clicks_per_pixel
// scale.
type Dimension struct {
	Dir            int
	Width          int64
	Height         int64
	Z              int
	ClicksPerPixel float64
}

// --- raw XML document shape ---

type xmlRoot struct {
	XMLName    xml.Name      `xml:"scn"`
	Collection xmlCollection `xml:"collection"`
}

type xmlCollection struct {
	Barcode string    `xml:"barcode"`
	SizeX   int64     `xml:"sizeX,attr"`
	SizeY   int64     `xml:"sizeY,attr"`
	Images  []xmlImage `xml:"image"`
}

type xmlImage struct {
	CreationDate string          `xml:"creationDate"`
	Device       xmlDevice       `xml:"device"`
	ScanSettings xmlScanSettings `xml:"scanSettings"`
	View         xmlView         `xml:"view"`
	Pixels       xmlPixels       `xml:"pixels"`
}

type xmlDevice struct {
	Model   string `xml:"model,attr"`
	Version string `xml:"version,attr"`
}

type xmlScanSettings struct {
	IlluminationSettings xmlIlluminationSettings `xml:"illuminationSettings"`
	ObjectiveSettings    xmlObjectiveSettings    `xml:"objectiveSettings"`
}

type xmlIlluminationSettings struct {
	IlluminationSource string `xml:"illuminationSource"`
	NumericalAperture  string `xml:"numericalAperture"`
}

type xmlObjectiveSettings struct {
	Objective string `xml:"objective"`
}

type xmlView struct {
	SizeX   int64 `xml:"sizeX,attr"`
	SizeY   int64 `xml:"sizeY,attr"`
	OffsetX int64 `xml:"offsetX,attr"`
	OffsetY int64 `xml:"offsetY,attr"`
}

type xmlPixels struct {
	Dimensions []xmlDimension `xml:"dimension"`
}

type xmlDimension struct {
	IFD   int   `xml:"ifd,attr"`
	SizeX int64 `xml:"sizeX,attr"`
	SizeY int64 `xml:"sizeY,attr"`
	Z     int   `xml:"z,attr"`
}

// Sniff reports whether desc looks like a Leica SCN ImageDescription,
// without fully parsing it — cheap enough to run during probe before
// committing to the real parse.
func Sniff(desc string) bool {
	return containsNamespace(desc)
}

func containsNamespace(desc string) bool {
	return indexString(desc, Namespace) >= 0
}

func indexString(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Parse parses a Leica SCN ImageDescription into a Collection, filtering
// each image's dimension list to z == 0 (multi-z is out of scope; see
// the original source's own comment to this effect).
func Parse(desc string) (*Collection, error) {
	if !containsNamespace(desc) {
		return nil, core.FormatNotSupported("Not a Leica slide")
	}

	clean, err := sanitizeUTF8(desc)
	if err != nil {
		return nil, core.BadData("Couldn't sanitize Leica XML: %v", err)
	}

	var root xmlRoot
	if err := xml.Unmarshal([]byte(clean), &root); err != nil {
		return nil, core.BadData("Couldn't parse Leica XML: %v", err)
	}

	collection := &Collection{
		Barcode:      root.Collection.Barcode,
		ClicksAcross: root.Collection.SizeX,
		ClicksDown:   root.Collection.SizeY,
	}

	for _, xi := range root.Collection.Images {
		img := Image{
			CreationDate:       xi.CreationDate,
			DeviceModel:        xi.Device.Model,
			DeviceVersion:      xi.Device.Version,
			IlluminationSource: xi.ScanSettings.IlluminationSettings.IlluminationSource,
			NumericalAperture:  xi.ScanSettings.IlluminationSettings.NumericalAperture,
			Objective:          xi.ScanSettings.ObjectiveSettings.Objective,
			ClicksOffsetX:      float64(xi.View.OffsetX),
			ClicksOffsetY:      float64(xi.View.OffsetY),
			ClicksAcross:       xi.View.SizeX,
			ClicksDown:         xi.View.SizeY,
		}
		img.IsMacro = xi.View.OffsetX == 0 && xi.View.OffsetY == 0 &&
			xi.View.SizeX == collection.ClicksAcross &&
			xi.View.SizeY == collection.ClicksDown

		for _, xd := range xi.Pixels.Dimensions {
			if xd.Z != 0 {
				// TODO: multi-z dimensions are dropped, matching the
				// original implementation; there is no z-stack API.
				continue
			}
			if xd.SizeX <= 0 {
				return nil, core.BadData("Leica dimension has non-positive width")
			}
			img.Dimensions = append(img.Dimensions, Dimension{
				Dir:            xd.IFD,
				Width:          xd.SizeX,
				Height:         xd.SizeY,
				Z:              xd.Z,
				ClicksPerPixel: float64(img.ClicksAcross) / float64(xd.SizeX),
			})
		}

		collection.Images = append(collection.Images, img)
	}

	return collection, nil
}

// sanitizeUTF8 replaces non-UTF-8 byte sequences occasionally present
// in vendor ImageDescription blobs (legacy Windows-1252 text dropped
// into an otherwise UTF-8-declared document) with their Windows-1252
// interpretation before XML parsing, rather than letting the decoder
// fail outright.
func sanitizeUTF8(s string) (string, error) {
	if isValidUTF8(s) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] < 0x80 {
			b.WriteByte(s[i])
			i++
		} else if n := utf8SequenceLength(s[i:]); n > 0 {
			b.WriteString(s[i : i+n])
			i += n
		} else {
			b.WriteRune(charmap.Windows1252.DecodeByte(s[i]))
			i++
		}
	}
	return b.String(), nil
}

func isValidUTF8(s string) bool {
	for i := 0; i < len(s); {
		r := s[i]
		if r < 0x80 {
			i++
			continue
		}
		size := utf8SequenceLength(s[i:])
		if size == 0 {
			return false
		}
		i += size
	}
	return true
}

// utf8SequenceLength returns the length of the UTF-8 sequence starting
// at s, or 0 if it is malformed.
func utf8SequenceLength(s string) int {
	if len(s) == 0 {
		return 0
	}
	b0 := s[0]
	var n int
	switch {
	case b0&0xE0 == 0xC0:
		n = 2
	case b0&0xF0 == 0xE0:
		n = 3
	case b0&0xF8 == 0xF0:
		n = 4
	default:
		return 0
	}
	if len(s) < n {
		return 0
	}
	for i := 1; i < n; i++ {
		if s[i]&0xC0 != 0x80 {
			return 0
		}
	}
	return n
}

// ParseObjectivePower extracts the leading integer portion of a Leica
// objective string (e.g. "20x water" -> "20"), mirroring
// _openslide_duplicate_int_prop's behaviour of keeping only the
// integer prefix.
func ParseObjectivePower(objective string) (string, bool) {
	i := 0
	for i < len(objective) && objective[i] >= '0' && objective[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", false
	}
	if _, err := strconv.Atoi(objective[:i]); err != nil {
		return "", false
	}
	return objective[:i], true
}
