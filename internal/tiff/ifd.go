package tiff

import (
	"encoding/binary"
	"io"

	"github.com/cocosip/go-wsi/internal/core"
)

// entry is one parsed IFD tag: its raw values, already widened to
// uint64/int64 regardless of the on-disk field width, so callers never
// need to branch on classic vs. BigTIFF value sizes.
type entry struct {
	typ    fieldType
	count  int64
	uvals  []uint64
	bytes  []byte // raw bytes, used for ASCII and UNDEFINED
}

// Directory is one parsed TIFF IFD.
type Directory struct {
	tags map[Tag]entry
	next int64
}

func (d *Directory) Uint(tag Tag) (uint64, bool) {
	e, ok := d.tags[tag]
	if !ok || len(e.uvals) == 0 {
		return 0, false
	}
	return e.uvals[0], true
}

func (d *Directory) UintSlice(tag Tag) ([]uint64, bool) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, false
	}
	return e.uvals, true
}

func (d *Directory) String(tag Tag) (string, bool) {
	e, ok := d.tags[tag]
	if !ok || e.typ != typeASCII {
		return "", false
	}
	s := string(e.bytes)
	// ASCII fields are NUL-terminated; trim any trailing NULs.
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s, true
}

// Rational reads tag as an unsigned rational, returning numerator and
// denominator.
func (d *Directory) Rational(tag Tag) (num, den uint64, ok bool) {
	e, present := d.tags[tag]
	if !present || e.typ != typeRational || len(e.uvals) < 2 {
		return 0, 0, false
	}
	return e.uvals[0], e.uvals[1], true
}

func (d *Directory) Has(tag Tag) bool {
	_, ok := d.tags[tag]
	return ok
}

// Reader parses the TIFF/BigTIFF header and IFD chain of a file
// opened over a File or any other io.ReaderAt.
type Reader struct {
	r         io.ReaderAt
	order     binary.ByteOrder
	bigTiff   bool
	dirs      []Directory
}

// Open parses the header and walks the full IFD chain starting at the
// offset the header names.
func Open(r io.ReaderAt) (*Reader, error) {
	hdr := make([]byte, 8)
	if _, err := readFull(r, hdr, 0); err != nil {
		return nil, core.Prefix(err, "Couldn't read TIFF header")
	}

	var order binary.ByteOrder
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		order = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, core.FormatNotSupported("Not a TIFF file")
	}

	version := order.Uint16(hdr[2:4])
	rd := &Reader{r: r, order: order}

	var firstIFDOff int64
	switch version {
	case 42:
		firstIFDOff = int64(order.Uint32(hdr[4:8]))
	case 43:
		rd.bigTiff = true
		big := make([]byte, 8)
		if _, err := readFull(r, big, 8); err != nil {
			return nil, core.Prefix(err, "Couldn't read BigTIFF header")
		}
		offsetBytes := make([]byte, 8)
		if _, err := readFull(r, offsetBytes, 8); err != nil {
			return nil, core.Prefix(err, "Couldn't read BigTIFF first IFD offset")
		}
		firstIFDOff = int64(order.Uint64(offsetBytes))
	default:
		return nil, core.FormatNotSupported("Not a TIFF file: bad version %d", version)
	}

	off := firstIFDOff
	for off != 0 {
		dir, next, err := rd.readDirectory(off)
		if err != nil {
			return nil, err
		}
		rd.dirs = append(rd.dirs, dir)
		off = next
	}
	if len(rd.dirs) == 0 {
		return nil, core.BadData("TIFF file has no directories")
	}
	return rd, nil
}

// NumDirectories reports how many IFDs were found.
func (rd *Reader) NumDirectories() int { return len(rd.dirs) }

// Directory returns the parsed IFD at index i.
func (rd *Reader) Directory(i int) *Directory { return &rd.dirs[i] }

// ReaderAt exposes the underlying source for tile reads.
func (rd *Reader) ReaderAt() io.ReaderAt { return rd.r }

func (rd *Reader) tagEntrySize() int64 {
	if rd.bigTiff {
		return 20
	}
	return 12
}

func (rd *Reader) readDirectory(off int64) (Directory, int64, error) {
	dir := Directory{tags: make(map[Tag]entry)}

	var count int64
	if rd.bigTiff {
		buf := make([]byte, 8)
		if _, err := readFull(rd.r, buf, off); err != nil {
			return dir, 0, core.Prefix(err, "Couldn't read IFD entry count")
		}
		count = int64(rd.order.Uint64(buf))
		off += 8
	} else {
		buf := make([]byte, 2)
		if _, err := readFull(rd.r, buf, off); err != nil {
			return dir, 0, core.Prefix(err, "Couldn't read IFD entry count")
		}
		count = int64(rd.order.Uint16(buf))
		off += 2
	}

	entrySize := rd.tagEntrySize()
	for i := int64(0); i < count; i++ {
		raw := make([]byte, entrySize)
		if _, err := readFull(rd.r, raw, off+i*entrySize); err != nil {
			return dir, 0, core.Prefix(err, "Couldn't read IFD entry")
		}
		tag := Tag(rd.order.Uint16(raw[0:2]))
		typ := fieldType(rd.order.Uint16(raw[2:4]))

		var valueCount int64
		var valueField []byte
		if rd.bigTiff {
			valueCount = int64(rd.order.Uint64(raw[4:12]))
			valueField = raw[12:20]
		} else {
			valueCount = int64(rd.order.Uint32(raw[4:8]))
			valueField = raw[8:12]
		}

		e, err := rd.decodeEntry(typ, valueCount, valueField)
		if err != nil {
			return dir, 0, core.Prefix(err, "Couldn't decode IFD tag %d", tag)
		}
		dir.tags[tag] = e
	}

	nextOff := off + count*entrySize
	var next int64
	if rd.bigTiff {
		buf := make([]byte, 8)
		if _, err := readFull(rd.r, buf, nextOff); err != nil {
			return dir, 0, core.Prefix(err, "Couldn't read next IFD offset")
		}
		next = int64(rd.order.Uint64(buf))
	} else {
		buf := make([]byte, 4)
		if _, err := readFull(rd.r, buf, nextOff); err != nil {
			return dir, 0, core.Prefix(err, "Couldn't read next IFD offset")
		}
		next = int64(rd.order.Uint32(buf))
	}
	dir.next = next
	return dir, next, nil
}

// decodeEntry resolves an IFD entry's values, following the
// value-field-is-an-offset indirection when the inline field is too
// small to hold count*typ.size() bytes.
func (rd *Reader) decodeEntry(typ fieldType, count int64, valueField []byte) (entry, error) {
	sz := typ.size()
	total := sz * count
	inlineCap := int64(len(valueField))

	var data []byte
	if total <= inlineCap {
		data = valueField[:total]
	} else {
		offset := rd.order.Uint64(rd.padTo8(valueField))
		data = make([]byte, total)
		if _, err := readFull(rd.r, data, int64(offset)); err != nil {
			return entry{}, err
		}
	}

	e := entry{typ: typ, count: count}
	switch typ {
	case typeASCII, typeUndefined, typeByte, typeSByte:
		e.bytes = data
		if typ == typeByte || typ == typeSByte {
			e.uvals = make([]uint64, len(data))
			for i, b := range data {
				e.uvals[i] = uint64(b)
			}
		}
	case typeShort, typeSShort:
		e.uvals = make([]uint64, count)
		for i := int64(0); i < count; i++ {
			e.uvals[i] = uint64(rd.order.Uint16(data[i*2:]))
		}
	case typeLong, typeSLong, typeFloat:
		e.uvals = make([]uint64, count)
		for i := int64(0); i < count; i++ {
			e.uvals[i] = uint64(rd.order.Uint32(data[i*4:]))
		}
	case typeLong8, typeSLong8, typeIFD8:
		e.uvals = make([]uint64, count)
		for i := int64(0); i < count; i++ {
			e.uvals[i] = rd.order.Uint64(data[i*8:])
		}
	case typeRational, typeSRational:
		e.uvals = make([]uint64, count*2)
		for i := int64(0); i < count; i++ {
			e.uvals[i*2] = uint64(rd.order.Uint32(data[i*8:]))
			e.uvals[i*2+1] = uint64(rd.order.Uint32(data[i*8+4:]))
		}
	case typeDouble:
		e.uvals = make([]uint64, count)
		for i := int64(0); i < count; i++ {
			e.uvals[i] = rd.order.Uint64(data[i*8:])
		}
	default:
		return entry{}, core.BadData("Unsupported IFD field type %d", typ)
	}
	return e, nil
}

// padTo8 widens a short (classic, 4-byte) value field out to 8 bytes
// so a single Uint64 read recovers the offset: zeros go after the
// value's bytes under little-endian, before them under big-endian.
func (rd *Reader) padTo8(b []byte) []byte {
	if len(b) == 8 {
		return b
	}
	out := make([]byte, 8)
	if rd.order == binary.BigEndian {
		copy(out[8-len(b):], b)
	} else {
		copy(out, b)
	}
	return out
}

func readFull(r io.ReaderAt, buf []byte, off int64) (int, error) {
	n, err := r.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, core.IOError(err, "Couldn't read TIFF data")
	}
	if n < len(buf) {
		return n, core.Failed("Short read of TIFF data: %d < %d", n, len(buf))
	}
	return n, nil
}
