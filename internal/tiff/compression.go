package tiff

import (
	"bytes"
	"compress/zlib"
	"io"

	"golang.org/x/image/tiff/lzw"

	"github.com/cocosip/go-wsi/internal/codecbridge"
	"github.com/cocosip/go-wsi/internal/core"
)

// decompress returns raw interleaved samples for one tile/strip's
// compressed bytes, and the number of components actually present in
// the returned buffer (so the caller can tell RGB from a codec that
// decoded to grayscale, etc.). For the "plain sample data" paths
// (none, LZW, deflate) the caller already knows the component count
// from SamplesPerPixel; for codec-backed paths the codec reports it.
func decompress(compression Compression, data []byte, samplesPerPixel int) ([]byte, int, error) {
	switch compression {
	case CompressionNone, 0:
		return data, samplesPerPixel, nil

	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, core.BadData("Couldn't decompress LZW tile: %v", err)
		}
		return out, samplesPerPixel, nil

	case CompressionDeflate, CompressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, 0, core.BadData("Couldn't open deflate tile: %v", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, core.BadData("Couldn't decompress deflate tile: %v", err)
		}
		return out, samplesPerPixel, nil

	case CompressionPackBits:
		out, err := unpackBits(data)
		if err != nil {
			return nil, 0, err
		}
		return out, samplesPerPixel, nil

	case CompressionNewJPEG:
		d, err := codecbridge.Decode(codecbridge.UIDJPEGBaseline, data)
		if err != nil {
			return nil, 0, err
		}
		return d.Samples, d.Components, nil

	case CompressionAperioJP2K, CompressionAperioJP2KYCbCr:
		d, err := codecbridge.Decode(codecbridge.UIDJPEG2000Lossy, data)
		if err != nil {
			return nil, 0, err
		}
		return d.Samples, d.Components, nil

	default:
		return nil, 0, core.BadData("Unsupported TIFF compression: %d", compression)
	}
}

// unpackBits decodes the TIFF PackBits RLE scheme.
func unpackBits(data []byte) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(data); {
		n := int8(data[i])
		i++
		switch {
		case n >= 0:
			count := int(n) + 1
			if i+count > len(data) {
				return nil, core.BadData("Truncated PackBits literal run")
			}
			out.Write(data[i : i+count])
			i += count
		case n != -128:
			if i >= len(data) {
				return nil, core.BadData("Truncated PackBits replicate run")
			}
			count := int(-n) + 1
			b := data[i]
			i++
			for j := 0; j < count; j++ {
				out.WriteByte(b)
			}
		default:
			// n == -128 is a documented no-op.
		}
	}
	return out.Bytes(), nil
}
