package tiff

// packARGB converts width x height interleaved 8-bit RGB (or RGBA)
// samples into a premultiplied ARGB32 buffer (little-endian B,G,R,A
// byte order, matching the public read_region contract), writing into
// dst which must already be sized fullW*fullH*4. width/height may be
// smaller than fullW/fullH for right/bottom edge tiles; the
// uncovered remainder of dst is left untouched (already zeroed by the
// caller), giving the "clip to exact image size" behaviour C2
// requires without a separate clip pass.
func packARGB(samples []byte, width, height, components int, dst []byte, fullW int) {
	for y := 0; y < height; y++ {
		srcRow := y * width * components
		dstRow := y * fullW * 4
		for x := 0; x < width; x++ {
			s := srcRow + x*components
			d := dstRow + x*4
			var r, g, b, a byte
			switch components {
			case 1:
				r, g, b = samples[s], samples[s], samples[s]
				a = 255
			case 3:
				r, g, b = samples[s], samples[s+1], samples[s+2]
				a = 255
			case 4:
				r, g, b, a = samples[s], samples[s+1], samples[s+2], samples[s+3]
			default:
				continue
			}
			dst[d+0] = premultiply(b, a)
			dst[d+1] = premultiply(g, a)
			dst[d+2] = premultiply(r, a)
			dst[d+3] = a
		}
	}
}

func premultiply(c, a byte) byte {
	if a == 255 {
		return c
	}
	return byte(uint32(c) * uint32(a) / 255)
}
