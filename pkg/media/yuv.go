package media

// BT.709 limited-range YCbCr→RGB coefficients. Conversion is integer
// fixed-point (×1024) so results are bit-exact across platforms.
const (
	coefY  = 1192 // 255/219 × 1024
	coefRV = 1836 // 1.5748 × 255/224 × 1024
	coefGU = -218 // -0.1873 × 255/224 × 1024
	coefGV = -546 // -0.4681 × 255/224 × 1024
	coefBU = 2163 // 1.8556 × 255/224 × 1024
)

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// YUV420ToRGB converts a planar YUV 4:2:0 image (limited-range BT.709, 8-bit)
// into tightly packed RGB. yStride and cStride are the plane row strides;
// the output is width*height*3 bytes.
func YUV420ToRGB(y, u, v []byte, width, height, yStride, cStride int) []byte {
	out := make([]byte, width*height*3)
	for row := 0; row < height; row++ {
		yOff := row * yStride
		cOff := (row / 2) * cStride
		for col := 0; col < width; col++ {
			yy := int(y[yOff+col]) - 16
			cb := int(u[cOff+col/2]) - 128
			cr := int(v[cOff+col/2]) - 128

			base := coefY * yy
			r := (base + coefRV*cr) >> 10
			g := (base + coefGU*cb + coefGV*cr) >> 10
			b := (base + coefBU*cb) >> 10

			o := (row*width + col) * 3
			out[o] = clamp8(r)
			out[o+1] = clamp8(g)
			out[o+2] = clamp8(b)
		}
	}
	return out
}

// YUV420PToRGB converts a planar YUV 4:2:0 image of the given bit depth into
// tightly packed RGB. Planes deeper than 8 bits carry little-endian uint16
// samples and are narrowed through [Narrow10To8] first, so over-range HDR
// values saturate into the 8-bit BT.709 range. Strides are in bytes.
func YUV420PToRGB(y, u, v []byte, width, height, yStride, cStride, bitDepth int) []byte {
	if bitDepth > 8 {
		y = Narrow10To8(y)
		u = Narrow10To8(u)
		v = Narrow10To8(v)
		yStride /= 2
		cStride /= 2
	}
	return YUV420ToRGB(y, u, v, width, height, yStride, cStride)
}

// Narrow10To8 deterministically narrows a 10-bit plane (little-endian
// uint16 samples, values 0..1023) to 8 bits. Over-range values saturate at
// 255 rather than wrapping, so HDR sources clamp into the agreed BT.709
// 8-bit range.
func Narrow10To8(plane16 []byte) []byte {
	samples := len(plane16) / 2
	out := make([]byte, samples)
	for i := range samples {
		v := int(plane16[i*2]) | int(plane16[i*2+1])<<8
		v >>= 2
		if v > 255 {
			v = 255
		}
		out[i] = byte(v)
	}
	return out
}

// ScaleRGB resizes a packed RGB image to dstW×dstH using nearest-neighbour
// sampling. Analysis frames do not need interpolation quality; they need
// deterministic, cheap downscale.
func ScaleRGB(src []byte, srcW, srcH, dstW, dstH int) []byte {
	if srcW == dstW && srcH == dstH {
		return src
	}
	out := make([]byte, dstW*dstH*3)
	for row := 0; row < dstH; row++ {
		sy := row * srcH / dstH
		for col := 0; col < dstW; col++ {
			sx := col * srcW / dstW
			so := (sy*srcW + sx) * 3
			do := (row*dstW + col) * 3
			out[do] = src[so]
			out[do+1] = src[so+1]
			out[do+2] = src[so+2]
		}
	}
	return out
}
