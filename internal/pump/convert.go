package pump

// Pixel-format normalization to packed RGBA. The 4:2:2 path uses the
// BT.601 integer coefficients with the usual +128 rounding and >>8 scale.

func clampByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// uyvyToRGBA converts packed UYVY (U Y0 V Y1 per pixel pair) into packed
// RGBA. src must hold width*height*2 bytes with no stride padding; width
// must be even, which 4:2:2 sources guarantee.
func uyvyToRGBA(src []byte, width, height int) []byte {
	dst := make([]byte, width*height*4)

	si, di := 0, 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 2 {
			u := int32(src[si])
			y0 := int32(src[si+1])
			v := int32(src[si+2])
			y1 := int32(src[si+3])
			si += 4

			c0 := y0 - 16
			c1 := y1 - 16
			d := u - 128
			e := v - 128

			dst[di] = clampByte((298*c0 + 409*e + 128) >> 8)
			dst[di+1] = clampByte((298*c0 - 100*d - 208*e + 128) >> 8)
			dst[di+2] = clampByte((298*c0 + 516*d + 128) >> 8)
			dst[di+3] = 255

			dst[di+4] = clampByte((298*c1 + 409*e + 128) >> 8)
			dst[di+5] = clampByte((298*c1 - 100*d - 208*e + 128) >> 8)
			dst[di+6] = clampByte((298*c1 + 516*d + 128) >> 8)
			dst[di+7] = 255
			di += 8
		}
	}
	return dst
}

// bgraToRGBA swaps the channel order of a packed 4-byte layout in place on
// a fresh buffer. keepAlpha is false for BGRX, where the fourth byte is
// undefined and forced to opaque.
func bgraToRGBA(src []byte, keepAlpha bool) []byte {
	dst := make([]byte, len(src))
	for i := 0; i+3 < len(src); i += 4 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		if keepAlpha {
			dst[i+3] = src[i+3]
		} else {
			dst[i+3] = 255
		}
	}
	return dst
}

// forceOpaque returns a copy of packed RGBX with the alpha byte set.
func forceOpaque(src []byte) []byte {
	dst := append([]byte(nil), src...)
	for i := 3; i < len(dst); i += 4 {
		dst[i] = 255
	}
	return dst
}

// stripStride copies the payload rows out of a buffer whose scanlines are
// stride bytes apart, producing a packed rowBytes*height buffer.
func stripStride(src []byte, rowBytes, stride, height int) []byte {
	dst := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		copy(dst[y*rowBytes:(y+1)*rowBytes], src[y*stride:y*stride+rowBytes])
	}
	return dst
}
