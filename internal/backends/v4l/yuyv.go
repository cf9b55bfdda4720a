package v4l

// yuyvToRGBA converts packed YUYV 4:2:2 with the given stride into
// tightly packed RGBA using BT.601 limited-range coefficients.
func yuyvToRGBA(dst, src []byte, width, height, stride int) {
	for y := range height {
		row := src[y*stride:]
		out := dst[y*width*4:]
		for x := 0; x+1 < width; x += 2 {
			i := x * 2
			y0, u, y1, v := int(row[i]), int(row[i+1]), int(row[i+2]), int(row[i+3])
			putRGBA(out[x*4:], y0, u, v)
			putRGBA(out[(x+1)*4:], y1, u, v)
		}
	}
}

func putRGBA(px []byte, y, u, v int) {
	c := 298 * (y - 16)
	d := u - 128
	e := v - 128
	px[0] = clamp((c + 409*e + 128) >> 8)
	px[1] = clamp((c - 100*d - 208*e + 128) >> 8)
	px[2] = clamp((c + 516*d + 128) >> 8)
	px[3] = 0xff
}

func clamp(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}
