package capture

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Global capture limits. Frame buffers are sized for the maximum.
const (
	MinWidth        = 1
	MinHeight       = 1
	MaxWidth        = 1920
	MaxHeight       = 1260
	MaxBitsPerPixel = 32

	MaxFrameBytes = MaxWidth * MaxHeight * (MaxBitsPerPixel / 8)
)

// PixelFormat is the layout of a captured pixel.
type PixelFormat uint8

// Pixel formats. RGBA8888 stores bytes in R, G, B, A order; the 16-bit
// formats are little-endian.
const (
	PixelFormatRGBA8888 PixelFormat = iota
	PixelFormatRGB565
	PixelFormatRGB555
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGB565:
		return "rgb565"
	case PixelFormatRGB555:
		return "rgb555"
	default:
		return "rgba8888"
	}
}

// BitsPerPixel returns the storage size of one pixel.
func (p PixelFormat) BitsPerPixel() int {
	if p == PixelFormatRGBA8888 {
		return 32
	}
	return 16
}

// Resolution is a frame size and depth.
type Resolution struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	BitsPerPixel int `json:"bpp"`
}

// Bytes returns the size of a frame at this resolution.
func (r Resolution) Bytes() int {
	return r.Width * r.Height * (r.BitsPerPixel / 8)
}

// Within reports whether r fits the global capture limits.
func (r Resolution) Within() bool {
	return r.Width >= MinWidth && r.Width <= MaxWidth &&
		r.Height >= MinHeight && r.Height <= MaxHeight &&
		r.BitsPerPixel > 0 && r.BitsPerPixel <= MaxBitsPerPixel
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%dx%d", r.Width, r.Height, r.BitsPerPixel)
}

// Frame is the shared captured-frame record. Pixels is allocated once at
// MaxFrameBytes; only the first Resolution.Bytes() bytes are meaningful.
type Frame struct {
	Resolution Resolution
	Format     PixelFormat
	Pixels     []byte
	Timestamp  time.Time
	Sequence   uint64
}

func newFrame(res Resolution) *Frame {
	return &Frame{
		Resolution: res,
		Format:     PixelFormatRGBA8888,
		Pixels:     make([]byte, MaxFrameBytes),
	}
}

// Valid returns the meaningful part of the pixel buffer.
func (f *Frame) Valid() []byte {
	n := f.Resolution.Bytes()
	if n > len(f.Pixels) {
		n = len(f.Pixels)
	}
	return f.Pixels[:n]
}

// RGBA wraps the pixel buffer as an image without copying. Only valid for
// RGBA8888 frames.
func (f *Frame) RGBA() *image.RGBA {
	w, h := f.Resolution.Width, f.Resolution.Height
	return &image.RGBA{
		Pix:    f.Pixels[:w*h*4],
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// Image returns a copy of the frame as an RGBA image.
func (f *Frame) Image() *image.RGBA {
	w, h := f.Resolution.Width, f.Resolution.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	if f.Format == PixelFormatRGBA8888 {
		copy(img.Pix, f.Pixels[:w*h*4])
		return img
	}

	for y := range h {
		for x := range w {
			off := (y*w + x) * 2
			px := uint16(f.Pixels[off]) | uint16(f.Pixels[off+1])<<8
			img.SetRGBA(x, y, decode16(px, f.Format))
		}
	}
	return img
}

func decode16(px uint16, format PixelFormat) color.RGBA {
	var r, g, b uint16
	if format == PixelFormatRGB565 {
		r = (px >> 11) & 0x1f
		g = (px >> 5) & 0x3f
		b = px & 0x1f
		return color.RGBA{R: uint8(r << 3), G: uint8(g << 2), B: uint8(b << 3), A: 0xff}
	}
	r = (px >> 10) & 0x1f
	g = (px >> 5) & 0x1f
	b = px & 0x1f
	return color.RGBA{R: uint8(r << 3), G: uint8(g << 3), B: uint8(b << 3), A: 0xff}
}
