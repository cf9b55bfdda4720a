//go:build linux && arm

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions for 32-bit ARM.
var (
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
)

// IOCTL constants whose size field differs between 64-bit and 32-bit.
const (
	vidiocGFmt     = 0xc0cc5604
	vidiocSFmt     = 0xc0cc5605
	vidiocQuerybuf = 0xc0445609
	vidiocQbuf     = 0xc044560f
	vidiocDqbuf    = 0xc0445611
)

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         [4]byte // offset, userptr, planes or fd
	length    uint32
	reserved2 uint32
	requestFD uint32
}

type v4l2Format struct {
	typ uint32
	fmt [200]byte
}
