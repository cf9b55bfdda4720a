//go:build linux && (amd64 || arm64 || arm)

package v4l2

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Offsets into the packed v4l2_dv_timings struct: a u32 type followed by
// v4l2_bt_timings.
const (
	dvWidth       = 4
	dvHeight      = 8
	dvInterlaced  = 12
	dvPixelclock  = 20
	dvHfrontporch = 28
	dvHsync       = 32
	dvHbackporch  = 36
	dvVfrontporch = 40
	dvVsync       = 44
	dvVbackporch  = 48
)

type btTimings struct {
	width, height, interlaced uint32
	pixelclock                uint64
	hfrontporch, hsync        uint32
	hbackporch, vfrontporch   uint32
	vsync, vbackporch         uint32
}

func decodeBT(raw *v4l2DVTimings) btTimings {
	le := binary.LittleEndian
	return btTimings{
		width:       le.Uint32(raw[dvWidth:]),
		height:      le.Uint32(raw[dvHeight:]),
		interlaced:  le.Uint32(raw[dvInterlaced:]),
		pixelclock:  le.Uint64(raw[dvPixelclock:]),
		hfrontporch: le.Uint32(raw[dvHfrontporch:]),
		hsync:       le.Uint32(raw[dvHsync:]),
		hbackporch:  le.Uint32(raw[dvHbackporch:]),
		vfrontporch: le.Uint32(raw[dvVfrontporch:]),
		vsync:       le.Uint32(raw[dvVsync:]),
		vbackporch:  le.Uint32(raw[dvVbackporch:]),
	}
}

// GetDVTimings returns the current DV timings and signal status for HDMI devices.
func GetDVTimings(devicePath string) SignalStatus {
	fd, err := open(devicePath)
	if err != nil {
		return SignalStatus{State: SignalStateNoDevice}
	}
	defer closeFD(fd)
	return dvTimings(fd)
}

func dvTimings(fd int) SignalStatus {
	var raw v4l2DVTimings
	err := ioctl(fd, vidiocQueryDVTimings, unsafe.Pointer(&raw))
	if errors.Is(err, unix.ENOTTY) {
		err = ioctl(fd, vidiocGDVTimings, unsafe.Pointer(&raw))
	}

	if err == nil {
		bt := decodeBT(&raw)
		if bt.width == 0 || bt.height == 0 || bt.pixelclock == 0 {
			return SignalStatus{State: SignalStateNoSignal}
		}
		return SignalStatus{
			State:      SignalStateLocked,
			Width:      bt.width,
			Height:     bt.height,
			FPS:        calculateFPS(bt),
			Interlaced: bt.interlaced != 0,
		}
	}

	switch {
	case errors.Is(err, unix.ENOLINK):
		return SignalStatus{State: SignalStateNoLink}
	case errors.Is(err, unix.ENOLCK):
		return SignalStatus{State: SignalStateUnstable}
	case errors.Is(err, unix.ERANGE):
		return SignalStatus{State: SignalStateOutOfRange}
	case errors.Is(err, unix.ENOTTY):
		return SignalStatus{State: SignalStateNotSupported}
	default:
		return SignalStatus{State: SignalStateNoSignal}
	}
}

func calculateFPS(bt btTimings) float64 {
	if bt.pixelclock == 0 {
		return 0
	}

	totalWidth := uint64(bt.width + bt.hfrontporch + bt.hsync + bt.hbackporch)
	totalHeight := uint64(bt.height + bt.vfrontporch + bt.vsync + bt.vbackporch)
	if bt.interlaced != 0 {
		totalHeight /= 2
	}
	if totalWidth == 0 || totalHeight == 0 {
		return 0
	}
	return float64(bt.pixelclock) / float64(totalWidth*totalHeight)
}
