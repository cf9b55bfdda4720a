//go:build linux && (amd64 || arm64 || arm)

package v4l2

import "errors"

var (
	// ErrTimeout is returned by ReadFrame when no frame arrived in time.
	ErrTimeout = errors.New("v4l2: frame timeout")
	// ErrDeviceGone is returned when the device disappeared mid-stream.
	ErrDeviceGone = errors.New("v4l2: device gone")
	// ErrNotStreaming is returned by ReadFrame before Start.
	ErrNotStreaming = errors.New("v4l2: not streaming")
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported frame interval as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// PixFormat is the negotiated capture format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Input describes one video input of a device.
type Input struct {
	Index  uint32
	Name   string
	Type   uint32
	Status uint32
}

// SignalState represents the state of a video signal.
type SignalState int

// Signal states.
const (
	SignalStateNoDevice     SignalState = -1
	SignalStateNoLink       SignalState = 0 // No cable connected
	SignalStateNoSignal     SignalState = 1 // Cable connected, no signal
	SignalStateUnstable     SignalState = 2 // Signal present but unstable
	SignalStateLocked       SignalState = 3 // Signal locked and stable
	SignalStateOutOfRange   SignalState = 4 // Signal out of supported range
	SignalStateNotSupported SignalState = 5 // Device doesn't support DV timings
)

// SignalStatus contains detailed signal information.
type SignalStatus struct {
	State      SignalState
	Width      uint32
	Height     uint32
	FPS        float64
	Interlaced bool
}

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
)

const fmtFlagEmulated = 0x0002

// Pixel formats.
const (
	PixFmtYUYV   = 0x56595559 // 'YUYV'
	PixFmtMJPEG  = 0x47504A4D // 'MJPG'
	PixFmtRGB565 = 0x50424752 // 'RGBP'
	PixFmtBGR32  = 0x34524742 // 'BGR4'
)

// Control IDs.
const (
	CIDBrightness    = 0x00980900
	CIDContrast      = 0x00980901
	CIDSaturation    = 0x00980902
	CIDFocusAbsolute = 0x009a090a
	CIDFocusAuto     = 0x009a090c
	CIDZoomAbsolute  = 0x009a090d
)

const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3

	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3

	bufTypeVideoCapture = 1
	memoryMMAP          = 1
	fieldAny            = 0
)

// Structures whose layout is the same on every supported architecture.

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	union       [24]byte // discrete {width, height} or stepwise
	reserved    [2]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	union       [24]byte // discrete fract or stepwise
	reserved    [2]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint32
}

type v4l2Control struct {
	id    uint32
	value int32
}

type v4l2StreamParm struct {
	typ          uint32
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
	_            [160]byte
}

type v4l2Input struct {
	index        uint32
	name         [32]byte
	typ          uint32
	audioset     uint32
	tuner        uint32
	std          [2]uint32 // v4l2_std_id
	status       uint32
	capabilities uint32
	reserved     [3]uint32
	_            uint32
}

// v4l2_dv_timings is a packed 132-byte struct; it is decoded by offset.
type v4l2DVTimings [132]byte
