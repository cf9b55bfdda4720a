package v4l

import (
	"errors"
	"time"
)

var (
	// ErrFrameTimeout is returned by ReadFrame when no frame arrived in
	// time. The capture loop retries.
	ErrFrameTimeout = errors.New("v4l: frame timeout")
	// ErrDeviceGone is returned once the device has been unplugged.
	ErrDeviceGone = errors.New("v4l: device gone")
	// ErrUnsupported is returned by the opener on platforms without V4L2.
	ErrUnsupported = errors.New("v4l: not supported on this platform")
)

// Control identifies a device control.
type Control int

// Device controls exposed as properties.
const (
	ControlBrightness Control = iota
	ControlFocus
	ControlZoom
	ControlAutofocus
)

func (c Control) String() string {
	switch c {
	case ControlBrightness:
		return "brightness"
	case ControlFocus:
		return "focus"
	case ControlZoom:
		return "zoom"
	case ControlAutofocus:
		return "autofocus"
	default:
		return "unknown"
	}
}

// Format is a negotiated YUYV capture format.
type Format struct {
	Width  int
	Height int
	Stride int // bytes per line
}

// Device is an open V4L capture device. ReadFrame is called from the
// capture activity; everything else from the consumer.
type Device interface {
	Path() string
	SetFormat(width, height int) (Format, error)
	SetFrameRate(fps int) error
	SetControl(c Control, value int) error
	Start() error
	ReadFrame(dst []byte, timeout time.Duration) (int, error)
	Stop() error
	Close() error
}

// Opener opens the device for an input channel.
type Opener func(channel int) (Device, error)
