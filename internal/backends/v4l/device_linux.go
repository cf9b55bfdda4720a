//go:build linux && (amd64 || arm64 || arm)

package v4l

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/capturenode/pkg/linuxav/v4l2"
)

const streamBuffers = 4

var controlIDs = map[Control]uint32{
	ControlBrightness: v4l2.CIDBrightness,
	ControlFocus:      v4l2.CIDFocusAbsolute,
	ControlZoom:       v4l2.CIDZoomAbsolute,
	ControlAutofocus:  v4l2.CIDFocusAuto,
}

type streamDevice struct {
	stream *v4l2.Stream
}

// NewOpener returns an Opener that maps channel i to paths[i]. Paths may
// be device nodes or stable IDs from /dev/v4l/by-id. With no paths,
// channel i opens /dev/video<i>.
func NewOpener(paths []string) Opener {
	return func(channel int) (Device, error) {
		path := fmt.Sprintf("/dev/video%d", channel)
		if len(paths) > 0 {
			if channel >= len(paths) {
				return nil, fmt.Errorf("channel %d out of range (%d devices)", channel, len(paths))
			}
			resolved, err := v4l2.DevicePathByID(paths[channel])
			if err != nil {
				return nil, err
			}
			path = resolved
		}

		s, err := v4l2.Open(path)
		if err != nil {
			return nil, err
		}
		return &streamDevice{stream: s}, nil
	}
}

func (d *streamDevice) Path() string { return d.stream.Path() }

func (d *streamDevice) SetFormat(width, height int) (Format, error) {
	pix, err := d.stream.SetFormat(uint32(width), uint32(height), v4l2.PixFmtYUYV)
	if err != nil {
		return Format{}, err
	}
	if pix.PixelFormat != v4l2.PixFmtYUYV {
		return Format{}, fmt.Errorf("device offers %s, not YUYV", v4l2.FormatFourCC(pix.PixelFormat))
	}
	stride := int(pix.BytesPerLine)
	if stride == 0 {
		stride = int(pix.Width) * 2
	}
	return Format{Width: int(pix.Width), Height: int(pix.Height), Stride: stride}, nil
}

func (d *streamDevice) SetFrameRate(fps int) error {
	return d.stream.SetFrameRate(uint32(fps))
}

func (d *streamDevice) SetControl(c Control, value int) error {
	id, ok := controlIDs[c]
	if !ok {
		return fmt.Errorf("unknown control %v", c)
	}
	return d.stream.SetControl(id, int32(value))
}

func (d *streamDevice) Start() error { return d.stream.Start(streamBuffers) }

func (d *streamDevice) ReadFrame(dst []byte, timeout time.Duration) (int, error) {
	n, err := d.stream.ReadFrame(dst, timeout)
	switch {
	case errors.Is(err, v4l2.ErrTimeout):
		return 0, ErrFrameTimeout
	case errors.Is(err, v4l2.ErrDeviceGone):
		return 0, ErrDeviceGone
	}
	return n, err
}

func (d *streamDevice) Stop() error  { return d.stream.Stop() }
func (d *streamDevice) Close() error { return d.stream.Close() }
