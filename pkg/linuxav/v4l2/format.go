//go:build linux && (amd64 || arm64 || arm)

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetFormats returns all supported pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFD(fd)

	var formats []FormatInfo
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}
		formats = append(formats, FormatInfo{
			PixelFormat: desc.pixelformat,
			FormatName:  cstr(desc.description[:]),
			Emulated:    desc.flags&fmtFlagEmulated != 0,
		})
	}
	return formats, nil
}

// GetResolutions returns the supported resolutions for a device and pixel
// format. Stepwise ranges are reported as the common sizes they contain.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFD(fd)

	var resolutions []Resolution
	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{index: i, pixelFormat: pixelFormat}
		if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			if errors.Is(err, unix.ENOTTY) {
				return []Resolution{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
		}

		switch frmsize.typ {
		case frmsizeTypeDiscrete:
			discrete := (*Resolution)(unsafe.Pointer(&frmsize.union[0]))
			resolutions = append(resolutions, *discrete)
		case frmsizeTypeContinuous, frmsizeTypeStepwise:
			stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.union[0]))
			return append(resolutions, commonResolutionsWithin(stepwise)...), nil
		}
	}
	return resolutions, nil
}

// SizeRange returns the smallest and largest frame size a device offers
// for pixelFormat.
func SizeRange(devicePath string, pixelFormat uint32) (minimum, maximum Resolution, err error) {
	resolutions, err := GetResolutions(devicePath, pixelFormat)
	if err != nil {
		return minimum, maximum, err
	}
	if len(resolutions) == 0 {
		return minimum, maximum, fmt.Errorf("no frame sizes for %s", FormatFourCC(pixelFormat))
	}

	minimum, maximum = resolutions[0], resolutions[0]
	for _, r := range resolutions[1:] {
		minimum.Width, minimum.Height = min(minimum.Width, r.Width), min(minimum.Height, r.Height)
		maximum.Width, maximum.Height = max(maximum.Width, r.Width), max(maximum.Height, r.Height)
	}
	return minimum, maximum, nil
}

// GetFramerates returns the supported frame intervals for a device,
// format and resolution.
func GetFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFD(fd)

	var framerates []Framerate
	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}
		if err := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, err)
		}

		switch frmival.typ {
		case frmivalTypeDiscrete:
			fract := (*v4l2Fract)(unsafe.Pointer(&frmival.union[0]))
			framerates = append(framerates, Framerate{
				Numerator:   fract.numerator,
				Denominator: fract.denominator,
			})
		case frmivalTypeContinuous, frmivalTypeStepwise:
			return append(framerates, commonFramerates()...), nil
		}
	}
	return framerates, nil
}

var commonResolutions = []Resolution{
	{320, 240},
	{640, 480},
	{800, 600},
	{1024, 768},
	{1280, 720},
	{1280, 1024},
	{1920, 1080},
	{1920, 1200},
}

func commonResolutionsWithin(s *v4l2FrmsizeStepwise) []Resolution {
	var out []Resolution
	for _, r := range commonResolutions {
		if r.Width >= s.minWidth && r.Width <= s.maxWidth &&
			r.Height >= s.minHeight && r.Height <= s.maxHeight {
			out = append(out, r)
		}
	}
	return out
}

func commonFramerates() []Framerate {
	return []Framerate{{1, 60}, {1, 50}, {1, 30}, {1, 25}, {1, 15}, {1, 10}}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}
