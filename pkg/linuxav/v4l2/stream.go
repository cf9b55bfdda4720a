//go:build linux && (amd64 || arm64 || arm)

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Stream is an open capture device with memory-mapped buffers.
type Stream struct {
	path      string
	fd        int
	buffers   [][]byte
	streaming bool
	format    PixFormat
}

// Open opens a capture device for streaming.
func Open(path string) (*Stream, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	capability := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&capability)); err != nil {
		_ = closeFD(fd)
		return nil, fmt.Errorf("query capabilities of %s: %w", path, err)
	}
	caps := capability.capabilities
	if caps&capDeviceCaps != 0 {
		caps = capability.deviceCaps
	}
	if caps&CapVideoCapture == 0 || caps&CapStreaming == 0 {
		_ = closeFD(fd)
		return nil, fmt.Errorf("%s does not support streaming capture", path)
	}

	return &Stream{path: path, fd: fd}, nil
}

// Path returns the device node.
func (s *Stream) Path() string { return s.path }

// Format returns the format negotiated by the last SetFormat.
func (s *Stream) Format() PixFormat { return s.format }

// Inputs lists the device's video inputs.
func (s *Stream) Inputs() ([]Input, error) {
	var inputs []Input
	for i := uint32(0); ; i++ {
		in := v4l2Input{index: i}
		if err := ioctl(s.fd, vidiocEnumInput, unsafe.Pointer(&in)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				return inputs, nil
			}
			return nil, fmt.Errorf("enumerate input %d: %w", i, err)
		}
		inputs = append(inputs, Input{
			Index:  in.index,
			Name:   cstr(in.name[:]),
			Type:   in.typ,
			Status: in.status,
		})
	}
}

// SetInput selects the video input.
func (s *Stream) SetInput(index int) error {
	v := int32(index)
	if err := ioctl(s.fd, vidiocSInput, unsafe.Pointer(&v)); err != nil {
		return fmt.Errorf("select input %d: %w", index, err)
	}
	return nil
}

// SetFormat requests a capture format. The driver may adjust it; the
// negotiated format is returned.
func (s *Stream) SetFormat(width, height, pixelFormat uint32) (PixFormat, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	pix := (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
	pix.width = width
	pix.height = height
	pix.pixelformat = pixelFormat
	pix.field = fieldAny

	if err := ioctl(s.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("set format %dx%d %s: %w", width, height, FormatFourCC(pixelFormat), err)
	}

	s.format = PixFormat{
		Width:        pix.width,
		Height:       pix.height,
		PixelFormat:  pix.pixelformat,
		BytesPerLine: pix.bytesperline,
		SizeImage:    pix.sizeimage,
	}
	return s.format, nil
}

// SetFrameRate requests a frame interval of 1/fps.
func (s *Stream) SetFrameRate(fps uint32) error {
	if fps == 0 {
		return errors.New("frame rate must be positive")
	}
	parm := v4l2StreamParm{typ: bufTypeVideoCapture}
	if err := ioctl(s.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("get stream parameters: %w", err)
	}
	parm.timeperframe = v4l2Fract{numerator: 1, denominator: fps}
	if err := ioctl(s.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("set frame rate %d: %w", fps, err)
	}
	return nil
}

// SetControl sets a user control such as CIDBrightness.
func (s *Stream) SetControl(id uint32, value int32) error {
	ctrl := v4l2Control{id: id, value: value}
	if err := ioctl(s.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("set control 0x%08x: %w", id, err)
	}
	return nil
}

// Control reads a user control.
func (s *Stream) Control(id uint32) (int32, error) {
	ctrl := v4l2Control{id: id}
	if err := ioctl(s.fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, fmt.Errorf("get control 0x%08x: %w", id, err)
	}
	return ctrl.value, nil
}

// Signal reports the DV timings signal status of the open device.
func (s *Stream) Signal() SignalStatus {
	return dvTimings(s.fd)
}

// Start maps numBuffers driver buffers, queues them and turns the stream
// on.
func (s *Stream) Start(numBuffers int) error {
	if s.streaming {
		return nil
	}

	req := v4l2RequestBuffers{
		count:  uint32(numBuffers),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := ioctl(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("request buffers: %w", err)
	}
	if req.count == 0 {
		return errors.New("driver granted no buffers")
	}

	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{index: i, typ: bufTypeVideoCapture, memory: memoryMMAP}
		if err := ioctl(s.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			s.unmap()
			return fmt.Errorf("query buffer %d: %w", i, err)
		}
		offset := *(*uint32)(unsafe.Pointer(&buf.m[0]))
		data, err := unix.Mmap(s.fd, int64(offset), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			s.unmap()
			return fmt.Errorf("map buffer %d: %w", i, err)
		}
		s.buffers = append(s.buffers, data)
	}

	for i := range s.buffers {
		if err := s.enqueue(uint32(i)); err != nil {
			s.unmap()
			return err
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(s.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		s.unmap()
		return fmt.Errorf("stream on: %w", err)
	}
	s.streaming = true
	return nil
}

func (s *Stream) enqueue(index uint32) error {
	buf := v4l2Buffer{index: index, typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := ioctl(s.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("queue buffer %d: %w", index, err)
	}
	return nil
}

// ReadFrame waits up to timeout for a filled buffer, copies it into dst
// and requeues it. It returns the number of bytes copied.
func (s *Stream) ReadFrame(dst []byte, timeout time.Duration) (int, error) {
	if !s.streaming {
		return 0, ErrNotStreaming
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, ErrDeviceGone
	}

	buf := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := ioctl(s.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrTimeout
		case errors.Is(err, unix.ENODEV), errors.Is(err, unix.EIO):
			return 0, ErrDeviceGone
		}
		return 0, fmt.Errorf("dequeue buffer: %w", err)
	}

	used := int(buf.bytesused)
	if int(buf.index) >= len(s.buffers) {
		return 0, fmt.Errorf("driver returned unknown buffer %d", buf.index)
	}
	copied := copy(dst, s.buffers[buf.index][:used])

	if err := s.enqueue(buf.index); err != nil {
		return copied, err
	}
	return copied, nil
}

// Stop turns the stream off and releases the buffers.
func (s *Stream) Stop() error {
	if !s.streaming {
		return nil
	}
	s.streaming = false

	typ := uint32(bufTypeVideoCapture)
	err := ioctl(s.fd, vidiocStreamoff, unsafe.Pointer(&typ))
	s.unmap()
	if err != nil {
		return fmt.Errorf("stream off: %w", err)
	}
	return nil
}

func (s *Stream) unmap() {
	for _, b := range s.buffers {
		_ = unix.Munmap(b)
	}
	s.buffers = nil

	req := v4l2RequestBuffers{typ: bufTypeVideoCapture, memory: memoryMMAP}
	_ = ioctl(s.fd, vidiocReqbufs, unsafe.Pointer(&req))
}

// Close stops streaming and closes the device.
func (s *Stream) Close() error {
	stopErr := s.Stop()
	if err := closeFD(s.fd); err != nil {
		return err
	}
	return stopErr
}
