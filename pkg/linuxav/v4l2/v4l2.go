// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format queries, signal detection and
// memory-mapped frame streaming.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Streaming
//
//	s, err := v4l2.Open("/dev/video0")
//	pix, err := s.SetFormat(640, 480, v4l2.PixFmtYUYV)
//	err = s.Start(4)
//	n, err := s.ReadFrame(buf, 100*time.Millisecond)
//	if errors.Is(err, v4l2.ErrTimeout) {
//	    // no frame yet
//	}
//
// # HDMI Signal Detection
//
//	status := v4l2.GetDVTimings("/dev/video0")
//	if status.State == v4l2.SignalStateLocked {
//	    fmt.Printf("Signal: %dx%d @ %.2f fps\n", status.Width, status.Height, status.FPS)
//	}
package v4l2
