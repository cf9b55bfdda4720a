package capture

import (
	"time"

	"github.com/smazurov/capturenode/internal/notify"
)

// VideoMode is a resolution plus the refresh rate it is delivered at.
type VideoMode struct {
	Resolution  Resolution
	RefreshRate float64
}

// Notifications is the set of channels the capture core fires. A single
// Notifications is shared by a backend, its host loop and any consumers.
type Notifications struct {
	NewFrame             notify.Channel[*Frame]
	NewProposedVideoMode notify.Channel[VideoMode]
	NewVideoMode         notify.Channel[VideoMode]
	NewInputChannel      notify.Channel[int]
	SignalGained         notify.Signal
	SignalLost           notify.Signal
	InvalidSignal        notify.Signal
	InvalidDevice        notify.Signal
	UnrecoverableError   notify.Channel[error]

	FrameProcessed    notify.Channel[*Frame]
	MissedFramesCount notify.Channel[uint]
	ProcessingLatency notify.Channel[time.Duration]
	CaptureRate       notify.Channel[float64]
	PhotoTaken        notify.Channel[string]
}

// NewNotifications returns an empty notification set.
func NewNotifications() *Notifications {
	return &Notifications{}
}
