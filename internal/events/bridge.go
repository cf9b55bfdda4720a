package events

import (
	"time"

	"github.com/smazurov/capturenode/internal/capture"
)

// Bridge republishes capture notifications on the bus. Notifications fire
// on the capture consumer, some under the capture mutex, so handlers only
// copy values out; the bus delivers them asynchronously. The returned
// function removes every subscription.
func Bridge(bus *Bus, notes *capture.Notifications) func() {
	now := func() string { return time.Now().Format(time.RFC3339) }

	cancels := []func(){
		notes.NewVideoMode.Subscribe(func(m capture.VideoMode) {
			bus.Publish(VideoModeEvent{
				Width:       m.Resolution.Width,
				Height:      m.Resolution.Height,
				RefreshRate: m.RefreshRate,
				Timestamp:   now(),
			})
		}),
		notes.SignalGained.Listen(func() { bus.Publish(SignalEvent{Kind: SignalGained, Timestamp: now()}) }),
		notes.SignalLost.Listen(func() { bus.Publish(SignalEvent{Kind: SignalLost, Timestamp: now()}) }),
		notes.InvalidSignal.Listen(func() { bus.Publish(SignalEvent{Kind: InvalidSignal, Timestamp: now()}) }),
		notes.InvalidDevice.Listen(func() { bus.Publish(SignalEvent{Kind: InvalidDevice, Timestamp: now()}) }),
		notes.NewInputChannel.Subscribe(func(ch int) {
			bus.Publish(InputChannelEvent{Channel: ch, Timestamp: now()})
		}),
		notes.FrameProcessed.Subscribe(func(f *capture.Frame) {
			bus.Publish(FrameProcessedEvent{
				Sequence: f.Sequence,
				Width:    f.Resolution.Width,
				Height:   f.Resolution.Height,
			})
		}),
		notes.ProcessingLatency.Subscribe(func(d time.Duration) {
			bus.Publish(ProcessingLatencyEvent{Seconds: d.Seconds()})
		}),
		notes.MissedFramesCount.Subscribe(func(n uint) {
			bus.Publish(MissedFramesEvent{Count: n, Timestamp: now()})
		}),
		notes.CaptureRate.Subscribe(func(fps float64) {
			bus.Publish(CaptureRateEvent{FPS: fps, Timestamp: now()})
		}),
		notes.UnrecoverableError.Subscribe(func(err error) {
			bus.Publish(CaptureErrorEvent{Message: "Capture stopped", Error: err.Error(), Timestamp: now()})
		}),
		notes.PhotoTaken.Subscribe(func(path string) {
			bus.Publish(PhotoTakenEvent{Path: path, Timestamp: now()})
		}),
	}

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
