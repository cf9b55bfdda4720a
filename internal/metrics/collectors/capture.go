// Package collectors feeds capture events from the event bus into the
// metrics package.
package collectors

import (
	"sync"

	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/metrics"
)

// Subscriber is the subscription half of events.Bus.
type Subscriber interface {
	Subscribe(handler any) func()
}

// CaptureCollector records capture events as metrics.
type CaptureCollector struct {
	bus      Subscriber
	mu       sync.Mutex
	unsubs   []func()
	stopOnce sync.Once
}

// NewCaptureCollector creates a collector on bus.
func NewCaptureCollector(bus Subscriber) *CaptureCollector {
	return &CaptureCollector{bus: bus}
}

// Start subscribes to the capture events.
func (c *CaptureCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(func(events.FrameProcessedEvent) { metrics.AddFrameProcessed() }),
		c.bus.Subscribe(func(e events.ProcessingLatencyEvent) {
			metrics.ObserveLatency(secondsToDuration(e.Seconds))
		}),
		c.bus.Subscribe(func(e events.MissedFramesEvent) { metrics.AddDroppedFrames(e.Count) }),
		c.bus.Subscribe(func(e events.CaptureRateEvent) { metrics.SetCaptureRate(e.FPS) }),
		c.bus.Subscribe(func(e events.VideoModeEvent) { metrics.SetResolution(e.Width, e.Height) }),
		c.bus.Subscribe(func(e events.SignalEvent) {
			metrics.AddSignalEvent(e.Kind)
			switch e.Kind {
			case events.SignalGained:
				metrics.SetHasSignal(true)
			case events.SignalLost, events.InvalidSignal, events.InvalidDevice:
				metrics.SetHasSignal(false)
			}
		}),
		c.bus.Subscribe(func(events.PhotoTakenEvent) { metrics.AddPhotoTaken() }),
		c.bus.Subscribe(func(e events.SessionChangedEvent) {
			if e.Action == "started" {
				metrics.Reset()
			}
		}),
	)
}

// Stop removes every subscription.
func (c *CaptureCollector) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.unsubs = nil
	})
}
