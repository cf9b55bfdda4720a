package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(VideoModeEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SessionChangedEvent:
		event.Publish(b.dispatcher, e)
	case VideoModeEvent:
		event.Publish(b.dispatcher, e)
	case SignalEvent:
		event.Publish(b.dispatcher, e)
	case InputChannelEvent:
		event.Publish(b.dispatcher, e)
	case FrameProcessedEvent:
		event.Publish(b.dispatcher, e)
	case ProcessingLatencyEvent:
		event.Publish(b.dispatcher, e)
	case MissedFramesEvent:
		event.Publish(b.dispatcher, e)
	case CaptureRateEvent:
		event.Publish(b.dispatcher, e)
	case CaptureErrorEvent:
		event.Publish(b.dispatcher, e)
	case PhotoTakenEvent:
		event.Publish(b.dispatcher, e)
	case PropertyChangedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceDiscoveryEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case CaptureMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e SignalEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(VideoModeEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SignalEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(InputChannelEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameProcessedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProcessingLatencyEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MissedFramesEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureRateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PhotoTakenEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PropertyChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceDiscoveryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
