package capture

import "sync/atomic"

// Event is a capture event kind.
type Event uint8

// Capture events. EventNone and EventSleep are only ever returned by a
// drain; they are never pending.
const (
	EventNone Event = iota
	EventSleep
	EventNewFrame
	EventNewVideoMode
	EventInvalidSignal
	EventInvalidDevice
	EventSignalLost
	EventSignalGained
	EventUnrecoverableError

	eventCount
)

var eventNames = [eventCount]string{
	EventNone:               "none",
	EventSleep:              "sleep",
	EventNewFrame:           "new_frame",
	EventNewVideoMode:       "new_video_mode",
	EventInvalidSignal:      "invalid_signal",
	EventInvalidDevice:      "invalid_device",
	EventSignalLost:         "signal_lost",
	EventSignalGained:       "signal_gained",
	EventUnrecoverableError: "unrecoverable_error",
}

func (e Event) String() string {
	if e < eventCount {
		return eventNames[e]
	}
	return "unknown"
}

// Drain priority. Events in urgentEvents are drained regardless of device
// readiness; frameEvents only when the device is ready.
var (
	urgentEvents = [...]Event{
		EventUnrecoverableError,
		EventInvalidDevice,
		EventSignalGained,
		EventSignalLost,
		EventInvalidSignal,
	}
	frameEvents = [...]Event{
		EventNewVideoMode,
		EventNewFrame,
	}
)

// Queue is a set of sticky event flags. The zero value has nothing
// pending. All methods are safe for concurrent use.
type Queue struct {
	flags [eventCount]atomic.Bool
}

func pushable(e Event) bool {
	return e > EventSleep && e < eventCount
}

// Push marks e pending. It returns false if e was already pending or is
// not a pushable kind.
func (q *Queue) Push(e Event) bool {
	if !pushable(e) {
		return false
	}
	return q.flags[e].CompareAndSwap(false, true)
}

// Pending reports whether e is pending.
func (q *Queue) Pending(e Event) bool {
	if !pushable(e) {
		return false
	}
	return q.flags[e].Load()
}

// Pop clears e and reports whether it was pending.
func (q *Queue) Pop(e Event) bool {
	if !pushable(e) {
		return false
	}
	return q.flags[e].CompareAndSwap(true, false)
}

// Next pops the highest-priority pending event. When nothing urgent is
// pending and the device is not ready it returns EventSleep without
// touching frame events; when nothing at all is pending it returns
// EventNone.
func (q *Queue) Next(ready bool) Event {
	for _, e := range urgentEvents {
		if q.Pop(e) {
			return e
		}
	}
	if !ready {
		return EventSleep
	}
	for _, e := range frameEvents {
		if q.Pop(e) {
			return e
		}
	}
	return EventNone
}

// Clear drops every pending event.
func (q *Queue) Clear() {
	for i := range q.flags {
		q.flags[i].Store(false)
	}
}
