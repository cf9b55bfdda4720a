package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream merges subscriptions of several event types into one channel, for
// handlers that wait on a select loop such as huma SSE operations.
// Publishing never blocks on a slow reader: events that don't fit in the
// buffer are dropped and counted.
type Stream struct {
	C <-chan any

	ch      chan any
	dropped atomic.Uint64
	mu      sync.Mutex
	unsubs  []func()
}

// NewStream creates a stream buffering up to size events.
func NewStream(size int) *Stream {
	ch := make(chan any, size)
	return &Stream{C: ch, ch: ch}
}

// Forward subscribes s to every event of type T published on bus.
func Forward[T Event](bus *Bus, s *Stream) {
	unsub := event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	})
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// Dropped returns how many events did not fit in the buffer.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Close removes every subscription. C is left open so a reader racing the
// close never sees a zero value.
func (s *Stream) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
