// Package timer runs callbacks at approximate intervals.
//
// Nothing here spawns goroutines. The host calls Update once per main-loop
// tick and due callbacks run synchronously on that goroutine, so a callback
// sees the same locking context as the caller of Update.
package timer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Callback receives the time elapsed since the timer last fired.
type Callback func(elapsed time.Duration)

type entry struct {
	id       uint64
	interval time.Duration
	fn       Callback
	last     time.Time
}

// Facility holds the registered timers.
type Facility struct {
	clock   clock.PassiveClock
	mu      sync.Mutex
	nextID  uint64
	entries []*entry
}

// New creates a timer facility reading time from c. A nil clock uses the
// real wall clock.
func New(c clock.PassiveClock) *Facility {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Facility{clock: c}
}

// Register adds a timer firing roughly every interval. The first firing is
// one interval after registration. The returned function removes the timer
// and is safe to call more than once.
func (f *Facility) Register(interval time.Duration, fn Callback) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.entries = append(f.entries, &entry{
		id:       id,
		interval: interval,
		fn:       fn,
		last:     f.clock.Now(),
	})
	f.mu.Unlock()

	return func() { f.remove(id) }
}

func (f *Facility) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.id == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// Update fires every timer whose interval has elapsed. Callbacks may
// register or remove timers; changes take effect on the next Update.
func (f *Facility) Update() {
	now := f.clock.Now()

	f.mu.Lock()
	due := make([]*entry, 0, len(f.entries))
	elapsed := make([]time.Duration, 0, len(f.entries))
	for _, e := range f.entries {
		if d := now.Sub(e.last); d >= e.interval {
			e.last = now
			due = append(due, e)
			elapsed = append(elapsed, d)
		}
	}
	f.mu.Unlock()

	for i, e := range due {
		e.fn(elapsed[i])
	}
}

// Len returns the number of registered timers.
func (f *Facility) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
