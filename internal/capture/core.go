package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// ErrNotInitialized is returned by operations that need an initialized
// backend.
var ErrNotInitialized = errors.New("capture backend not initialized")

// Options configures a Core.
type Options struct {
	Clock         clock.PassiveClock
	Notifications *Notifications
	Logger        *slog.Logger
	Resolution    Resolution
}

// Core is the state a backend instance shares between its capture
// activity and the consumer: property store, event flags, frame buffer,
// deferred task queue and dropped-frame counter. A single mutex guards the
// frame buffer and everything backends mark as capture-shared.
type Core struct {
	mu sync.Mutex

	clock  clock.PassiveClock
	props  *Properties
	queue  Queue
	frame  *Frame
	notes  *Notifications
	logger *slog.Logger

	deferMu  sync.Mutex
	deferred []func()
	draining atomic.Bool

	dropped atomic.Uint64
	state   atomic.Int32

	failMu  sync.Mutex
	failure error
}

// NewCore creates a Core. Missing options get defaults: the real clock, a
// fresh notification set, the default logger and 640x480x32.
func NewCore(opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Notifications == nil {
		opts.Notifications = NewNotifications()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolution == (Resolution{}) {
		opts.Resolution = Resolution{Width: 640, Height: 480, BitsPerPixel: 32}
	}

	return &Core{
		clock:  opts.Clock,
		props:  NewProperties(),
		frame:  newFrame(opts.Resolution),
		notes:  opts.Notifications,
		logger: opts.Logger,
	}
}

// Properties returns the property store.
func (c *Core) Properties() *Properties { return c.props }

// Notifications returns the notification set.
func (c *Core) Notifications() *Notifications { return c.notes }

// Frame returns the shared frame buffer. Callers must hold the lock while
// reading pixel data that a capture activity may be writing.
func (c *Core) Frame() *Frame { return c.frame }

// Now returns the core clock's current time.
func (c *Core) Now() time.Time { return c.clock.Now() }

// Logger returns the core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Push raises event flag e. It is a no-op if e is already pending.
func (c *Core) Push(e Event) {
	c.queue.Push(e)
}

// Pending reports whether event flag e is raised.
func (c *Core) Pending(e Event) bool {
	return c.queue.Pending(e)
}

// State returns the backend's lifecycle state.
func (c *Core) State() State { return State(c.state.Load()) }

// SetState records the backend's lifecycle state.
func (c *Core) SetState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.logger.Debug("Capture state changed", "from", prev, "to", s)
	}
}

// Reset prepares the core for a fresh session: properties are replaced by
// defaults without side effects, pending events, deferred tasks and the
// dropped-frame counter are cleared.
func (c *Core) Reset(defaults map[string]Value) {
	c.props.Seed(defaults)
	c.queue.Clear()
	c.dropped.Store(0)

	c.deferMu.Lock()
	c.deferred = nil
	c.deferMu.Unlock()

	c.failMu.Lock()
	c.failure = nil
	c.failMu.Unlock()
}

// Lock acquires the capture mutex on behalf of the consumer.
func (c *Core) Lock() { c.mu.Lock() }

// Unlock releases the capture mutex and then runs deferred tasks. Only the
// consumer may call it; capture activities release through Produce.
func (c *Core) Unlock() {
	c.mu.Unlock()
	c.RunDeferred()
}

// Defer queues task to run once the capture mutex is free. Tasks run in
// FIFO order on the consumer and may queue further tasks.
func (c *Core) Defer(task func()) {
	c.deferMu.Lock()
	c.deferred = append(c.deferred, task)
	c.deferMu.Unlock()
}

// DeferredCount returns the number of queued tasks.
func (c *Core) DeferredCount() int {
	c.deferMu.Lock()
	defer c.deferMu.Unlock()
	return len(c.deferred)
}

// RunDeferred drains the deferred queue. It must only be called while the
// caller does not hold the capture mutex. A call from inside a running
// task returns immediately; the outer drain picks up the new tasks.
func (c *Core) RunDeferred() {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	defer c.draining.Store(false)

	for {
		c.deferMu.Lock()
		if len(c.deferred) == 0 {
			c.deferMu.Unlock()
			return
		}
		task := c.deferred[0]
		c.deferred[0] = nil
		c.deferred = c.deferred[1:]
		c.deferMu.Unlock()

		task()
	}
}

// Produce is the capture activity's entry point: under the mutex it lets
// write fill the frame, stamps it and raises new_frame. A new_frame still
// pending from the previous call counts as a dropped frame.
func (c *Core) Produce(write func(f *Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteFrame(write)
}

// WriteFrame is Produce for callers that already hold the mutex, such as
// timer callbacks running inside the consumer's locked section.
func (c *Core) WriteFrame(write func(f *Frame)) {
	write(c.frame)
	c.frame.Timestamp = c.clock.Now()
	c.frame.Sequence++
	if !c.queue.Push(EventNewFrame) {
		c.dropped.Add(1)
	}
}

// CopyFrame returns a copy of the current frame and its sequence number.
// Unlike Lock it may be called from any goroutine.
func (c *Core) CopyFrame() (*image.RGBA, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame.Image(), c.frame.Sequence
}

// SetFrameResolution changes the frame's logical resolution under the
// mutex.
func (c *Core) SetFrameResolution(res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame.Resolution = res
}

// AddDropped adds n to the dropped-frame counter.
func (c *Core) AddDropped(n uint) {
	c.dropped.Add(uint64(n))
}

// DroppedFrames returns the monotonically increasing dropped-frame count.
func (c *Core) DroppedFrames() uint {
	return uint(c.dropped.Load())
}

// Fail records err as the reason for an unrecoverable error and raises
// the flag. Only the first failure is kept.
func (c *Core) Fail(err error) {
	c.failMu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.failMu.Unlock()
	c.logger.Error("Unrecoverable capture error", "error", err)
	c.queue.Push(EventUnrecoverableError)
}

// Failure returns the recorded unrecoverable error, if any.
func (c *Core) Failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

// ProposedVideoMode reads the current mode back from the properties.
func (c *Core) ProposedVideoMode() VideoMode {
	return VideoMode{
		Resolution: Resolution{
			Width:        c.props.Get(KeyWidth).Int(),
			Height:       c.props.Get(KeyHeight).Int(),
			BitsPerPixel: c.frame.Resolution.BitsPerPixel,
		},
		RefreshRate: c.props.Get(KeyRefreshRate).Float(),
	}
}

// ProcessNext pops one event by priority and fires its notification.
// ready reports whether the device is open; while it is not, frame events
// stay pending and EventSleep is returned.
func (c *Core) ProcessNext(ready bool) Event {
	e := c.queue.Next(ready)

	switch e {
	case EventUnrecoverableError:
		err := c.Failure()
		if err == nil {
			err = fmt.Errorf("unspecified backend failure")
		}
		c.notes.UnrecoverableError.Fire(err)
	case EventInvalidDevice:
		c.notes.InvalidDevice.Fire(struct{}{})
	case EventSignalGained:
		c.notes.SignalGained.Fire(struct{}{})
	case EventSignalLost:
		c.notes.SignalLost.Fire(struct{}{})
	case EventInvalidSignal:
		c.notes.InvalidSignal.Fire(struct{}{})
	case EventNewVideoMode:
		c.notes.NewProposedVideoMode.Fire(c.ProposedVideoMode())
	case EventNewFrame:
		c.notes.NewFrame.Fire(c.frame)
	}
	return e
}
