// Package host drives a capture backend from a single consumer loop. Each
// tick drains one capture event under the capture mutex, updates timers,
// runs deferred tasks and then serves queued requests with exclusive
// access to the backend.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/timer"
)

var (
	// ErrUnrecoverable wraps the backend failure that ended the loop.
	ErrUnrecoverable = errors.New("unrecoverable capture error")
	// ErrQueueFull is returned by Submit when the request queue is full.
	ErrQueueFull = errors.New("host request queue full")
	// ErrNotRunning is returned when a released host is asked to run or
	// to serve a request.
	ErrNotRunning = errors.New("capture not initialized")
)

const (
	requestQueueSize     = 64
	invalidSignalBackoff = time.Second
	missedFramesInterval = time.Second
	idleSleep            = time.Millisecond
)

// Alias maps an input resolution to the resolution the device should be
// forced to when the input reports it.
type Alias struct {
	From capture.Resolution
	To   capture.Resolution
}

// Options configures a Host.
type Options struct {
	Core    *capture.Core
	Backend capture.Backend
	Timers  *timer.Facility
	Clock   clock.Clock
	Aliases []Alias
	Eco     bool
	Logger  *slog.Logger

	// OnPropertyWritten, if set, is called on the consumer for every
	// property write the backend accepted through SetProperties or
	// WriteProperties.
	OnPropertyWritten func(key string, v capture.Value, source string)
}

// Host owns the consumer side of one backend instance.
type Host struct {
	core    *capture.Core
	backend capture.Backend
	timers  *timer.Facility
	clock   clock.Clock
	notes   *capture.Notifications
	logger  *slog.Logger
	written func(key string, v capture.Value, source string)

	requests chan func(capture.Backend)

	mu          sync.RWMutex
	aliases     []Alias
	session     string
	initialized bool
	ended       chan struct{} // closed by release
	lastTick    atomic.Int64 // unix nanos

	// consumer-only state
	pendingAlias *capture.Resolution
	lastDropped  uint
	eco          ecoSleeper
	cancelTimer  func()
}

// New creates a Host. The backend must have been built on opts.Core.
func New(opts Options) *Host {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Timers == nil {
		opts.Timers = timer.New(opts.Clock)
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("host")
	}

	h := &Host{
		core:     opts.Core,
		backend:  opts.Backend,
		timers:   opts.Timers,
		clock:    opts.Clock,
		notes:    opts.Core.Notifications(),
		logger:   opts.Logger,
		written:  opts.OnPropertyWritten,
		requests: make(chan func(capture.Backend), requestQueueSize),
		aliases:  append([]Alias(nil), opts.Aliases...),
		eco:      ecoSleeper{enabled: opts.Eco},
	}
	h.notes.NewProposedVideoMode.Subscribe(h.onProposedVideoMode)
	return h
}

// Core returns the backend's shared capture state.
func (h *Host) Core() *capture.Core { return h.core }

// Timers returns the timer facility updated on every tick.
func (h *Host) Timers() *timer.Facility { return h.timers }

// Session returns the ID of the current capture session, or "" before
// InitializeCapture.
func (h *Host) Session() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// SetAliases replaces the resolution alias table.
func (h *Host) SetAliases(aliases []Alias) {
	h.mu.Lock()
	h.aliases = append([]Alias(nil), aliases...)
	h.mu.Unlock()
}

// Aliases returns a copy of the resolution alias table.
func (h *Host) Aliases() []Alias {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Alias(nil), h.aliases...)
}

// InitializeCapture initializes the backend, starts a new session and
// registers the missed-frames timer. The returned function releases the
// backend. It does nothing once the session has been released, which a
// failed Run does itself.
func (h *Host) InitializeCapture() (func() error, error) {
	if err := h.backend.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize capture backend: %w", err)
	}

	session := uuid.New().String()
	h.mu.Lock()
	h.session = session
	h.initialized = true
	h.ended = make(chan struct{})
	h.mu.Unlock()

	h.lastDropped = h.backend.DroppedFrameCount()
	h.cancelTimer = h.timers.Register(missedFramesInterval, h.reportMissedFrames)

	h.logger.Info("Capture session started",
		"session", session,
		"backend", backendName(h.backend),
		"resolution", h.backend.FrameBuffer().Resolution)

	return h.release, nil
}

// release runs once per session. Requests still waiting in Do return
// ErrNotRunning.
func (h *Host) release() error {
	h.mu.Lock()
	if !h.initialized {
		h.mu.Unlock()
		return nil
	}
	h.initialized = false
	session := h.session
	close(h.ended)
	h.mu.Unlock()

	if h.cancelTimer != nil {
		h.cancelTimer()
		h.cancelTimer = nil
	}

	if err := h.backend.Release(); err != nil {
		return fmt.Errorf("release capture backend: %w", err)
	}
	h.logger.Info("Capture session ended", "session", session)
	return nil
}

func (h *Host) reportMissedFrames(time.Duration) {
	dropped := h.backend.DroppedFrameCount()
	delta := dropped - h.lastDropped
	h.lastDropped = dropped
	h.notes.MissedFramesCount.Fire(delta)
}

// onProposedVideoMode runs inside ProcessNextEvent, under the capture
// mutex. Aliased modes are forced after the mutex is released.
func (h *Host) onProposedVideoMode(mode capture.VideoMode) {
	for _, a := range h.Aliases() {
		if a.From.Width == mode.Resolution.Width && a.From.Height == mode.Resolution.Height {
			to := a.To
			h.pendingAlias = &to
			return
		}
	}
	h.notes.NewVideoMode.Fire(mode)
}

// Running reports whether the backend is initialized.
func (h *Host) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// endedCh returns a channel closed once the current session is released,
// or nil before the first session.
func (h *Host) endedCh() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ended
}

// Submit queues fn to run on the consumer with exclusive access to the
// backend. It never blocks. Requests queued before InitializeCapture run
// on the first tick; after release Submit fails with ErrNotRunning.
func (h *Host) Submit(fn func(b capture.Backend)) error {
	if ended := h.endedCh(); ended != nil && !h.Running() {
		return ErrNotRunning
	}
	select {
	case h.requests <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do runs fn on the consumer and waits for it to finish.
func (h *Host) Do(ctx context.Context, fn func(b capture.Backend)) error {
	ended := h.endedCh()
	if ended != nil && !h.Running() {
		return ErrNotRunning
	}

	done := make(chan struct{})
	req := func(b capture.Backend) {
		defer close(done)
		fn(b)
	}

	select {
	case h.requests <- req:
	case <-ended:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ended:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetProperties queues writes of props and logs the ones the backend
// rejects.
func (h *Host) SetProperties(props map[string]capture.Value, source string) error {
	if len(props) == 0 {
		return nil
	}
	return h.Submit(func(b capture.Backend) {
		for _, key := range h.write(b, props, source) {
			h.logger.Warn("Property write rejected", "key", key, "value", props[key], "source", source)
		}
	})
}

// WriteProperties applies props on the consumer and waits for the result.
// It returns the sorted keys the backend rejected.
func (h *Host) WriteProperties(ctx context.Context, props map[string]capture.Value, source string) ([]string, error) {
	var rejected []string
	err := h.Do(ctx, func(b capture.Backend) {
		rejected = h.write(b, props, source)
	})
	return rejected, err
}

func (h *Host) write(b capture.Backend, props map[string]capture.Value, source string) []string {
	var rejected []string
	for _, key := range slices.Sorted(maps.Keys(props)) {
		v := props[key]
		if !b.SetDeviceProperty(key, v) {
			rejected = append(rejected, key)
			continue
		}
		if h.written != nil {
			h.written(key, v, source)
		}
	}
	return rejected
}

// Tick runs one consumer iteration and returns the event it processed.
// The error is non-nil only for an unrecoverable backend failure.
func (h *Host) Tick() (capture.Event, error) {
	var (
		frameTime time.Time
		hasFrame  bool
	)

	h.lastTick.Store(h.clock.Now().UnixNano())

	h.core.Lock()
	event := h.backend.ProcessNextEvent()
	switch event {
	case capture.EventNewFrame:
		frame := h.backend.FrameBuffer()
		h.notes.FrameProcessed.Fire(frame)
		frameTime, hasFrame = frame.Timestamp, true
	case capture.EventInvalidSignal:
		h.logger.Warn("The input signal is out of range")
	case capture.EventInvalidDevice:
		h.logger.Warn("Invalid capture device")
	}
	h.timers.Update()
	h.core.Unlock()

	if event == capture.EventUnrecoverableError {
		if err := h.core.Failure(); err != nil {
			return event, fmt.Errorf("%w: %w", ErrUnrecoverable, err)
		}
		return event, ErrUnrecoverable
	}

	h.applyAlias()
	h.serveRequests()

	if hasFrame {
		h.notes.ProcessingLatency.Fire(h.clock.Since(frameTime))
	}

	switch event {
	case capture.EventInvalidSignal, capture.EventInvalidDevice:
		h.clock.Sleep(invalidSignalBackoff)
	}
	return event, nil
}

// DeviceRemoved queues a hotplug removal for backends that hold device
// nodes. Other backends ignore it.
func (h *Host) DeviceRemoved(path string) {
	r, ok := h.backend.(interface{ DeviceRemoved(path string) })
	if !ok {
		return
	}
	if err := h.Submit(func(capture.Backend) { r.DeviceRemoved(path) }); err != nil {
		h.logger.Warn("Dropped device removal", "path", path, "error", err)
	}
}

// Alive reports whether a tick started within the last d.
func (h *Host) Alive(d time.Duration) bool {
	last := h.lastTick.Load()
	return last != 0 && h.clock.Since(time.Unix(0, last)) <= d
}

func (h *Host) applyAlias() {
	if h.pendingAlias == nil {
		return
	}
	to := *h.pendingAlias
	h.pendingAlias = nil

	h.logger.Info("Forcing aliased input resolution", "resolution", to)
	okW := h.backend.SetDeviceProperty(capture.KeyWidth, capture.Int(to.Width))
	okH := h.backend.SetDeviceProperty(capture.KeyHeight, capture.Int(to.Height))
	if !okW || !okH {
		h.logger.Warn("Backend rejected aliased resolution", "resolution", to)
	}
}

func (h *Host) serveRequests() {
	for {
		select {
		case fn := <-h.requests:
			fn(h.backend)
		default:
			return
		}
	}
}

// Run ticks until ctx is cancelled or the backend fails. ready, if not
// nil, is called once before the first tick. A backend failure releases
// the backend before Run returns the error.
func (h *Host) Run(ctx context.Context, ready func()) error {
	h.mu.RLock()
	initialized := h.initialized
	h.mu.RUnlock()
	if !initialized {
		return ErrNotRunning
	}

	if ready != nil {
		ready()
	}
	h.eco.reference = h.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		event, err := h.Tick()
		if err != nil {
			h.logger.Error("Releasing capture after unrecoverable error", "error", err)
			if releaseErr := h.release(); releaseErr != nil {
				return errors.Join(err, releaseErr)
			}
			return err
		}
		h.sleep(event)
	}
}

func (h *Host) sleep(event capture.Event) {
	if !h.eco.enabled {
		if event == capture.EventNone || event == capture.EventSleep {
			h.clock.Sleep(idleSleep)
		}
		return
	}

	d := h.eco.next(
		h.clock.Now(),
		h.backend.DeviceProperty(capture.KeyHasSignal).Bool(),
		h.backend.DroppedFrameCount(),
		frameInterval(h.backend.DeviceProperty(capture.KeyRefreshRate).Float()),
	)
	if d > 0 {
		h.clock.Sleep(d)
	}
	if event != capture.EventSleep {
		h.eco.reference = h.clock.Now()
	}
}

func frameInterval(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

func backendName(b capture.Backend) string {
	if n, ok := b.(capture.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", b)
}
