// Package v4l implements a capture backend for Video4Linux devices
// streaming YUYV.
package v4l

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/timer"
)

// Property keys specific to the V4L backend.
const (
	KeyAPIName                     = "api name"
	KeyAutofocus                   = "autofocus"
	KeyBrightness                  = "Brightness"
	KeyFocus                       = "Focus"
	KeyZoom                        = "Zoom"
	KeyVideoPresetProperties       = "supported video preset properties"
	KeySupportsVideoPresets        = "supports video presets"
	KeySupportsChannelSwitching    = "supports channel switching"
	KeySupportsResolutionSwitching = "supports resolution switching"
	KeyResolutionSwitchingUI       = "supports resolution switching: ui"
)

const (
	defaultWidth       = 640
	defaultHeight      = 480
	defaultFPS         = 60
	defaultStopTimeout = 2 * time.Second
	defaultReadTimeout = 100 * time.Millisecond
	rateInterval       = time.Second
)

// Options configures a Backend.
type Options struct {
	Open        Opener
	Timers      *timer.Facility
	StopTimeout time.Duration
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Backend captures from a V4L device. Channel and resolution changes
// rebuild the session from a deferred task.
type Backend struct {
	capture.Base

	open        Opener
	timers      *timer.Facility
	stopTimeout time.Duration
	readTimeout time.Duration
	logger      *slog.Logger

	activity capture.Activity
	frames   atomic.Int64

	// consumer-only
	device         Device
	format         Format
	restartPending bool
	cancel         []func()
}

// New creates a V4L backend on core.
func New(core *capture.Core, opts Options) *Backend {
	if opts.Timers == nil {
		opts.Timers = timer.New(nil)
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("v4l")
	}

	b := &Backend{
		Base:        capture.Base{Core: core},
		open:        opts.Open,
		timers:      opts.Timers,
		stopTimeout: opts.StopTimeout,
		readTimeout: opts.ReadTimeout,
		logger:      opts.Logger,
	}
	b.installRules()
	return b
}

func (b *Backend) installRules() {
	core := b.Core
	props := core.Properties()

	restart := func(prev, next capture.Value) {
		if prev.Int() != next.Int() {
			b.scheduleRestart()
		}
	}
	props.Handle(capture.KeyWidth, core.ResolutionRule(capture.KeyWidth, restart))
	props.Handle(capture.KeyHeight, core.ResolutionRule(capture.KeyHeight, restart))
	props.Handle(capture.KeyHasSignal, core.SignalRule())

	props.Handle(capture.KeyRefreshRate, capture.Rule{
		Apply: func(prev, next capture.Value) {
			if !prev.Equal(next) {
				core.Push(capture.EventNewVideoMode)
			}
		},
	})
	props.Handle(capture.KeyChannel, capture.Rule{
		Validate: func(next capture.Value) bool { return next.Int() >= 0 },
		Apply: func(_, next capture.Value) {
			core.Defer(func() { b.switchChannel(next.Int()) })
		},
	})
	props.Handle(capture.KeyFPS, capture.Rule{
		Validate: func(next capture.Value) bool { return next.Int() > 0 },
		Apply: func(_, next capture.Value) {
			if b.device == nil {
				return
			}
			if err := b.device.SetFrameRate(next.Int()); err != nil {
				b.logger.Warn("Failed to set frame rate", "fps", next.Int(), "error", err)
			}
		},
	})
	props.Handle(KeyAutofocus, capture.Rule{
		Apply: func(_, next capture.Value) { b.setControl(ControlAutofocus, next.Int()) },
	})
	props.Handle(KeyBrightness, core.ControlRule(KeyBrightness, func(v int) { b.setControl(ControlBrightness, v) }))
	props.Handle(KeyFocus, core.ControlRule(KeyFocus, func(v int) { b.setControl(ControlFocus, v) }))
	props.Handle(KeyZoom, core.ControlRule(KeyZoom, func(v int) { b.setControl(ControlZoom, v) }))
}

var controlKeys = map[string]Control{
	KeyAutofocus:  ControlAutofocus,
	KeyBrightness: ControlBrightness,
	KeyFocus:      ControlFocus,
	KeyZoom:       ControlZoom,
}

func defaults() map[string]capture.Value {
	d := capture.BoundsDefaults()
	d[capture.KeyWidth] = capture.Int(defaultWidth)
	d[capture.KeyHeight] = capture.Int(defaultHeight)
	d[KeyAPIName] = capture.String("Video4Linux")
	d[capture.KeyChannel] = capture.Int(0)
	d[KeyAutofocus] = capture.Int(0)
	d[capture.KeyFPS] = capture.Int(defaultFPS)
	d[capture.KeyHasSignal] = capture.Bool(true)
	d[KeyVideoPresetProperties] = capture.String("Brightness,Focus,Zoom")
	d[KeySupportsVideoPresets] = capture.Bool(true)
	d[KeySupportsChannelSwitching] = capture.Bool(true)
	d[KeySupportsResolutionSwitching] = capture.Bool(true)
	d[KeyResolutionSwitchingUI] = capture.Bool(true)

	for _, controls := range []map[string]capture.Value{
		capture.ControlDefaults(KeyBrightness, 0, 255, 63),
		capture.ControlDefaults(KeyFocus, 0, 1023, 127),
		capture.ControlDefaults(KeyZoom, 0, 1023, 127),
	} {
		for k, v := range controls {
			d[k] = v
		}
	}
	return d
}

// Name implements capture.Named.
func (b *Backend) Name() string { return "v4l" }

// Initialize implements capture.Backend. A missing device is not an
// error: the backend reports no signal until a channel switch succeeds.
func (b *Backend) Initialize() error {
	if b.open == nil {
		return errors.New("v4l backend has no device opener")
	}

	b.Core.Reset(defaults())
	b.Core.Frame().Format = capture.PixelFormatRGBA8888
	b.frames.Store(0)

	b.acquire()
	b.start()

	b.cancel = append(b.cancel, b.timers.Register(rateInterval, b.measureRate))
	return nil
}

// Release implements capture.Backend.
func (b *Backend) Release() error {
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil

	err := b.releaseDevice()
	b.Core.SetState(capture.StateUninitialized)
	return err
}

// ProcessNextEvent implements capture.Backend. Frame events wait while no
// device is open.
func (b *Backend) ProcessNextEvent() capture.Event {
	return b.Core.ProcessNext(b.device != nil)
}

// DeviceRemoved reports that the device node at path was unplugged. It
// runs on the consumer.
func (b *Backend) DeviceRemoved(path string) {
	if b.device == nil || b.device.Path() != path {
		return
	}
	b.logger.Warn("Capture device removed", "path", path)
	b.lost()
	if err := b.releaseDevice(); err != nil {
		b.logger.Warn("Failed to release removed device", "error", err)
	}
}

// DevicePath returns the node of the open device, or "".
func (b *Backend) DevicePath() string {
	if b.device == nil {
		return ""
	}
	return b.device.Path()
}

func (b *Backend) lost() {
	b.Core.Push(capture.EventInvalidDevice)
	b.Core.Properties().Set(capture.KeyHasSignal, capture.Bool(false))
	b.Core.SetState(capture.StateReadyNoSignal)
}

// acquire opens the device for the current channel at the requested
// resolution.
func (b *Backend) acquire() {
	props := b.Core.Properties()
	channel := props.Get(capture.KeyChannel).Int()

	dev, err := b.open(channel)
	if err != nil {
		b.logger.Warn("Failed to open capture device", "channel", channel, "error", err)
		props.Set(capture.KeyHasSignal, capture.Bool(false))
		b.Core.SetState(capture.StateReadyNoSignal)
		return
	}

	width, height := props.Get(capture.KeyWidth).Int(), props.Get(capture.KeyHeight).Int()
	format, err := dev.SetFormat(width, height)
	if err != nil {
		b.logger.Warn("Failed to set capture format", "width", width, "height", height, "error", err)
		_ = dev.Close()
		props.Set(capture.KeyHasSignal, capture.Bool(false))
		b.Core.SetState(capture.StateReadyNoSignal)
		return
	}

	if fps := props.Get(capture.KeyFPS).Int(); fps > 0 {
		if err := dev.SetFrameRate(fps); err != nil {
			b.logger.Debug("Device ignored frame rate", "fps", fps, "error", err)
		}
	}
	for key, c := range controlKeys {
		if err := dev.SetControl(c, props.Get(key).Int()); err != nil {
			b.logger.Debug("Device ignored control", "control", c, "error", err)
		}
	}

	b.device = dev
	b.format = format
	props.Store(capture.KeyWidth, capture.Int(format.Width))
	props.Store(capture.KeyHeight, capture.Int(format.Height))

	res := capture.Resolution{Width: format.Width, Height: format.Height, BitsPerPixel: 32}
	if !res.Within() {
		b.logger.Warn("Device mode out of range", "resolution", res)
		props.Set(capture.KeyHasSignal, capture.Bool(false))
		b.Core.Push(capture.EventInvalidSignal)
		b.Core.SetState(capture.StateReadyNoSignal)
		return
	}

	b.Core.SetFrameResolution(res)
	props.Set(capture.KeyHasSignal, capture.Bool(true))
	b.Core.SetState(capture.StateReadySignal)
	b.logger.Info("Capture device acquired", "path", dev.Path(), "channel", channel, "resolution", res)
}

func (b *Backend) start() {
	if b.device == nil || !b.Core.Properties().Get(capture.KeyHasSignal).Bool() {
		return
	}
	if err := b.device.Start(); err != nil {
		b.logger.Warn("Failed to start streaming", "path", b.device.Path(), "error", err)
		b.lost()
		return
	}

	loop := b.captureLoop(b.device, b.format)
	if err := b.activity.Start(loop); err != nil {
		b.Core.Fail(fmt.Errorf("start capture activity: %w", err))
		return
	}
	b.Core.SetState(capture.StateCapturing)
}

func (b *Backend) releaseDevice() error {
	if err := b.activity.Stop(b.stopTimeout); err != nil {
		b.Core.Fail(fmt.Errorf("stop capture activity: %w", err))
		return err
	}
	if b.device == nil {
		return nil
	}

	dev := b.device
	b.device = nil
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dev.Path(), err)
	}
	return nil
}

func (b *Backend) scheduleRestart() {
	if b.restartPending {
		return
	}
	b.restartPending = true
	b.Core.Defer(b.restart)
}

// restart rebuilds the session at the requested resolution. It runs as
// a deferred task, with the capture mutex free.
func (b *Backend) restart() {
	b.restartPending = false

	if err := b.releaseDevice(); err != nil {
		b.logger.Error("Failed to release device for restart", "error", err)
		if b.activity.Abandoned() {
			return
		}
	}
	b.acquire()
	b.Core.Push(capture.EventNewVideoMode)
	b.start()
}

// switchChannel runs as a deferred task. By then the new channel is in
// the property store, where acquire reads it.
func (b *Backend) switchChannel(channel int) {
	if err := b.releaseDevice(); err != nil {
		b.logger.Error("Failed to release device for channel switch", "error", err)
		if b.activity.Abandoned() {
			return
		}
	}
	b.acquire()
	b.start()
	b.Core.Notifications().NewInputChannel.Fire(channel)
}

func (b *Backend) setControl(c Control, value int) {
	if b.device == nil {
		return
	}
	if err := b.device.SetControl(c, value); err != nil {
		b.logger.Warn("Failed to set device control", "control", c, "value", value, "error", err)
	}
}

// captureLoop reads frames outside the mutex and copies them in under it.
func (b *Backend) captureLoop(dev Device, format Format) func(running func() bool) {
	raw := make([]byte, format.Stride*format.Height)
	rgba := make([]byte, format.Width*format.Height*4)

	return func(running func() bool) {
		for running() {
			n, err := dev.ReadFrame(raw, b.readTimeout)
			switch {
			case errors.Is(err, ErrFrameTimeout):
				continue
			case errors.Is(err, ErrDeviceGone):
				b.logger.Warn("Capture device disappeared", "path", dev.Path())
				b.lost()
				return
			case err != nil:
				b.Core.Fail(fmt.Errorf("read frame from %s: %w", dev.Path(), err))
				return
			}
			if n < format.Stride*(format.Height-1)+format.Width*2 {
				continue
			}

			yuyvToRGBA(rgba, raw, format.Width, format.Height, format.Stride)
			b.Core.Produce(func(f *capture.Frame) {
				copy(f.Pixels, rgba)
			})
			b.frames.Add(1)
		}
	}
}

func (b *Backend) measureRate(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	fps := math.Round(float64(b.frames.Swap(0)) / elapsed.Seconds())
	if b.device == nil {
		return
	}
	b.Core.Properties().Set(capture.KeyRefreshRate, capture.Float(fps))
	b.Core.Notifications().CaptureRate.Fire(fps)
}
