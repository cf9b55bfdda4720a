// Package mmap implements a capture backend fed by another process
// through two shared buffers: a status block of uint16 fields and a screen
// buffer of 32-bit pixels.
//
// The producing application polls FieldNewFrame. While it is 0 it may fill
// the screen buffer, then set the width, height and dropped-frame fields
// and raise FieldNewFrame to 1. The backend copies the frame out and
// lowers the flag again. Frames the application had to skip while the flag
// was up are reported through FieldDropped.
package mmap

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
)

// Default shared buffer names.
const (
	DefaultStatusName = "capturenode_mmap_status"
	DefaultScreenName = "capturenode_mmap_screen"
)

// KeyAPIName is the backend's display name property.
const KeyAPIName = "api name"

const (
	defaultWidth        = 640
	defaultHeight       = 480
	defaultPollInterval = time.Millisecond
	defaultStopTimeout  = 2 * time.Second
)

// Options configures a Backend.
type Options struct {
	Map          Mapper
	StatusName   string
	ScreenName   string
	PollInterval time.Duration
	StopTimeout  time.Duration
	Logger       *slog.Logger
}

// Backend captures frames from shared memory.
type Backend struct {
	capture.Base

	opts     Options
	logger   *slog.Logger
	activity capture.Activity

	status Region
	screen Region
}

// New creates an mmap backend on core.
func New(core *capture.Core, opts Options) *Backend {
	if opts.Map == nil {
		opts.Map = SharedMemory
	}
	if opts.StatusName == "" {
		opts.StatusName = DefaultStatusName
	}
	if opts.ScreenName == "" {
		opts.ScreenName = DefaultScreenName
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("mmap")
	}

	b := &Backend{
		Base:   capture.Base{Core: core},
		opts:   opts,
		logger: opts.Logger,
	}
	props := core.Properties()
	// The application writing the status block dictates the frame size.
	props.Handle(capture.KeyWidth, capture.ReadOnly)
	props.Handle(capture.KeyHeight, capture.ReadOnly)
	props.Handle(capture.KeyHasSignal, core.SignalRule())
	return b
}

// Name implements capture.Named.
func (b *Backend) Name() string { return "mmap" }

// Initialize implements capture.Backend.
func (b *Backend) Initialize() error {
	defaults := capture.BoundsDefaults()
	defaults[KeyAPIName] = capture.String("MMAP")
	defaults[capture.KeyWidth] = capture.Int(defaultWidth)
	defaults[capture.KeyHeight] = capture.Int(defaultHeight)
	defaults[capture.KeyHasSignal] = capture.Bool(true)
	b.Core.Reset(defaults)
	b.Core.Frame().Format = capture.PixelFormatRGBA8888
	b.Core.SetFrameResolution(capture.Resolution{Width: defaultWidth, Height: defaultHeight, BitsPerPixel: 32})

	var err error
	if b.status, err = b.opts.Map(b.opts.StatusName, StatusSize); err != nil {
		return fmt.Errorf("map status buffer: %w", err)
	}
	if b.screen, err = b.opts.Map(b.opts.ScreenName, capture.MaxFrameBytes); err != nil {
		b.closeRegions()
		return fmt.Errorf("map screen buffer: %w", err)
	}

	props := b.Core.Properties()
	if err := errors.Join(
		writeField(b.status, FieldMaxWidth, uint16(props.Get(capture.KeyMaxWidth).Int())),
		writeField(b.status, FieldMaxHeight, uint16(props.Get(capture.KeyMaxHeight).Int())),
	); err != nil {
		b.closeRegions()
		return fmt.Errorf("publish capture limits: %w", err)
	}

	if err := b.activity.Start(b.captureLoop); err != nil {
		b.closeRegions()
		return fmt.Errorf("start capture activity: %w", err)
	}
	b.Core.SetState(capture.StateCapturing)
	b.logger.Info("Shared memory capture initialized", "status", b.opts.StatusName, "screen", b.opts.ScreenName)
	return nil
}

// Release implements capture.Backend.
func (b *Backend) Release() error {
	err := b.activity.Stop(b.opts.StopTimeout)
	if err == nil {
		b.closeRegions()
	}
	b.Core.SetState(capture.StateUninitialized)
	return err
}

// ProcessNextEvent implements capture.Backend.
func (b *Backend) ProcessNextEvent() capture.Event {
	return b.Core.ProcessNext(b.Core.State().Ready())
}

func (b *Backend) closeRegions() {
	for _, r := range []*Region{&b.status, &b.screen} {
		if *r == nil {
			continue
		}
		if err := (*r).Close(); err != nil {
			b.logger.Warn("Failed to unmap shared buffer", "error", err)
		}
		*r = nil
	}
}

func (b *Backend) captureLoop(running func() bool) {
	for running() {
		st, err := ReadStatus(b.status)
		if err != nil {
			b.Core.Fail(err)
			return
		}
		if st.NewFrame == 0 {
			time.Sleep(b.opts.PollInterval)
			continue
		}
		if err := b.consume(st); err != nil {
			b.Core.Fail(err)
			return
		}
	}
}

// consume takes one frame out of the screen buffer and hands the buffer
// back to the application.
func (b *Backend) consume(st Status) error {
	props := b.Core.Properties()
	res := capture.Resolution{Width: int(st.Width), Height: int(st.Height), BitsPerPixel: 32}

	if !b.Core.Fits(res) {
		props.Set(capture.KeyHasSignal, capture.Bool(false))
		b.Core.Push(capture.EventInvalidSignal)
	} else {
		props.Set(capture.KeyHasSignal, capture.Bool(true))

		var readErr error
		b.Core.Produce(func(f *capture.Frame) {
			if f.Resolution != res {
				f.Resolution = res
				props.Store(capture.KeyWidth, capture.Int(res.Width))
				props.Store(capture.KeyHeight, capture.Int(res.Height))
				b.Core.Push(capture.EventNewVideoMode)
			}
			_, readErr = b.screen.ReadAt(f.Pixels[:res.Bytes()], 0)
		})
		if readErr != nil {
			return fmt.Errorf("read screen buffer: %w", readErr)
		}
	}

	b.Core.AddDropped(uint(st.Dropped))

	// The dropped count is per frame; clear it along with the flag.
	if err := errors.Join(
		writeField(b.status, FieldDropped, 0),
		writeField(b.status, FieldNewFrame, 0),
	); err != nil {
		return fmt.Errorf("acknowledge frame: %w", err)
	}
	return nil
}
