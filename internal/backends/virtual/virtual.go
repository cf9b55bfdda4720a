// Package virtual implements a synthetic capture backend that animates a
// test pattern. It needs no hardware and produces frames from timers on
// the consumer goroutine.
package virtual

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/timer"
)

// Property keys specific to the virtual backend.
const (
	KeyInputChannelIndex        = "input channel index"
	KeySupportsChannelSwitching = "supports channel switching: ui"
)

const (
	defaultWidth  = 640
	defaultHeight = 480
	bitsPerPixel  = 32

	drawInterval    = time.Second / 60
	measureInterval = time.Second
)

var (
	fontOnce sync.Once
	fontData *truetype.Font
	fontErr  error
)

// Backend is the synthetic pattern generator.
type Backend struct {
	capture.Base

	timers *timer.Facility
	cancel []func()
	logger *slog.Logger

	offset   int
	frames   int
	face     font.Face
	faceSize float64
}

// New creates a virtual backend on core, driven by timers.
func New(core *capture.Core, timers *timer.Facility) *Backend {
	b := &Backend{
		Base:   capture.Base{Core: core},
		timers: timers,
		logger: logging.GetLogger("virtual"),
	}

	props := core.Properties()
	props.Handle(capture.KeyWidth, core.ResolutionRule(capture.KeyWidth, b.resize))
	props.Handle(capture.KeyHeight, core.ResolutionRule(capture.KeyHeight, b.resize))
	props.Handle(capture.KeyHasSignal, core.SignalRule())
	props.Handle(KeyInputChannelIndex, capture.Rule{
		Apply: func(_, next capture.Value) {
			core.Notifications().NewInputChannel.Fire(next.Int())
		},
	})
	return b
}

// Name implements capture.Named.
func (b *Backend) Name() string { return "virtual" }

// Initialize implements capture.Backend.
func (b *Backend) Initialize() error {
	defaults := capture.BoundsDefaults()
	defaults[capture.KeyWidth] = capture.Int(defaultWidth)
	defaults[capture.KeyHeight] = capture.Int(defaultHeight)
	defaults[capture.KeyRefreshRate] = capture.Float(60)
	defaults[capture.KeyHasSignal] = capture.Bool(true)
	defaults[KeySupportsChannelSwitching] = capture.Bool(true)
	defaults[KeyInputChannelIndex] = capture.Int(0)
	b.Core.Reset(defaults)

	b.Core.SetFrameResolution(capture.Resolution{
		Width:        defaultWidth,
		Height:       defaultHeight,
		BitsPerPixel: bitsPerPixel,
	})
	b.Core.Frame().Format = capture.PixelFormatRGBA8888

	b.offset, b.frames = 0, 0
	b.cancel = append(b.cancel,
		b.timers.Register(drawInterval, b.draw),
		b.timers.Register(measureInterval, b.measure),
	)

	b.Core.SetState(capture.StateCapturing)
	b.logger.Info("Virtual capture initialized", "resolution", b.Core.Frame().Resolution)
	return nil
}

// Release implements capture.Backend.
func (b *Backend) Release() error {
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil
	b.Core.SetState(capture.StateUninitialized)
	return nil
}

// ProcessNextEvent implements capture.Backend.
func (b *Backend) ProcessNextEvent() capture.Event {
	return b.Core.ProcessNext(b.Core.State().Ready())
}

func (b *Backend) resize(prev, next capture.Value) {
	if prev.Int() == next.Int() {
		return
	}
	props := b.Core.Properties()
	b.Core.SetFrameResolution(capture.Resolution{
		Width:        props.Get(capture.KeyWidth).Int(),
		Height:       props.Get(capture.KeyHeight).Int(),
		BitsPerPixel: bitsPerPixel,
	})
	b.Core.Push(capture.EventNewVideoMode)
}

// inBounds checks the frame size against the declared bounds, which can
// be narrowed after the size was set.
func (b *Backend) inBounds(res capture.Resolution) bool {
	if !res.Within() {
		return false
	}
	minimum, maximum := b.Core.DeclaredBounds()
	return res.Width >= minimum.Width && res.Width <= maximum.Width &&
		res.Height >= minimum.Height && res.Height <= maximum.Height
}

// draw runs inside the consumer's locked section.
func (b *Backend) draw(time.Duration) {
	props := b.Core.Properties()
	res := b.Core.Frame().Resolution

	if !b.inBounds(res) {
		props.Set(capture.KeyHasSignal, capture.Bool(false))
		b.Core.Push(capture.EventInvalidSignal)
		b.Core.SetState(capture.StateReadyNoSignal)
		return
	}

	if !props.Get(capture.KeyHasSignal).Bool() {
		props.Set(capture.KeyHasSignal, capture.Bool(true))
		b.Core.SetState(capture.StateCapturing)
	}

	b.Core.WriteFrame(b.render)
	b.offset++
	b.frames++
}

func (b *Backend) measure(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	fps := math.Round(float64(b.frames) / elapsed.Seconds())
	b.frames = 0

	props := b.Core.Properties()
	if props.Get(capture.KeyRefreshRate).Float() == fps {
		return
	}
	props.Store(capture.KeyRefreshRate, capture.Float(fps))
	b.Core.Notifications().CaptureRate.Fire(fps)
	b.Core.Push(capture.EventNewVideoMode)
}

// render fills the frame with a scrolling hue gradient that darkens
// towards the bottom, then overlays the resolution and frame number.
func (b *Backend) render(f *capture.Frame) {
	w, h := f.Resolution.Width, f.Resolution.Height
	pix := f.Pixels

	hues := make([][3]float64, w)
	for x := range w {
		hue := float64((x+b.offset)%w) / float64(w)
		hues[x] = hslToRGB(hue, 1, 0.5)
	}

	for y := range h {
		shade := 1 - 0.75*float64(y)/float64(h)
		row := pix[y*w*4 : (y+1)*w*4]
		for x := range w {
			c := hues[x]
			i := x * 4
			row[i] = uint8(c[0] * shade * 255)
			row[i+1] = uint8(c[1] * shade * 255)
			row[i+2] = uint8(c[2] * shade * 255)
			row[i+3] = 0xff
		}
	}

	b.overlay(f, fmt.Sprintf("%dx%d  #%d", w, h, f.Sequence+1))
}

func (b *Backend) overlay(f *capture.Frame, text string) {
	size := math.Max(8, float64(f.Resolution.Height)/12)
	if b.face == nil || b.faceSize != size {
		fontOnce.Do(func() { fontData, fontErr = truetype.Parse(goregular.TTF) })
		if fontErr != nil {
			return
		}
		b.face = truetype.NewFace(fontData, &truetype.Options{Size: size})
		b.faceSize = size
	}

	dc := gg.NewContextForRGBA(f.RGBA())
	dc.SetFontFace(b.face)
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(text, float64(f.Resolution.Width)/2, float64(f.Resolution.Height)/2, 0.5, 0.5)
}

func hslToRGB(h, s, l float64) [3]float64 {
	q := l * (1 + s)
	if l >= 0.5 {
		q = l + s - l*s
	}
	p := 2*l - q
	return [3]float64{
		hueToChannel(p, q, h+1.0/3),
		hueToChannel(p, q, h),
		hueToChannel(p, q, h-1.0/3),
	}
}

func hueToChannel(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
