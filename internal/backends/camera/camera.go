// Package camera implements a capture backend for gPhoto2 cameras. Live
// preview frames are JPEG images pulled one at a time from the camera and
// scaled into the capture bounds.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/timer"
)

// Property keys specific to the camera backend.
const (
	KeyAPIName             = "api name"
	KeyCameraModel         = "camera model"
	KeySupportsLivePreview = "supports live preview"
	KeySupportsTakingPhoto = "supports taking photo"
	KeyLivePreviewEnabled  = "live preview enabled"
	KeyTakePhoto           = "take photo"
	KeyLastPhoto           = "last photo"
	KeyReconnect           = "reconnect"
)

// Errors returned by cameras.
var (
	ErrNoCamera    = errors.New("no camera detected")
	ErrUnsupported = errors.New("operation not supported by camera")
)

const (
	defaultWidth       = 640
	defaultHeight      = 480
	defaultStopTimeout = 5 * time.Second

	connectTimeout = 10 * time.Second
	previewTimeout = 5 * time.Second
	photoTimeout   = 30 * time.Second
	previewRetry   = 100 * time.Millisecond
	rateInterval   = time.Second
)

// Abilities are the operations a camera reports.
type Abilities struct {
	Preview bool
	Capture bool
}

// Camera is a connected camera.
type Camera interface {
	Model() string
	Abilities() Abilities
	// CapturePreview returns one JPEG-encoded preview image.
	CapturePreview(ctx context.Context) ([]byte, error)
	// CaptureImage fires the shutter and returns the stored image's path
	// on the camera.
	CaptureImage(ctx context.Context) (string, error)
	Close() error
}

// Connector finds and opens a camera.
type Connector func(ctx context.Context) (Camera, error)

// Options configures a Backend.
type Options struct {
	Connect     Connector
	Timers      *timer.Facility
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Backend is the gPhoto2 capture source.
type Backend struct {
	capture.Base

	connect     Connector
	timers      *timer.Facility
	stopTimeout time.Duration
	logger      *slog.Logger

	activity capture.Activity
	frames   atomic.Int64

	// consumer-only
	camera Camera
	cancel []func()
}

// New creates a camera backend on core.
func New(core *capture.Core, opts Options) *Backend {
	if opts.Timers == nil {
		opts.Timers = timer.New(nil)
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("camera")
	}

	b := &Backend{
		Base:        capture.Base{Core: core},
		connect:     opts.Connect,
		timers:      opts.Timers,
		stopTimeout: opts.StopTimeout,
		logger:      opts.Logger,
	}
	b.installRules()
	return b
}

func (b *Backend) installRules() {
	core := b.Core
	props := core.Properties()

	// The preview dictates the frame size.
	props.Handle(capture.KeyWidth, capture.ReadOnly)
	props.Handle(capture.KeyHeight, capture.ReadOnly)
	props.Handle(capture.KeyHasSignal, core.SignalRule())

	props.Handle(KeyLivePreviewEnabled, capture.Rule{
		Validate: func(next capture.Value) bool {
			return !next.Bool() || (b.camera != nil && props.Get(KeySupportsLivePreview).Bool())
		},
		Apply: func(prev, next capture.Value) {
			if prev.Bool() == next.Bool() {
				return
			}
			core.Defer(func() {
				if next.Bool() {
					b.startPreview()
				} else {
					b.stopPreview()
				}
			})
		},
	})
	props.Handle(KeyTakePhoto, capture.Rule{
		Validate: func(next capture.Value) bool {
			if !next.Bool() {
				return true
			}
			if b.camera == nil {
				b.logger.Debug("Ignoring shutter request without a camera")
				return false
			}
			return props.Get(KeySupportsTakingPhoto).Bool()
		},
		Apply: func(_, next capture.Value) {
			if next.Bool() {
				core.Defer(func() { b.withPreviewSuspended(b.takePhoto) })
			}
		},
	})
	props.Handle(KeyReconnect, capture.Rule{
		Apply: func(_, next capture.Value) {
			if next.Bool() {
				core.Defer(b.reconnect)
			}
		},
	})
}

func defaults() map[string]capture.Value {
	d := capture.BoundsDefaults()
	d[KeyAPIName] = capture.String("gPhoto2")
	d[capture.KeyWidth] = capture.Int(defaultWidth)
	d[capture.KeyHeight] = capture.Int(defaultHeight)
	d[capture.KeyRefreshRate] = capture.Float(0)
	d[capture.KeyHasSignal] = capture.Bool(false)
	d[KeyCameraModel] = capture.String("")
	d[KeySupportsLivePreview] = capture.Bool(false)
	d[KeySupportsTakingPhoto] = capture.Bool(false)
	d[KeyLivePreviewEnabled] = capture.Bool(false)
	d[KeyTakePhoto] = capture.Bool(false)
	d[KeyLastPhoto] = capture.String("")
	d[KeyReconnect] = capture.Bool(false)
	return d
}

// Name implements capture.Named.
func (b *Backend) Name() string { return "camera" }

// Initialize implements capture.Backend. A missing camera leaves the
// backend sleeping until a reconnect finds one.
func (b *Backend) Initialize() error {
	if b.connect == nil {
		return errors.New("camera backend has no connector")
	}

	b.Core.Reset(defaults())
	b.Core.Frame().Format = capture.PixelFormatRGBA8888
	b.Core.SetFrameResolution(capture.Resolution{Width: defaultWidth, Height: defaultHeight, BitsPerPixel: 32})
	b.frames.Store(0)

	b.attach()
	b.cancel = append(b.cancel, b.timers.Register(rateInterval, b.measureRate))
	return nil
}

// Release implements capture.Backend.
func (b *Backend) Release() error {
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil

	err := b.activity.Stop(b.stopTimeout)
	b.detach()
	b.Core.SetState(capture.StateUninitialized)
	return err
}

// ProcessNextEvent implements capture.Backend. Frame events wait while no
// camera is attached.
func (b *Backend) ProcessNextEvent() capture.Event {
	return b.Core.ProcessNext(b.camera != nil)
}

// Camera returns the attached camera, or nil.
func (b *Backend) Camera() Camera { return b.camera }

func (b *Backend) attach() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	cam, err := b.connect(ctx)
	if err != nil {
		b.logger.Warn("No camera attached", "error", err)
		b.Core.SetState(capture.StateReadyNoSignal)
		return
	}

	abilities := cam.Abilities()
	props := b.Core.Properties()
	props.Store(KeyCameraModel, capture.String(cam.Model()))
	props.Store(KeySupportsLivePreview, capture.Bool(abilities.Preview))
	props.Store(KeySupportsTakingPhoto, capture.Bool(abilities.Capture))
	b.camera = cam
	b.Core.SetState(capture.StateReadyNoSignal)
	b.logger.Info("Camera attached", "model", cam.Model(), "preview", abilities.Preview, "capture", abilities.Capture)
}

func (b *Backend) detach() {
	props := b.Core.Properties()
	props.Store(KeySupportsLivePreview, capture.Bool(false))
	props.Store(KeySupportsTakingPhoto, capture.Bool(false))
	props.Store(KeyCameraModel, capture.String(""))

	if b.camera == nil {
		return
	}
	if err := b.camera.Close(); err != nil {
		b.logger.Warn("Failed to close camera", "error", err)
	}
	b.camera = nil
}

// reconnect runs as a deferred task.
func (b *Backend) reconnect() {
	b.Core.Properties().Store(KeyReconnect, capture.Bool(false))
	preview := b.Core.Properties().Get(KeyLivePreviewEnabled).Bool()

	b.stopPreview()
	b.detach()
	b.attach()

	if preview && b.camera != nil && b.Core.Properties().Get(KeySupportsLivePreview).Bool() {
		b.startPreview()
		return
	}
	b.Core.Properties().Store(KeyLivePreviewEnabled, capture.Bool(false))
}

func (b *Backend) startPreview() {
	if b.camera == nil {
		return
	}
	if err := b.activity.Start(b.previewLoop(b.camera)); err != nil {
		if errors.Is(err, capture.ErrActivityRunning) {
			return
		}
		b.Core.Fail(fmt.Errorf("start live preview: %w", err))
		return
	}
	b.Core.Properties().Set(capture.KeyHasSignal, capture.Bool(true))
	b.Core.SetState(capture.StateCapturing)
	b.logger.Info("Live preview started")
}

func (b *Backend) stopPreview() {
	if !b.activity.Alive() {
		return
	}
	if err := b.activity.Stop(b.stopTimeout); err != nil {
		b.Core.Fail(fmt.Errorf("stop live preview: %w", err))
		return
	}
	b.Core.Properties().Set(capture.KeyHasSignal, capture.Bool(false))
	b.Core.SetState(capture.StateReadyNoSignal)
	b.logger.Info("Live preview stopped")
}

// withPreviewSuspended runs fn with the live preview stopped, restarting
// it afterwards if it was enabled.
func (b *Backend) withPreviewSuspended(fn func()) {
	enabled := b.Core.Properties().Get(KeyLivePreviewEnabled).Bool()
	if enabled {
		b.stopPreview()
	}
	fn()
	if enabled {
		b.startPreview()
	}
}

func (b *Backend) takePhoto() {
	props := b.Core.Properties()
	defer props.Store(KeyTakePhoto, capture.Bool(false))

	if b.camera == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), photoTimeout)
	defer cancel()

	path, err := b.camera.CaptureImage(ctx)
	if err != nil {
		b.logger.Warn("Failed to take photo", "error", err)
		return
	}
	props.Store(KeyLastPhoto, capture.String(path))
	b.Core.Notifications().PhotoTaken.Fire(path)
	b.logger.Info("Photo taken", "path", path)
}

func (b *Backend) previewLoop(cam Camera) func(running func() bool) {
	props := b.Core.Properties()

	return func(running func() bool) {
		for running() {
			ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
			data, err := cam.CapturePreview(ctx)
			cancel()
			if err != nil {
				b.logger.Debug("Preview capture failed", "error", err)
				props.Set(capture.KeyHasSignal, capture.Bool(false))
				time.Sleep(previewRetry)
				continue
			}

			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				b.logger.Debug("Preview image not decodable", "error", err)
				props.Set(capture.KeyHasSignal, capture.Bool(false))
				continue
			}
			props.Set(capture.KeyHasSignal, capture.Bool(true))

			rgba := b.fit(img)
			res := capture.Resolution{Width: rgba.Rect.Dx(), Height: rgba.Rect.Dy(), BitsPerPixel: 32}
			if !b.Core.Fits(res) {
				props.Set(capture.KeyHasSignal, capture.Bool(false))
				b.Core.Push(capture.EventInvalidSignal)
				time.Sleep(previewRetry)
				continue
			}

			b.Core.Produce(func(f *capture.Frame) {
				if f.Resolution != res {
					f.Resolution = res
					props.Store(capture.KeyWidth, capture.Int(res.Width))
					props.Store(capture.KeyHeight, capture.Int(res.Height))
					b.Core.Push(capture.EventNewVideoMode)
				}
				copy(f.Pixels, rgba.Pix)
			})
			b.frames.Add(1)
		}
	}
}

// fit converts img to RGBA, scaling it down to the declared maximum
// resolution when it does not fit.
func (b *Backend) fit(img image.Image) *image.RGBA {
	maxW, maxH := b.Core.FrameLimit()

	src := img.Bounds()
	w, h := fitSize(src.Dx(), src.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Rect, img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Rect, img, src, draw.Src, nil)
	}
	return dst
}

// fitSize scales w x h down, keeping the aspect ratio, until it lies
// within maxW x maxH.
func fitSize(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	if maxW*h <= maxH*w {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

func (b *Backend) measureRate(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	fps := math.Round(float64(b.frames.Swap(0)) / elapsed.Seconds())
	props := b.Core.Properties()
	if props.Get(capture.KeyRefreshRate).Float() == fps {
		return
	}
	props.Store(capture.KeyRefreshRate, capture.Float(fps))
	b.Core.Push(capture.EventNewVideoMode)
	b.Core.Notifications().CaptureRate.Fire(fps)
}
