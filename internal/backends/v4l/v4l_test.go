package v4l

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/timer"
)

type fakeDevice struct {
	path   string
	frames chan []byte
	stuck  chan struct{} // when non-nil, ReadFrame blocks until closed

	mu       sync.Mutex
	controls map[Control]int
	formats  [][2]int
	fps      int
	started  bool
	closed   bool
	readErr  error
}

func newFakeDevice(path string) *fakeDevice {
	return &fakeDevice{
		path:     path,
		frames:   make(chan []byte, 4),
		controls: make(map[Control]int),
	}
}

func (d *fakeDevice) Path() string { return d.path }

func (d *fakeDevice) SetFormat(width, height int) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats = append(d.formats, [2]int{width, height})
	return Format{Width: width, Height: height, Stride: width * 2}, nil
}

func (d *fakeDevice) SetFrameRate(fps int) error {
	d.mu.Lock()
	d.fps = fps
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) SetControl(c Control, value int) error {
	d.mu.Lock()
	d.controls[c] = value
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) control(c Control) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controls[c]
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) ReadFrame(dst []byte, timeout time.Duration) (int, error) {
	if d.stuck != nil {
		<-d.stuck
	}
	d.mu.Lock()
	err := d.readErr
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case f := <-d.frames:
		return copy(dst, f), nil
	case <-time.After(timeout):
		return 0, ErrFrameTimeout
	}
}

func (d *fakeDevice) Stop() error { return nil }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

type fakeOpener struct {
	mu      sync.Mutex
	opened  []int
	devices []*fakeDevice
	err     error
	prepare func(*fakeDevice)
}

func (o *fakeOpener) open(channel int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, channel)
	if o.err != nil {
		return nil, o.err
	}
	d := newFakeDevice(fmt.Sprintf("/dev/video%d", channel))
	if o.prepare != nil {
		o.prepare(d)
	}
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *fakeOpener) last() *fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[len(o.devices)-1]
}

func newBackend(t *testing.T, o *fakeOpener, stopTimeout time.Duration) (*capture.Core, *Backend) {
	t.Helper()
	core := capture.NewCore(capture.Options{})
	b := New(core, Options{
		Open:        o.open,
		Timers:      timer.New(nil),
		StopTimeout: stopTimeout,
		ReadTimeout: 10 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return core, b
}

// drainUntil runs consumer iterations until want is processed.
func drainUntil(t *testing.T, core *capture.Core, b *Backend, want capture.Event) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		core.Lock()
		ev := b.ProcessNextEvent()
		core.Unlock()
		if ev == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%v not processed within 2s", want)
}

func yuyvFrame(width, height int, y, u, v byte) []byte {
	f := make([]byte, width*height*2)
	for i := 0; i < len(f); i += 4 {
		f[i], f[i+1], f[i+2], f[i+3] = y, u, y, v
	}
	return f
}

func TestInitializeAcquiresDevice(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	if core.State() != capture.StateCapturing {
		t.Errorf("state = %v, want capturing", core.State())
	}
	if got := b.DeviceProperty(KeyBrightness).Int(); got != 63 {
		t.Errorf("Brightness = %d, want 63", got)
	}
	if got := b.DeviceProperty(KeyZoom + capture.SuffixMaximum).Int(); got != 1023 {
		t.Errorf("Zoom maximum = %d, want 1023", got)
	}
	if got := b.DeviceProperty(KeyAPIName).Text(); got != "Video4Linux" {
		t.Errorf("api name = %q", got)
	}

	dev := o.last()
	if dev.control(ControlBrightness) != 63 || dev.control(ControlFocus) != 127 {
		t.Errorf("controls not applied: %v", dev.controls)
	}
	if res := b.FrameBuffer().Resolution; res.Width != 640 || res.Height != 480 {
		t.Errorf("resolution = %v, want 640x480", res)
	}
}

func TestCaptureConvertsFrames(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	o.last().frames <- yuyvFrame(640, 480, 235, 128, 128)
	drainUntil(t, core, b, capture.EventNewFrame)

	core.Lock()
	px := append([]byte(nil), b.FrameBuffer().Pixels[:4]...)
	core.Unlock()
	for i, c := range px {
		if c != 0xff {
			t.Fatalf("pixel byte %d = %d, want 255 for white", i, c)
		}
	}
}

func TestChannelSwitchIsDeferred(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	first := o.last()
	channel := -1
	core.Notifications().NewInputChannel.Subscribe(func(ch int) { channel = ch })

	core.Lock()
	if !b.SetDeviceProperty(capture.KeyChannel, capture.Int(1)) {
		t.Fatal("channel write rejected")
	}
	if core.DeferredCount() != 1 {
		t.Errorf("deferred = %d, want 1", core.DeferredCount())
	}
	if first.isClosed() {
		t.Error("device closed while the mutex was held")
	}
	core.Unlock()

	if !first.isClosed() {
		t.Error("old device not closed after switch")
	}
	if channel != 1 {
		t.Errorf("input channel notice = %d, want 1", channel)
	}
	if got := o.opened; len(got) != 2 || got[1] != 1 {
		t.Errorf("opened channels = %v, want [0 1]", got)
	}
}

func TestResolutionChangeRestartsOnce(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	b.SetDeviceProperty(capture.KeyWidth, capture.Int(800))
	b.SetDeviceProperty(capture.KeyHeight, capture.Int(600))
	if n := core.DeferredCount(); n != 1 {
		t.Fatalf("deferred = %d, want one coalesced restart", n)
	}

	core.RunDeferred()

	dev := o.last()
	if len(o.devices) != 2 {
		t.Fatalf("opened %d devices, want 2", len(o.devices))
	}
	if got := dev.formats[len(dev.formats)-1]; got != [2]int{800, 600} {
		t.Errorf("format = %v, want 800x600", got)
	}
	if res := b.FrameBuffer().Resolution; res.Width != 800 || res.Height != 600 {
		t.Errorf("resolution = %v", res)
	}
	if !core.Pending(capture.EventNewVideoMode) {
		t.Error("new_video_mode not raised")
	}
}

func TestResolutionOutOfBoundsRejected(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	if b.SetDeviceProperty(capture.KeyWidth, capture.Int(4000)) {
		t.Error("width 4000 accepted")
	}
	if core.DeferredCount() != 0 {
		t.Error("rejected write scheduled a restart")
	}
	if got := b.DeviceProperty(capture.KeyWidth).Int(); got != 640 {
		t.Errorf("width = %d after rejected write", got)
	}
}

func TestControlRange(t *testing.T) {
	o := &fakeOpener{}
	_, b := newBackend(t, o, time.Second)
	defer b.Release()

	if b.SetDeviceProperty(KeyBrightness, capture.Int(300)) {
		t.Error("Brightness 300 accepted")
	}
	if !b.SetDeviceProperty(KeyBrightness, capture.Int(100)) {
		t.Fatal("Brightness 100 rejected")
	}
	if got := o.last().control(ControlBrightness); got != 100 {
		t.Errorf("device brightness = %d, want 100", got)
	}
}

func TestOpenFailureReportsNoSignal(t *testing.T) {
	o := &fakeOpener{err: errors.New("no such device")}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	core.Lock()
	first := b.ProcessNextEvent()
	second := b.ProcessNextEvent()
	core.Unlock()

	if first != capture.EventSignalLost {
		t.Errorf("first event = %v, want signal_lost", first)
	}
	if second != capture.EventSleep {
		t.Errorf("second event = %v, want sleep without a device", second)
	}
}

func TestDeviceGoneRaisesInvalidDevice(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	o.last().fail(ErrDeviceGone)
	drainUntil(t, core, b, capture.EventInvalidDevice)

	if b.DeviceProperty(capture.KeyHasSignal).Bool() {
		t.Error("has signal still true")
	}
}

func TestDeviceRemoved(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	dev := o.last()
	b.DeviceRemoved("/dev/video7")
	if dev.isClosed() {
		t.Fatal("unrelated removal closed the device")
	}

	b.DeviceRemoved(dev.Path())
	if !dev.isClosed() {
		t.Error("removed device not closed")
	}
	core.Lock()
	ev := b.ProcessNextEvent()
	core.Unlock()
	if ev != capture.EventInvalidDevice {
		t.Errorf("event = %v, want invalid_device", ev)
	}
}

func TestStuckActivityIsUnrecoverable(t *testing.T) {
	stuck := make(chan struct{})
	defer close(stuck)

	o := &fakeOpener{prepare: func(d *fakeDevice) { d.stuck = stuck }}
	core, b := newBackend(t, o, 20*time.Millisecond)

	b.SetDeviceProperty(capture.KeyChannel, capture.Int(1))
	core.RunDeferred()

	if !errors.Is(core.Failure(), capture.ErrJoinTimeout) {
		t.Errorf("failure = %v, want ErrJoinTimeout", core.Failure())
	}
	if len(o.opened) != 1 {
		t.Errorf("reopened while the old activity was still alive: %v", o.opened)
	}

	core.Lock()
	ev := b.ProcessNextEvent()
	core.Unlock()
	if ev != capture.EventUnrecoverableError {
		t.Errorf("event = %v, want unrecoverable_error", ev)
	}
}

func TestMeasureRateUpdatesRefreshRate(t *testing.T) {
	o := &fakeOpener{}
	core, b := newBackend(t, o, time.Second)
	defer b.Release()

	b.frames.Store(30)
	b.measureRate(time.Second)

	if got := b.DeviceProperty(capture.KeyRefreshRate).Float(); got != 30 {
		t.Errorf("refresh rate = %v, want 30", got)
	}
	if !core.Pending(capture.EventNewVideoMode) {
		t.Error("refresh rate change did not raise new_video_mode")
	}
}
