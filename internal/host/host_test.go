package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/smazurov/capturenode/internal/backends/virtual"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/timer"
)

type fixture struct {
	clock *testingclock.FakeClock
	core  *capture.Core
	host  *Host
}

func newFixture(t *testing.T, aliases ...Alias) *fixture {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1000, 0))
	core := capture.NewCore(capture.Options{Clock: clk})
	timers := timer.New(clk)
	backend := virtual.New(core, timers)

	h := New(Options{
		Core:    core,
		Backend: backend,
		Timers:  timers,
		Clock:   clk,
		Aliases: aliases,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	release, err := h.InitializeCapture()
	if err != nil {
		t.Fatalf("InitializeCapture: %v", err)
	}
	t.Cleanup(func() { _ = release() })
	return &fixture{clock: clk, core: core, host: h}
}

func (f *fixture) tick(t *testing.T) capture.Event {
	t.Helper()
	f.clock.Step(17 * time.Millisecond)
	ev, err := f.host.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return ev
}

func TestInitializeCaptureStartsSession(t *testing.T) {
	f := newFixture(t)

	if f.host.Session() == "" {
		t.Error("session ID not set")
	}
	if !f.core.State().Ready() {
		t.Errorf("state = %v, want ready", f.core.State())
	}
}

func TestTickProcessesFrames(t *testing.T) {
	f := newFixture(t)
	notes := f.core.Notifications()

	processed := 0
	var latency time.Duration = -1
	notes.FrameProcessed.Subscribe(func(*capture.Frame) { processed++ })
	notes.ProcessingLatency.Subscribe(func(d time.Duration) { latency = d })

	if ev := f.tick(t); ev != capture.EventNewFrame {
		t.Fatalf("Tick = %v, want new_frame", ev)
	}
	if processed != 1 {
		t.Errorf("frame processed fired %d times, want 1", processed)
	}
	if latency != 0 {
		t.Errorf("latency = %v, want 0 on a frozen clock", latency)
	}
}

func TestTickAppliesAlias(t *testing.T) {
	f := newFixture(t, Alias{
		From: capture.Resolution{Width: 800, Height: 600},
		To:   capture.Resolution{Width: 640, Height: 480},
	})

	var modes []capture.VideoMode
	f.core.Notifications().NewVideoMode.Subscribe(func(m capture.VideoMode) {
		modes = append(modes, m)
	})

	err := f.host.Submit(func(b capture.Backend) {
		b.SetDeviceProperty(capture.KeyWidth, capture.Int(800))
		b.SetDeviceProperty(capture.KeyHeight, capture.Int(600))
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for range 5 {
		f.tick(t)
	}

	if len(modes) != 1 {
		t.Fatalf("got %d video mode notices, want 1: %+v", len(modes), modes)
	}
	if got := modes[0].Resolution; got.Width != 640 || got.Height != 480 {
		t.Errorf("video mode = %v, want 640x480", got)
	}
	if got := f.core.Frame().Resolution; got.Width != 640 || got.Height != 480 {
		t.Errorf("frame resolution = %v, want 640x480", got)
	}
}

func TestTickReportsUnrecoverable(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("device on fire")

	var notified error
	f.core.Notifications().UnrecoverableError.Subscribe(func(err error) { notified = err })

	f.core.Fail(boom)
	ev, err := f.host.Tick()

	if ev != capture.EventUnrecoverableError {
		t.Errorf("event = %v, want unrecoverable_error", ev)
	}
	if !errors.Is(err, ErrUnrecoverable) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrUnrecoverable wrapping the failure", err)
	}
	if notified != boom {
		t.Errorf("notification carried %v", notified)
	}
}

func TestRunReleasesAfterUnrecoverable(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("device on fire")
	f.core.Fail(boom)

	done := make(chan error, 1)
	go func() { done <- f.host.Run(context.Background(), nil) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrUnrecoverable) || !errors.Is(err, boom) {
			t.Fatalf("Run = %v, want ErrUnrecoverable wrapping the failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the failure")
	}

	if st := f.core.State(); st != capture.StateUninitialized {
		t.Errorf("state = %v, want uninitialized", st)
	}
	if f.host.Running() {
		t.Error("host still running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.host.WriteProperties(ctx, map[string]capture.Value{capture.KeyWidth: capture.Int(800)}, "api"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("WriteProperties = %v, want ErrNotRunning", err)
	}
	if err := f.host.Submit(func(capture.Backend) {}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit = %v, want ErrNotRunning", err)
	}
	if err := f.host.release(); err != nil {
		t.Errorf("second release = %v", err)
	}
}

func TestDoFailsWhenSessionEnds(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.host.Do(ctx, func(capture.Backend) {}) }()

	// Nothing serves the queue, so Do waits until the release.
	time.Sleep(20 * time.Millisecond)
	if err := f.host.release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotRunning) {
			t.Errorf("Do = %v, want ErrNotRunning", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do still waiting after release")
	}
}

func TestTickBacksOffOnInvalidSignal(t *testing.T) {
	f := newFixture(t)
	f.core.Push(capture.EventInvalidSignal)

	start := f.clock.Now()
	ev, err := f.host.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if ev != capture.EventInvalidSignal {
		t.Fatalf("event = %v, want invalid_signal", ev)
	}
	if waited := f.clock.Since(start); waited < time.Second {
		t.Errorf("backed off %v, want 1s", waited)
	}
}

func TestMissedFramesReportedPerSecond(t *testing.T) {
	f := newFixture(t)

	deltas := make(chan uint, 4)
	f.core.Notifications().MissedFramesCount.Subscribe(func(n uint) { deltas <- n })

	f.core.AddDropped(5)
	f.clock.Step(time.Second)
	if _, err := f.host.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	select {
	case n := <-deltas:
		if n != 5 {
			t.Errorf("missed frames = %d, want 5", n)
		}
	default:
		t.Fatal("missed frames count not reported")
	}

	// The second window only reports drops made since the first.
	before := f.core.DroppedFrames()
	f.clock.Step(time.Second)
	if _, err := f.host.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n, want := <-deltas, f.core.DroppedFrames()-before; n != want {
		t.Errorf("second delta = %d, want %d", n, want)
	}
}

func TestDoRunsOnConsumer(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.host.Run(ctx, func() { close(ready) }) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("host loop did not start")
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()

	var width int
	err := f.host.Do(reqCtx, func(b capture.Backend) {
		width = b.DeviceProperty(capture.KeyWidth).Int()
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if width != 640 {
		t.Errorf("width = %d, want 640", width)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	core := capture.NewCore(capture.Options{Clock: clk})
	h := New(Options{Core: core, Backend: virtual.New(core, timer.New(clk)), Clock: clk,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	if err := h.Run(context.Background(), nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Run = %v, want ErrNotRunning", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	f := newFixture(t)
	for range requestQueueSize {
		if err := f.host.Submit(func(capture.Backend) {}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := f.host.Submit(func(capture.Backend) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit on full queue = %v, want ErrQueueFull", err)
	}
}

func TestWritePropertiesReportsRejectedKeys(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1000, 0))
	core := capture.NewCore(capture.Options{Clock: clk})
	timers := timer.New(clk)

	type write struct {
		key    string
		source string
	}
	var written []write
	h := New(Options{
		Core:    core,
		Backend: virtual.New(core, timers),
		Timers:  timers,
		Clock:   clk,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnPropertyWritten: func(key string, _ capture.Value, source string) {
			written = append(written, write{key, source})
		},
	})
	release, err := h.InitializeCapture()
	if err != nil {
		t.Fatalf("InitializeCapture: %v", err)
	}
	defer func() { _ = release() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, nil) }()

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	rejected, err := h.WriteProperties(reqCtx, map[string]capture.Value{
		capture.KeyWidth:  capture.Int(800),
		capture.KeyHeight: capture.String("tall"),
	}, "api")
	if err != nil {
		t.Fatalf("WriteProperties: %v", err)
	}
	if len(rejected) != 1 || rejected[0] != capture.KeyHeight {
		t.Errorf("rejected = %v, want [height]", rejected)
	}

	cancel()
	<-done

	if len(written) != 1 || written[0] != (write{capture.KeyWidth, "api"}) {
		t.Errorf("written = %v, want width from api", written)
	}
	if got := core.Properties().Get(capture.KeyWidth).Int(); got != 800 {
		t.Errorf("width = %d, want 800", got)
	}
}

func TestAliveTracksLastTick(t *testing.T) {
	f := newFixture(t)
	if f.host.Alive(time.Second) {
		t.Error("alive before the first tick")
	}

	f.tick(t)
	if !f.host.Alive(time.Second) {
		t.Error("not alive right after a tick")
	}

	f.clock.Step(2 * time.Second)
	if f.host.Alive(time.Second) {
		t.Error("alive after the loop stalled")
	}
}
