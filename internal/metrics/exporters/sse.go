package exporters

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/metrics"
)

const (
	defaultSnapshotInterval = time.Second
	// A snapshot is repeated after this many unchanged intervals so new
	// clients get numbers without waiting for the next change.
	keepaliveIntervals = 10
)

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes capture metric snapshots on the event bus, which
// /api/events forwards as capture-metrics. Nothing is sent before the first
// frame and unchanged snapshots are thinned out.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	last      events.CaptureMetricsEvent
	unchanged int
}

func NewSSEExporter(bus EventPublisher) *SSEExporter {
	return &SSEExporter{bus: bus, interval: defaultSnapshotInterval}
}

// Start launches the publishing loop. It runs until ctx ends or Stop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for it. Stop is safe to call again, and
// before Start.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *SSEExporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(metrics.GetCaptureMetrics())
		}
	}
}

func (s *SSEExporter) publish(m metrics.CaptureMetrics) {
	if m == (metrics.CaptureMetrics{}) {
		return
	}
	ev := snapshotEvent(m)
	if ev == s.last && s.unchanged < keepaliveIntervals {
		s.unchanged++
		return
	}
	s.last, s.unchanged = ev, 0
	s.bus.Publish(ev)
}

func snapshotEvent(m metrics.CaptureMetrics) events.CaptureMetricsEvent {
	ev := events.CaptureMetricsEvent{
		EventType:       "capture_metrics",
		FPS:             strconv.FormatFloat(m.FPS, 'f', 2, 64),
		FramesProcessed: strconv.FormatUint(m.FramesProcessed, 10),
		DroppedFrames:   strconv.FormatUint(m.DroppedFrames, 10),
		LatencyMS:       strconv.FormatFloat(m.LastLatency.Seconds()*1000, 'f', 2, 64),
		HasSignal:       m.HasSignal,
	}
	if m.Width > 0 && m.Height > 0 {
		ev.Resolution = fmt.Sprintf("%dx%d", m.Width, m.Height)
	}
	return ev
}

// EventTypes lists the SSE event names this exporter produces, for
// registering them on /api/events.
func EventTypes() map[string]any {
	return map[string]any{"capture-metrics": events.CaptureMetricsEvent{}}
}
