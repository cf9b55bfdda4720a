// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "capturenode"
	subsystem = "capture"
)

var (
	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_processed_total",
		Help:      "Frames consumed by the capture host",
	})

	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dropped_frames_total",
		Help:      "Frames overwritten before the host consumed them",
	})

	captureRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fps",
		Help:      "Frame rate measured by the capture backend",
	})

	processingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processing_latency_seconds",
		Help:      "Time from frame capture until the host finished processing it",
		Buckets:   []float64{.001, .0025, .005, .01, .02, .04, .08, .16},
	})

	hasSignal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "has_signal",
		Help:      "1 while the capture input has a valid signal",
	})

	resolution = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "resolution_pixels",
		Help:      "Current video mode size",
	}, []string{"dimension"})

	signalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "signal_events_total",
		Help:      "Signal and device events by kind",
	}, []string{"kind"})

	photosTaken = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "photos_taken_total",
		Help:      "Photos taken by the camera backend",
	})

	// Local cache for SSE exporter access.
	cache   CaptureMetrics
	cacheMu sync.RWMutex
)

// CaptureMetrics holds the current capture metric values.
type CaptureMetrics struct {
	FPS             float64
	FramesProcessed uint64
	DroppedFrames   uint64
	LastLatency     time.Duration
	HasSignal       bool
	Width           int
	Height          int
}

// AddFrameProcessed counts one consumed frame.
func AddFrameProcessed() {
	framesProcessed.Inc()
	update(func(m *CaptureMetrics) { m.FramesProcessed++ })
}

// AddDroppedFrames counts n dropped frames.
func AddDroppedFrames(n uint) {
	if n == 0 {
		return
	}
	droppedFrames.Add(float64(n))
	update(func(m *CaptureMetrics) { m.DroppedFrames += uint64(n) })
}

// SetCaptureRate records the measured frame rate.
func SetCaptureRate(fps float64) {
	captureRate.Set(fps)
	update(func(m *CaptureMetrics) { m.FPS = fps })
}

// ObserveLatency records one frame's processing latency.
func ObserveLatency(d time.Duration) {
	processingLatency.Observe(d.Seconds())
	update(func(m *CaptureMetrics) { m.LastLatency = d })
}

// SetHasSignal records whether the input has a signal.
func SetHasSignal(ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	hasSignal.Set(v)
	update(func(m *CaptureMetrics) { m.HasSignal = ok })
}

// SetResolution records the current video mode size.
func SetResolution(width, height int) {
	resolution.WithLabelValues("width").Set(float64(width))
	resolution.WithLabelValues("height").Set(float64(height))
	update(func(m *CaptureMetrics) { m.Width, m.Height = width, height })
}

// AddSignalEvent counts one signal or device event.
func AddSignalEvent(kind string) {
	signalEvents.WithLabelValues(kind).Inc()
}

// AddPhotoTaken counts one photo.
func AddPhotoTaken() {
	photosTaken.Inc()
}

// GetCaptureMetrics returns a copy of the current values.
func GetCaptureMetrics() CaptureMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return cache
}

// Reset clears the cached values, as at the start of a capture session.
// Prometheus counters keep counting.
func Reset() {
	cacheMu.Lock()
	cache = CaptureMetrics{}
	cacheMu.Unlock()
}

func update(fn func(*CaptureMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	fn(&cache)
}
