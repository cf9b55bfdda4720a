package events

import "github.com/smazurov/capturenode/internal/api/models"

// Event type constants for kelindar/event.
const (
	TypeSessionChanged uint32 = iota + 1
	TypeVideoMode
	TypeSignal
	TypeInputChannel
	TypeFrameProcessed
	TypeProcessingLatency
	TypeMissedFrames
	TypeCaptureRate
	TypeCaptureError
	TypePhotoTaken
	TypePropertyChanged
	TypeDeviceDiscovery
	TypeLogEntry
	TypeCaptureMetrics
)

// Signal kinds carried by SignalEvent.
const (
	SignalGained  = "signal_gained"
	SignalLost    = "signal_lost"
	InvalidSignal = "invalid_signal"
	InvalidDevice = "invalid_device"
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionChangedEvent is published when a capture session starts or ends.
type SessionChangedEvent struct {
	Session   string `json:"session" example:"6f1c1a3e-8f0e-4a8b-9d53-1c0c2b7c1a10" doc:"Capture session identifier"`
	Backend   string `json:"backend" example:"v4l" doc:"Capture backend name"`
	Action    string `json:"action" example:"started" doc:"Action type: started, ended, connected"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionChangedEvent.
func (e SessionChangedEvent) Type() uint32 { return TypeSessionChanged }

// VideoModeEvent is published when the input settles on a new video mode.
type VideoModeEvent struct {
	Width       int     `json:"width" example:"1920" doc:"Frame width in pixels"`
	Height      int     `json:"height" example:"1080" doc:"Frame height in pixels"`
	RefreshRate float64 `json:"refresh_rate" example:"60" doc:"Input refresh rate in Hz"`
	Timestamp   string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for VideoModeEvent.
func (e VideoModeEvent) Type() uint32 { return TypeVideoMode }

// SignalEvent reports a change in input signal or device availability.
type SignalEvent struct {
	Kind      string `json:"kind" example:"signal_lost" doc:"One of signal_gained, signal_lost, invalid_signal, invalid_device"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SignalEvent.
func (e SignalEvent) Type() uint32 { return TypeSignal }

// InputChannelEvent reports a completed input channel switch.
type InputChannelEvent struct {
	Channel   int    `json:"channel" example:"1" doc:"Active input channel"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for InputChannelEvent.
func (e InputChannelEvent) Type() uint32 { return TypeInputChannel }

// FrameProcessedEvent is published for every frame the host consumed.
type FrameProcessedEvent struct {
	Sequence uint64 `json:"sequence" example:"1042" doc:"Frame sequence number"`
	Width    int    `json:"width" example:"640" doc:"Frame width in pixels"`
	Height   int    `json:"height" example:"480" doc:"Frame height in pixels"`
}

// Type returns the event type identifier for FrameProcessedEvent.
func (e FrameProcessedEvent) Type() uint32 { return TypeFrameProcessed }

// ProcessingLatencyEvent carries how long a frame waited before the host
// finished with it.
type ProcessingLatencyEvent struct {
	Seconds float64 `json:"seconds" example:"0.004" doc:"Latency in seconds"`
}

// Type returns the event type identifier for ProcessingLatencyEvent.
func (e ProcessingLatencyEvent) Type() uint32 { return TypeProcessingLatency }

// MissedFramesEvent carries frames dropped during the last interval.
type MissedFramesEvent struct {
	Count     uint   `json:"count" example:"3" doc:"Frames dropped since the previous report"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MissedFramesEvent.
func (e MissedFramesEvent) Type() uint32 { return TypeMissedFrames }

// CaptureRateEvent carries the backend's measured frame rate.
type CaptureRateEvent struct {
	FPS       float64 `json:"fps" example:"59" doc:"Measured frames per second"`
	Timestamp string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureRateEvent.
func (e CaptureRateEvent) Type() uint32 { return TypeCaptureRate }

// CaptureErrorEvent represents an unrecoverable backend failure.
type CaptureErrorEvent struct {
	Message   string `json:"message" example:"Capture stopped" doc:"Error message"`
	Error     string `json:"error" example:"timed out joining capture activity" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// PhotoTakenEvent reports a photo stored on the camera.
type PhotoTakenEvent struct {
	Path      string `json:"path" example:"/store_00010001/DCIM/100CANON/IMG_0001.JPG" doc:"Photo path on the camera"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PhotoTakenEvent.
func (e PhotoTakenEvent) Type() uint32 { return TypePhotoTaken }

// PropertyChangedEvent reports an accepted property write.
type PropertyChangedEvent struct {
	Key       string `json:"key" example:"width" doc:"Property key"`
	Value     any    `json:"value" example:"800" doc:"New value"`
	Source    string `json:"source" example:"api" doc:"Who wrote the value: api, config, schedule"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PropertyChangedEvent.
func (e PropertyChangedEvent) Type() uint32 { return TypePropertyChanged }

// DeviceDiscoveryEvent represents device hotplug events.
type DeviceDiscoveryEvent struct {
	models.DeviceInfo
	Action    string `json:"action" example:"added" doc:"Action type: added, removed, changed"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// CaptureMetricsEvent is the periodic capture metrics snapshot.
type CaptureMetricsEvent struct {
	EventType       string `json:"type"`
	FPS             string `json:"fps"`
	FramesProcessed string `json:"frames_processed"`
	DroppedFrames   string `json:"dropped_frames"`
	LatencyMS       string `json:"latency_ms"`
	HasSignal       bool   `json:"has_signal"`
	Resolution      string `json:"resolution,omitempty" example:"1920x1080"`
}

// Type returns the event type identifier for CaptureMetricsEvent.
func (e CaptureMetricsEvent) Type() uint32 { return TypeCaptureMetrics }
