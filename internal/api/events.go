package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of capture session, video mode, signal, property, photo and device events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"session-changed":  events.SessionChangedEvent{},
			"video-mode":       events.VideoModeEvent{},
			"signal":           events.SignalEvent{},
			"input-channel":    events.InputChannelEvent{},
			"missed-frames":    events.MissedFramesEvent{},
			"capture-error":    events.CaptureErrorEvent{},
			"photo-taken":      events.PhotoTakenEvent{},
			"property-changed": events.PropertyChangedEvent{},
			"device-discovery": events.DeviceDiscoveryEvent{},
		}

		// Metric snapshots routed to this endpoint
		maps.Copy(eventTypes, exporters.EventTypes())

		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Per-frame events are left to /metrics and capture-metrics snapshots
		stream := events.NewStream(32)
		events.Forward[events.SessionChangedEvent](s.eventBus, stream)
		events.Forward[events.VideoModeEvent](s.eventBus, stream)
		events.Forward[events.SignalEvent](s.eventBus, stream)
		events.Forward[events.InputChannelEvent](s.eventBus, stream)
		events.Forward[events.MissedFramesEvent](s.eventBus, stream)
		events.Forward[events.CaptureErrorEvent](s.eventBus, stream)
		events.Forward[events.PhotoTakenEvent](s.eventBus, stream)
		events.Forward[events.PropertyChangedEvent](s.eventBus, stream)
		events.Forward[events.DeviceDiscoveryEvent](s.eventBus, stream)
		events.Forward[events.CaptureMetricsEvent](s.eventBus, stream)
		defer func() {
			stream.Close()
			if n := stream.Dropped(); n > 0 {
				s.logger.Warn("Slow event stream client dropped events", "dropped", n)
			}
		}()

		// The current session goes first so clients know what they joined
		if err := send.Data(events.SessionChangedEvent{
			Session:   s.options.Capture.Session(),
			Backend:   s.options.BackendName,
			Action:    "connected",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stream.C:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
