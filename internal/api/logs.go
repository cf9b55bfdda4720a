package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/logging"
)

// LogStreamInput filters the log stream.
type LogStreamInput struct {
	Tail   int    `query:"tail" minimum:"0" example:"200" doc:"Number of buffered entries to replay first, 0 for all"`
	Module string `query:"module" example:"host" doc:"Only stream entries from this module"`
}

// registerLogRoutes registers the log streaming SSE endpoint.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *LogStreamInput, send sse.Sender) {
		keep := func(module string) bool {
			return input.Module == "" || input.Module == module
		}

		// Subscribe before replaying so nothing logged in between is lost
		stream := events.NewStream(100)
		events.Forward[events.LogEntryEvent](s.eventBus, stream)
		defer stream.Close()

		var lastSeq uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			var entries []logging.LogEntry
			if input.Tail > 0 {
				entries = buffer.Tail(input.Tail)
			} else {
				entries = buffer.ReadAll()
			}
			for _, entry := range entries {
				lastSeq = max(lastSeq, entry.Seq)
				if !keep(entry.Module) {
					continue
				}
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-stream.C:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok || entry.Seq <= lastSeq || !keep(entry.Module) {
					continue
				}
				if err := send.Data(entry); err != nil {
					return
				}
			}
		}
	})
}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}
