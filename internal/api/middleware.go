package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/metrics"
)

// HTTPLoggingMiddleware logs each request at a level following its status
// and records its latency per operation.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	status := ctx.Status()
	operation := ""
	if op := ctx.Operation(); op != nil {
		operation = op.OperationID
	}
	metrics.ObserveHTTPRequest(operation, status, elapsed)

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("operation", operation),
		slog.String("remote_addr", ctx.RemoteAddr()),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", redactAuth(q)))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLevel(ctx.Method(), status), "HTTP request completed", attrs...)
}

func requestLevel(method string, status int) slog.Level {
	switch {
	case method == http.MethodOptions:
		return slog.LevelDebug
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// redactAuth hides the credentials EventSource and WebSocket clients pass
// in the query string.
func redactAuth(rawQuery string) string {
	q, err := url.ParseQuery(rawQuery)
	if err != nil || !q.Has("auth") {
		return rawQuery
	}
	q.Set("auth", "REDACTED")
	return q.Encode()
}
