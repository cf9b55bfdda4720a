package logging

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// LogCallback receives every entry after it is buffered. main uses it to
// publish entries on the event bus without this package importing events.
type LogCallback func(entry LogEntry)

// BufferHandler records entries in the process ring buffer. The buffer and
// callback are looked up per record, so handlers built before Initialize
// start buffering once it runs.
//
// The "module" attribute becomes LogEntry.Module. Other attributes are
// flattened with dotted group prefixes.
type BufferHandler struct {
	level  slog.Leveler
	module string
	attrs  map[string]any
	prefix string
}

func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer, callback := sinks()
	if buffer == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     h.module,
		Message:    r.Message,
		Attributes: maps.Clone(h.attrs),
	}
	if entry.Module == "" {
		entry.Module = "app"
	}
	r.Attrs(func(a slog.Attr) bool {
		h.add(&entry.Module, &entry.Attributes, a)
		return true
	})

	entry = buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = maps.Clone(h.attrs)
	for _, a := range attrs {
		next.add(&next.module, &next.attrs, a)
	}
	return &next
}

func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *BufferHandler) add(module *string, attrs *map[string]any, a slog.Attr) {
	if a.Key == "module" && h.prefix == "" {
		*module = a.Value.String()
		return
	}
	if *attrs == nil {
		*attrs = make(map[string]any)
	}
	flatten(*attrs, h.prefix, a)
}

func flatten(attrs map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + a.Key

	switch v.Kind() {
	case slog.KindGroup:
		if a.Key != "" {
			prefix = key + "."
		}
		for _, member := range v.Group() {
			flatten(attrs, prefix, member)
		}
	case slog.KindTime:
		attrs[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = v.Duration().String()
	default:
		if err, ok := v.Any().(error); ok {
			attrs[key] = err.Error()
			return
		}
		attrs[key] = v.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
