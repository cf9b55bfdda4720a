package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetLogging(t *testing.T) {
	t.Helper()
	reg = newRegistry()
	t.Cleanup(func() { reg = newRegistry() })
}

func enabledLevels(l *slog.Logger) (debug, info, warn bool) {
	ctx := context.Background()
	h := l.Handler()
	return h.Enabled(ctx, slog.LevelDebug), h.Enabled(ctx, slog.LevelInfo), h.Enabled(ctx, slog.LevelWarn)
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging(t)
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"host": "debug", "api": "warn"},
	})

	tests := []struct {
		module                string
		debug, info, warn bool
	}{
		{"host", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			debug, info, warn := enabledLevels(GetLogger(tt.module))
			if debug != tt.debug || info != tt.info || warn != tt.warn {
				t.Errorf("enabled debug/info/warn = %v/%v/%v, want %v/%v/%v",
					debug, info, warn, tt.debug, tt.info, tt.warn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetLogging(t)

	before := GetLogger("camera")
	if debug, _, _ := enabledLevels(before); debug {
		t.Error("logger created before Initialize has debug enabled")
	}

	Initialize(Config{Level: "info", Format: "text", Modules: map[string]string{"camera": "debug"}})

	if after := GetLogger("camera"); after != before {
		t.Error("Initialize replaced a logger that was already handed out")
	}
	if debug, _, _ := enabledLevels(before); !debug {
		t.Error("early logger did not pick up its module level")
	}
}

func TestModuleAttributeAndBuffer(t *testing.T) {
	resetLogging(t)
	Initialize(Config{Level: "info", Format: "text"})

	var got []LogEntry
	SetLogCallback(func(e LogEntry) { got = append(got, e) })

	GetLogger("v4l").Info("Device opened", "path", "/dev/video0")
	GetLogger("v4l").Debug("dropped by level")

	if len(got) != 1 {
		t.Fatalf("callback entries = %d, want 1", len(got))
	}
	if got[0].Module != "v4l" || got[0].Attributes["path"] != "/dev/video0" {
		t.Errorf("entry = %+v", got[0])
	}
	if GetBuffer().Count() != 1 {
		t.Errorf("buffer count = %d, want 1", GetBuffer().Count())
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetLogging(t)
	Initialize(Config{Level: "warn", Format: "text"})
	logger := GetLogger("schedule")

	if err := SetModuleLevel("schedule", "debug"); err != nil {
		t.Fatal(err)
	}
	if debug, _, _ := enabledLevels(logger); !debug {
		t.Error("debug not enabled after SetModuleLevel")
	}

	if err := SetModuleLevel("schedule", ""); err != nil {
		t.Fatal(err)
	}
	if _, info, warn := enabledLevels(logger); info || !warn {
		t.Error("module did not return to the global warn level")
	}

	if err := SetModuleLevel("schedule", "verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetModuleLevels(t *testing.T) {
	resetLogging(t)
	Initialize(Config{Level: "info", Format: "text", Modules: map[string]string{"v4l": "debug"}})
	v4l := GetLogger("v4l")
	api := GetLogger("api")

	err := SetModuleLevels(map[string]string{"api": "error", "led": "loud"})
	if err == nil || !strings.Contains(err.Error(), "led=loud") {
		t.Errorf("error = %v, want the invalid entry named", err)
	}
	if debug, info, _ := enabledLevels(v4l); debug || !info {
		t.Error("dropped override still applied to v4l")
	}
	if _, _, warn := enabledLevels(api); warn {
		t.Error("api override not applied")
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")
	logger.Info("both")

	output := buf.String()
	if n := strings.Count(output, "debug only message"); n != 1 {
		t.Errorf("debug message written %d times, want 1:\n%s", n, output)
	}
	if n := strings.Count(output, "module=test"); n != 3 {
		t.Errorf("module attribute written %d times, want 3:\n%s", n, output)
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandlerJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	ok := slog.NewTextHandler(&buf, nil)
	multi := NewMultiHandler(failingHandler{ok}, ok)

	err := slog.New(multi).Handler().Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "still written", 0))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(buf.String(), "still written") {
		t.Error("healthy handler skipped after a failure")
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"invalid", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v, want %v, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}
