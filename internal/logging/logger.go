package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 1000

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// moduleLogger is a cached logger and the level var its handler reads.
type moduleLogger struct {
	logger  *slog.Logger
	level   *slog.LevelVar
	handler *swapHandler
}

// swapHandler lets Initialize replace the outputs of a logger that was
// already handed out. Loggers derived with With before the swap keep the
// outputs they were derived from.
type swapHandler struct {
	current atomic.Pointer[slog.Handler]
}

func (h *swapHandler) load() slog.Handler { return *h.current.Load() }

func (h *swapHandler) store(next slog.Handler) { h.current.Store(&next) }

func (h *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.load().Enabled(ctx, level)
}

func (h *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.load().Handle(ctx, r)
}

func (h *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h.load().WithAttrs(attrs) }

func (h *swapHandler) WithGroup(name string) slog.Handler { return h.load().WithGroup(name) }

func moduleHandler(format, module string, level slog.Leveler) slog.Handler {
	return createHandler(format, level).WithAttrs([]slog.Attr{slog.String("module", module)})
}

// registry is the process logging state. Loggers are handed out before
// Initialize runs, so their levels live in LevelVars that Initialize and
// SetModuleLevel update in place.
type registry struct {
	mu          sync.RWMutex
	config      Config
	initialized bool
	global      slog.LevelVar
	modules     map[string]*moduleLogger
	buffer      *RingBuffer
	callback    LogCallback
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{modules: make(map[string]*moduleLogger)}
}

// levelFor resolves the effective level of module. Callers hold mu.
func (r *registry) levelFor(module string) slog.Level {
	if level, ok := parseLevel(r.config.Modules[module]); ok {
		return level
	}
	return r.global.Level()
}

// Initialize sets up the outputs and levels. Loggers obtained earlier keep
// their identity and pick up the new handler chain and level.
func Initialize(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.config = config
	reg.config.Modules = maps.Clone(config.Modules)
	reg.initialized = true
	reg.buffer = NewRingBuffer(defaultBufferSize)

	global, ok := parseLevel(config.Level)
	if !ok {
		global = slog.LevelInfo
	}
	reg.global.Set(global)

	for name, m := range reg.modules {
		m.level.Set(reg.levelFor(name))
		m.handler.store(moduleHandler(config.Format, name, m.level))
	}
	slog.SetDefault(slog.New(createHandler(config.Format, &reg.global)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	m, ok := reg.modules[module]
	reg.mu.RUnlock()
	if ok {
		return m.logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if m, ok := reg.modules[module]; ok {
		return m.logger
	}

	m = &moduleLogger{level: &slog.LevelVar{}, handler: &swapHandler{}}
	format := "text"
	if reg.initialized {
		m.level.Set(reg.levelFor(module))
		format = reg.config.Format
	}
	m.handler.store(moduleHandler(format, module, m.level))
	m.logger = slog.New(m.handler)
	reg.modules[module] = m
	return m.logger
}

// SetModuleLevel changes the level of one module at runtime. An empty
// level returns the module to the global level.
func SetModuleLevel(module, level string) error {
	parsed, ok := parseLevel(level)
	if level != "" && !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.config.Modules == nil {
		reg.config.Modules = make(map[string]string)
	}
	if level == "" {
		delete(reg.config.Modules, module)
		parsed = reg.global.Level()
	} else {
		reg.config.Modules[module] = level
	}
	if m, exists := reg.modules[module]; exists {
		m.level.Set(parsed)
	}
	return nil
}

// SetModuleLevels replaces every per-module override, as when the
// [logging.modules] table is reloaded. Modules not listed fall back to the
// global level. Invalid levels are skipped and reported together.
func SetModuleLevels(levels map[string]string) error {
	reg.mu.RLock()
	current := maps.Clone(reg.config.Modules)
	reg.mu.RUnlock()

	var bad []string
	for module := range current {
		if _, keep := levels[module]; !keep {
			_ = SetModuleLevel(module, "")
		}
	}
	for module, level := range levels {
		if err := SetModuleLevel(module, level); err != nil {
			bad = append(bad, module+"="+level)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("unknown log levels: %s", strings.Join(bad, ", "))
	}
	return nil
}

// GetBuffer returns the in-memory history behind /api/logs, nil before
// Initialize.
func GetBuffer() *RingBuffer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer
}

// SetLogCallback registers a function receiving every buffered entry.
func SetLogCallback(callback LogCallback) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.callback = callback
}

func sinks() (*RingBuffer, LogCallback) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer, reg.callback
}

// createHandler fans out to stdout when it goes somewhere, the journal
// when it is reachable, and always the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var stdout slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable excludes /dev/null, which is a device but not a
// terminal.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
