package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/capturenode/internal/events"
)

// Subscriber is the part of the event bus the manager needs.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Manager mirrors the capture state on one LED.
type Manager struct {
	controller Controller
	bus        Subscriber
	led        string
	logger     *slog.Logger

	mu       sync.Mutex
	unsubs   []func()
	active   bool
	signal   bool
	lastSent string
}

// NewManager creates a manager driving led. An empty led picks the first
// one the controller reports.
func NewManager(controller Controller, bus Subscriber, led string, logger *slog.Logger) *Manager {
	if led == "" {
		if available := controller.Available(); len(available) > 0 {
			led = available[0]
		}
	}
	return &Manager{controller: controller, bus: bus, led: led, logger: logger}
}

// LED returns the name of the LED being driven, "" when there is none.
func (m *Manager) LED() string { return m.led }

// Start subscribes to session and signal events.
func (m *Manager) Start() {
	if m.led == "" {
		m.logger.Info("No LED to drive, status LED disabled")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(func(e events.SessionChangedEvent) { m.onSession(e.Action) }),
		m.bus.Subscribe(func(e events.SignalEvent) { m.onSignal(e.Kind) }),
	)
	m.logger.Info("LED manager started", "led", m.led)
}

// Stop unsubscribes and switches the LED off.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	if m.led != "" && m.lastSent != "" {
		m.active = false
		m.apply()
	}
}

func (m *Manager) onSession(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch action {
	case "started":
		m.active = true
	case "ended":
		m.active, m.signal = false, false
	default:
		return
	}
	m.apply()
}

func (m *Manager) onSignal(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case events.SignalGained:
		m.active, m.signal = true, true
	case events.SignalLost, events.InvalidSignal, events.InvalidDevice:
		m.signal = false
	default:
		return
	}
	m.apply()
}

// apply runs under m.mu.
func (m *Manager) apply() {
	state := "off"
	enabled, pattern := false, PatternSolid
	switch {
	case m.active && m.signal:
		state, enabled = PatternSolid, true
	case m.active:
		state, enabled, pattern = PatternBlink, true, PatternBlink
	}
	if state == m.lastSent {
		return
	}
	if err := m.controller.Set(m.led, enabled, pattern); err != nil {
		m.logger.Warn("Failed to set status LED", "led", m.led, "state", state, "error", err)
		return
	}
	m.lastSent = state
	m.logger.Debug("Status LED updated", "led", m.led, "state", state)
}
