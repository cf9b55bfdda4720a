package capture

import (
	"maps"
	"slices"
	"sync"
)

// Property keys shared by several backends. Backends may recognise any
// other key; unknown keys are stored without side effects.
const (
	KeyWidth       = "width"
	KeyHeight      = "height"
	KeyMinWidth    = "width: minimum"
	KeyMaxWidth    = "width: maximum"
	KeyMinHeight   = "height: minimum"
	KeyMaxHeight   = "height: maximum"
	KeyRefreshRate = "refresh rate"
	KeyHasSignal   = "has signal"
	KeyChannel     = "channel"
	KeyFPS         = "fps"
)

// Companion key suffixes for GUI-exposed controls.
const (
	SuffixMinimum = ": minimum"
	SuffixMaximum = ": maximum"
	SuffixDefault = ": default"
)

// Rule is the side-effect handler for one recognised property key.
//
// Validate runs before anything is stored; returning false rejects the
// write and leaves the previous value in place. Apply runs after the new
// value is stored, outside the store's lock, with the previous value.
type Rule struct {
	Validate func(next Value) bool
	Apply    func(prev, next Value)
}

// Properties is a string-keyed property store with per-key rules.
type Properties struct {
	mu     sync.RWMutex
	values map[string]Value
	rules  map[string]Rule
}

// NewProperties creates an empty store.
func NewProperties() *Properties {
	return &Properties{
		values: make(map[string]Value),
		rules:  make(map[string]Rule),
	}
}

// Handle installs the rule for key, replacing any previous one.
func (p *Properties) Handle(key string, rule Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[key] = rule
}

// Recognized reports whether key has a rule.
func (p *Properties) Recognized(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rules[key]
	return ok
}

// Get returns the value stored for key, or the zero Value.
func (p *Properties) Get(key string) Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

// Has reports whether a value is stored for key.
func (p *Properties) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[key]
	return ok
}

// Set validates, stores and applies v. It returns false only when the
// key's rule rejected the value, in which case nothing was stored.
//
// Validation and the store are not atomic. Set assumes one writer per
// key set: ranged keys and their bounds are written only by the consumer
// (through host requests), so a bound cannot change between a rule's
// check and the store. Capture activities write measured values with
// Store or Set on keys that have no bounds.
func (p *Properties) Set(key string, v Value) bool {
	p.mu.RLock()
	rule, ok := p.rules[key]
	p.mu.RUnlock()

	if ok && rule.Validate != nil && !rule.Validate(v) {
		return false
	}

	p.mu.Lock()
	prev := p.values[key]
	p.values[key] = v
	p.mu.Unlock()

	if ok && rule.Apply != nil {
		rule.Apply(prev, v)
	}
	return true
}

// Store writes v without running any rule. Backends use it for values
// they measure themselves.
func (p *Properties) Store(key string, v Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = v
}

// Seed replaces every stored value with defaults without running rules.
// Rules are kept.
func (p *Properties) Seed(defaults map[string]Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = make(map[string]Value, len(defaults))
	maps.Copy(p.values, defaults)
}

// Snapshot returns a copy of all stored values.
func (p *Properties) Snapshot() map[string]Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.values)
}

// Keys returns the stored keys in sorted order.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.values))
}

// InRange reports whether v lies within the "<key>: minimum" and
// "<key>: maximum" companions of key. Missing bounds do not constrain.
func (p *Properties) InRange(key string, v Value) bool {
	p.mu.RLock()
	lo, hasLo := p.values[key+SuffixMinimum]
	hi, hasHi := p.values[key+SuffixMaximum]
	p.mu.RUnlock()

	n := v.Float()
	if hasLo && n < lo.Float() {
		return false
	}
	if hasHi && n > hi.Float() {
		return false
	}
	return true
}

// ControlDefaults returns the companion keys for a GUI control with the
// given range and default value, plus the control's own initial value.
func ControlDefaults(key string, minimum, maximum, def int) map[string]Value {
	return map[string]Value{
		key:                 Int(def),
		key + SuffixMinimum: Int(minimum),
		key + SuffixMaximum: Int(maximum),
		key + SuffixDefault: Int(def),
	}
}
