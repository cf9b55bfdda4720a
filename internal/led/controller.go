// Package led drives a board status LED from the capture state: blinking
// while waiting for a signal, solid while capturing, off when capture is
// released.
package led

// Patterns understood by Controller.Set.
const (
	PatternSolid     = "solid"
	PatternBlink     = "blink"
	PatternHeartbeat = "heartbeat"
)

// Controller abstracts LED hardware across boards.
type Controller interface {
	// Set switches the LED named led on or off. A non-empty pattern also
	// changes the trigger.
	Set(led string, enabled bool, pattern string) error

	// Available returns the LED names this board exposes, sorted.
	Available() []string
}
