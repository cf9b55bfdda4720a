package led

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller over the Linux LED class.
type sysfs struct {
	root string
	leds map[string]string // name -> sysfs directory
}

func newSysfs(root string, leds map[string]string) *sysfs {
	return &sysfs{root: root, leds: leds}
}

func (s *sysfs) Set(led string, enabled bool, pattern string) error {
	dir, ok := s.leds[led]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", led)
	}
	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found: %w", led, err)
	}

	if pattern != "" {
		trigger := pattern
		switch pattern {
		case PatternSolid:
			trigger = "none"
		case PatternBlink, PatternHeartbeat:
			trigger = "heartbeat"
		}
		if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
			return fmt.Errorf("failed to set LED trigger: %w", err)
		}
	}

	brightness := "0"
	if enabled {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	return slices.Sorted(maps.Keys(s.leds))
}

// noop stands in on boards without a known LED.
type noop struct{}

func (noop) Set(string, bool, string) error { return nil }
func (noop) Available() []string { return []string{} }
