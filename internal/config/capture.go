package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/host"
	"github.com/smazurov/capturenode/internal/schedule"
)

// CaptureConfig is the reloadable part of the config file: property
// overrides applied to the running backend, the resolution alias table
// and scheduled property writes.
type CaptureConfig struct {
	Properties map[string]capture.Value
	Aliases    []host.Alias
	Schedules  []schedule.Entry
}

type rawAlias struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

type rawSchedule struct {
	Name       string         `toml:"name"`
	Spec       string         `toml:"spec"`
	Properties map[string]any `toml:"properties"`
}

type rawCaptureFile struct {
	Capture struct {
		Properties map[string]any `toml:"properties"`
		Aliases    []rawAlias     `toml:"aliases"`
	} `toml:"capture"`
	Schedule []rawSchedule `toml:"schedule"`
}

// LoadCaptureConfig reads the [capture] tables and [[schedule]] entries
// from a TOML config file. A missing file yields an empty config.
func LoadCaptureConfig(path string) (CaptureConfig, error) {
	cfg := CaptureConfig{Properties: make(map[string]capture.Value)}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read capture config: %w", err)
	}

	var raw rawCaptureFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse capture config: %w", err)
	}

	cfg.Properties, err = convertProperties(raw.Capture.Properties)
	if err != nil {
		return cfg, fmt.Errorf("capture.properties: %w", err)
	}

	for i, a := range raw.Capture.Aliases {
		from, fromErr := ParseResolution(a.From)
		to, toErr := ParseResolution(a.To)
		if err := errors.Join(fromErr, toErr); err != nil {
			return cfg, fmt.Errorf("capture.aliases[%d]: %w", i, err)
		}
		cfg.Aliases = append(cfg.Aliases, host.Alias{From: from, To: to})
	}

	for i, s := range raw.Schedule {
		props, err := convertProperties(s.Properties)
		if err != nil {
			return cfg, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		cfg.Schedules = append(cfg.Schedules, schedule.Entry{
			Name:       s.Name,
			Spec:       s.Spec,
			Properties: props,
		})
	}

	return cfg, nil
}

func convertProperties(in map[string]any) (map[string]capture.Value, error) {
	out := make(map[string]capture.Value, len(in))
	for key, raw := range in {
		v, err := capture.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// ParseResolution parses "WIDTHxHEIGHT" into a 32-bit resolution.
func ParseResolution(s string) (capture.Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT", s)
	}
	width, wErr := strconv.Atoi(w)
	height, hErr := strconv.Atoi(h)
	if wErr != nil || hErr != nil || width <= 0 || height <= 0 {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	return capture.Resolution{Width: width, Height: height, BitsPerPixel: 32}, nil
}

// ParseAssignment parses "key=value" as written on a command line. The
// value is read as a TOML scalar, so true, 42 and 1.5 keep their types;
// anything that is not valid TOML is taken as a bare string.
func ParseAssignment(s string) (string, capture.Value, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", capture.Value{}, fmt.Errorf("invalid assignment %q: want key=value", s)
	}
	raw = strings.TrimSpace(raw)

	var doc struct {
		V any `toml:"v"`
	}
	if err := toml.Unmarshal([]byte("v = "+raw), &doc); err != nil {
		return key, capture.String(raw), nil
	}
	v, err := capture.FromAny(doc.V)
	if err != nil {
		return key, capture.String(raw), nil
	}
	return key, v, nil
}
