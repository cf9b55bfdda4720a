package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/capturenode/internal/capture"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// startWatcher writes content to a fresh file, starts a watcher on it with
// a short debounce and stops it at the end of the test.
func startWatcher(t *testing.T, content string, opts ...WatcherOption[testConfig]) (*Watcher[testConfig], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capturenode.toml")
	writeConfig(t, path, content)

	opts = append([]WatcherOption[testConfig]{WithDebounce[testConfig](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadTestConfig, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})

	// Let the inotify watch settle before writing
	time.Sleep(100 * time.Millisecond)
	return w, path
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	received := make(chan testConfig, 4)
	w, path := startWatcher(t, "name = \"initial\"\nvalue = 1\n")
	w.OnReload(func(cfg testConfig) { received <- cfg })

	writeConfig(t, path, "name = \"updated\"\nvalue = 42\n")

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated, value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	var first, second atomic.Int32
	w, path := startWatcher(t, "value = 1\n")
	w.OnReload(func(cfg testConfig) { first.Store(int32(cfg.Value)) })
	unsub := w.OnReload(func(cfg testConfig) { second.Store(int32(cfg.Value)) })

	writeConfig(t, path, "value = 10\n")
	time.Sleep(250 * time.Millisecond)
	unsub()
	unsub()

	writeConfig(t, path, "value = 20\n")
	time.Sleep(250 * time.Millisecond)

	if got := first.Load(); got != 20 {
		t.Errorf("remaining handler saw %d, want 20", got)
	}
	if got := second.Load(); got != 10 {
		t.Errorf("removed handler saw %d, want 10", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	errs := make(chan error, 4)
	configs := make(chan testConfig, 4)
	w, path := startWatcher(t, "value = 1\n", WithErrorHandler[testConfig](func(err error) { errs <- err }))
	w.OnReload(func(cfg testConfig) { configs <- cfg })

	writeConfig(t, path, "invalid toml [[[")

	select {
	case <-errs:
	case <-configs:
		t.Fatal("handler called with an unparsable file")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	var calls, last atomic.Int32
	w, path := startWatcher(t, "value = 0\n", WithDebounce[testConfig](200*time.Millisecond))
	w.OnReload(func(cfg testConfig) {
		calls.Add(1)
		last.Store(int32(cfg.Value))
	})

	for i := 1; i <= 5; i++ {
		writeConfig(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("final value %d, want 5", got)
	}
}

func TestConfigWatcher_IgnoresSiblings(t *testing.T) {
	var calls atomic.Int32
	w, path := startWatcher(t, "value = 1\n")
	w.OnReload(func(testConfig) { calls.Add(1) })

	writeConfig(t, filepath.Join(filepath.Dir(path), "other.toml"), "value = 2\n")
	time.Sleep(200 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("handler called %d times for another file", got)
	}
}

func TestConfigWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capturenode.toml")
	writeConfig(t, path, "value = 1\n")

	var calls atomic.Int32
	w := NewConfigWatcher(path, loadTestConfig, newTestLogger(), WithDebounce[testConfig](50*time.Millisecond))
	w.OnReload(func(testConfig) { calls.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, "value = 99\n")
	time.Sleep(200 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("handler called %d times after Stop", got)
	}
}

func TestConfigWatcher_RenameOverFile(t *testing.T) {
	received := make(chan testConfig, 4)
	w, path := startWatcher(t, "value = 1\n")
	w.OnReload(func(cfg testConfig) { received <- cfg })

	// Editors commonly save by renaming a temporary file into place
	tmp := filepath.Join(filepath.Dir(path), ".capturenode.toml.swp")
	writeConfig(t, tmp, "value = 5\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 5 {
			t.Errorf("value = %d, want 5", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestConfigWatcher_CaptureReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capturenode.toml")
	writeConfig(t, path, "[capture.properties]\nbrightness = 10\n")

	received := make(chan CaptureConfig, 4)
	w := NewConfigWatcher(path, LoadCaptureConfig, newTestLogger(), WithDebounce[CaptureConfig](50*time.Millisecond))
	w.OnReload(func(cfg CaptureConfig) { received <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, "[capture.properties]\nbrightness = 200\n")

	select {
	case cfg := <-received:
		if got := cfg.Properties["brightness"]; !got.Equal(capture.Int(200)) {
			t.Errorf("brightness = %v, want 200", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for capture config reload")
	}
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capturenode.toml")
	writeConfig(t, path, "name = \"boot\"\nvalue = 7\n")

	var got testConfig
	w := NewConfigWatcher(path, loadTestConfig, newTestLogger())
	w.OnReload(func(cfg testConfig) { got = cfg })

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.Name != "boot" || got.Value != 7 {
		t.Errorf("got %+v", got)
	}

	writeConfig(t, path, "name = [\n")
	if err := w.Reload(); err == nil {
		t.Error("expected error for invalid config")
	}
}
