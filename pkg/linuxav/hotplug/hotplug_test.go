//go:build linux

package hotplug

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected *Event
	}{
		{name: "empty input", input: []byte{}},
		{name: "nil input"},
		{name: "no @ separator", input: []byte("invalid")},
		{name: "missing action", input: []byte("@/devices/foo")},
		{name: "only null bytes", input: []byte{0, 0, 0}},
		{
			name:  "video add",
			input: []byte("add@/devices/pci0000:00/video4linux/video0\x00SUBSYSTEM=video4linux\x00DEVNAME=video0\x00"),
			expected: &Event{
				Action:    "add",
				KObj:      "/devices/pci0000:00/video4linux/video0",
				Subsystem: "video4linux",
				DevName:   "video0",
				Env:       map[string]string{"SUBSYSTEM": "video4linux", "DEVNAME": "video0"},
			},
		},
		{
			name:  "usb remove",
			input: []byte("remove@/devices/usb/1-1\x00SUBSYSTEM=usb\x00DEVTYPE=usb_device\x00DEVPATH=/devices/usb/1-1\x00"),
			expected: &Event{
				Action:    "remove",
				KObj:      "/devices/usb/1-1",
				Subsystem: "usb",
				DevType:   "usb_device",
				DevPath:   "/devices/usb/1-1",
				Env:       map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_device", "DEVPATH": "/devices/usb/1-1"},
			},
		},
		{
			name:  "value containing equals",
			input: []byte("change@/dev/foo\x00KEY=a=b\x00\x00"),
			expected: &Event{
				Action: "change",
				KObj:   "/dev/foo",
				Env:    map[string]string{"KEY": "a=b"},
			},
		},
		{
			name:  "libudev header skipped",
			input: []byte("libudev\x00\xfe\xed\xca\xfe\x00add@/devices/v\x00SUBSYSTEM=video4linux\x00"),
			expected: &Event{
				Action:    "add",
				KObj:      "/devices/v",
				Subsystem: "video4linux",
				Env:       map[string]string{"SUBSYSTEM": "video4linux"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseUEvent(tt.input)

			if tt.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %+v", result)
				}
				return
			}
			if result == nil {
				t.Fatalf("expected %+v, got nil", tt.expected)
			}

			if result.Action != tt.expected.Action || result.KObj != tt.expected.KObj {
				t.Errorf("header = %q@%q, want %q@%q", result.Action, result.KObj, tt.expected.Action, tt.expected.KObj)
			}
			if result.Subsystem != tt.expected.Subsystem {
				t.Errorf("Subsystem = %q, want %q", result.Subsystem, tt.expected.Subsystem)
			}
			if result.DevType != tt.expected.DevType || result.DevName != tt.expected.DevName || result.DevPath != tt.expected.DevPath {
				t.Errorf("device fields = %q/%q/%q", result.DevType, result.DevName, result.DevPath)
			}
			if len(result.Env) != len(tt.expected.Env) {
				t.Errorf("Env has %d entries, want %d", len(result.Env), len(tt.expected.Env))
			}
			for k, v := range tt.expected.Env {
				if result.Env[k] != v {
					t.Errorf("Env[%q] = %q, want %q", k, result.Env[k], v)
				}
			}
		})
	}
}

func TestEventNode(t *testing.T) {
	tests := []struct {
		devName string
		want    string
	}{
		{"video0", "/dev/video0"},
		{"/dev/video2", "/dev/video2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (Event{DevName: tt.devName}).Node(); got != tt.want {
			t.Errorf("Node(%q) = %q, want %q", tt.devName, got, tt.want)
		}
	}
}

func TestMonitorFilters(t *testing.T) {
	m := &Monitor{filters: make(map[string]struct{})}

	if !m.accepts(SubsystemUSB) {
		t.Error("monitor without filters rejected an event")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.AddSubsystemFilter(SubsystemVideo4Linux)
			}
		}()
	}
	wg.Wait()

	if !m.accepts(SubsystemVideo4Linux) {
		t.Error("video4linux rejected")
	}
	if m.accepts(SubsystemUSB) {
		t.Error("usb accepted with only a video4linux filter")
	}
}

func TestMonitorRunCancellation(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event, 1)
	if err := m.Run(ctx, events); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if _, open := <-events; open {
		t.Error("events channel not closed")
	}
}
