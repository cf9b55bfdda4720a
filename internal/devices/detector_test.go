package devices

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/events"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.DeviceDiscoveryEvent
}

func (b *recordingBus) Publish(ev events.Event) {
	if e, ok := ev.(events.DeviceDiscoveryEvent); ok {
		b.mu.Lock()
		b.events = append(b.events, e)
		b.mu.Unlock()
	}
}

func (b *recordingBus) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Action + " " + e.DevicePath
	}
	return out
}

type fakeList struct {
	mu      sync.Mutex
	devices []models.DeviceInfo
	err     error
}

func (f *fakeList) set(devs ...models.DeviceInfo) {
	f.mu.Lock()
	f.devices = devs
	f.mu.Unlock()
}

func (f *fakeList) list() ([]models.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DeviceInfo(nil), f.devices...), f.err
}

type removerFunc func(string)

func (f removerFunc) DeviceRemoved(path string) { f(path) }

var (
	cam  = models.DeviceInfo{DevicePath: "/dev/video0", DeviceName: "Webcam", DeviceID: "usb-cam-video-index0", Caps: 0x04000001, Ready: true}
	hdmi = models.DeviceInfo{DevicePath: "/dev/video2", DeviceName: "HDMI", DeviceID: "usb-hdmi-video-index0", Caps: 0x04000001}
)

func TestSyncPublishesDifferences(t *testing.T) {
	fl := &fakeList{}
	bus := &recordingBus{}
	d := NewDetectorWith(Platform{List: fl.list}, bus)

	var removed []string
	d.OnRemoved(removerFunc(func(p string) { removed = append(removed, p) }))

	fl.set(cam, hdmi)
	if err := d.Sync(); err != nil {
		t.Fatal(err)
	}

	locked := hdmi
	locked.Ready = true
	fl.set(locked)
	if err := d.Sync(); err != nil {
		t.Fatal(err)
	}

	// No change, no events
	if err := d.Sync(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"added /dev/video0",
		"added /dev/video2",
		"removed /dev/video0",
		"changed /dev/video2",
	}
	if got := bus.actions(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(removed, []string{"/dev/video0"}) {
		t.Errorf("removed = %v", removed)
	}
}

func TestFindDevicesDescribesCaps(t *testing.T) {
	fl := &fakeList{}
	fl.set(hdmi, cam)
	d := NewDetectorWith(Platform{List: fl.list}, nil)

	devs, err := d.FindDevices()
	if err != nil {
		t.Fatal(err)
	}
	if devs[0].DevicePath != "/dev/video0" {
		t.Errorf("devices not sorted by path: %v", devs)
	}
	want := []string{"Video Capture", "Streaming I/O"}
	if !reflect.DeepEqual(devs[0].Capabilities, want) {
		t.Errorf("Capabilities = %v, want %v", devs[0].Capabilities, want)
	}
}

func TestResolvePath(t *testing.T) {
	fl := &fakeList{}
	fl.set(cam)
	d := NewDetectorWith(Platform{List: fl.list}, nil)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/dev/video9", "/dev/video9", false},
		{"usb-cam-video-index0", "/dev/video0", false},
		{"missing", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := d.ResolvePath(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	d := NewDetectorWith(Platform{}, nil)
	if _, err := d.FindDevices(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("FindDevices error = %v", err)
	}
	if _, _, err := d.Formats("/dev/video0"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Formats error = %v", err)
	}
	if err := d.Watch(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Watch error = %v", err)
	}
}

func TestWatchSyncsOnEvents(t *testing.T) {
	fl := &fakeList{}
	fl.set(cam)
	bus := &recordingBus{}

	kernel := make(chan string)
	d := NewDetectorWith(Platform{
		List: fl.list,
		Watch: func(ctx context.Context, changed func(string)) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case node := <-kernel:
					changed(node)
				}
			}
		},
	}, bus)
	d.settle = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx) }()

	fl.set(cam, hdmi)
	kernel <- ""
	fl.set(hdmi)
	kernel <- "/dev/video0"

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	want := []string{"added /dev/video0", "added /dev/video2", "removed /dev/video0"}
	if got := bus.actions(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestFormats(t *testing.T) {
	fl := &fakeList{}
	fl.set(cam)
	d := NewDetectorWith(Platform{
		List: fl.list,
		Formats: func(path string) ([]models.FormatInfo, error) {
			if path != "/dev/video0" {
				t.Errorf("Formats path = %q", path)
			}
			return []models.FormatInfo{{FourCC: "YUYV"}}, nil
		},
	}, nil)

	path, formats, err := d.Formats("usb-cam-video-index0")
	if err != nil || path != "/dev/video0" || len(formats) != 1 {
		t.Errorf("Formats = %q, %v, %v", path, formats, err)
	}
}
