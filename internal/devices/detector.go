// Package devices discovers V4L2 capture devices and reports hotplug
// changes on the event bus.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/logging"
)

// ErrUnsupported is returned on platforms without V4L2.
var ErrUnsupported = errors.New("device discovery is not supported on this platform")

// ErrNotFound is returned when no device matches an ID.
var ErrNotFound = errors.New("device not found")

// Discovery actions.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionChanged = "changed"
)

// Capability flags reported by VIDIOC_QUERYCAP.
const (
	capVideoCapture = 0x00000001
	capVideoOutput  = 0x00000002
	capReadWrite    = 0x01000000
	capStreaming    = 0x04000000
)

// Publisher receives discovery events. *events.Bus implements it.
type Publisher interface {
	Publish(ev events.Event)
}

// Remover is told when a device node disappears, so a backend holding it
// can stop capturing.
type Remover interface {
	DeviceRemoved(path string)
}

// Platform is the OS side of discovery.
type Platform struct {
	List    func() ([]models.DeviceInfo, error)
	Formats func(path string) ([]models.FormatInfo, error)
	// Watch blocks until ctx is done, calling changed for each kernel
	// event touching a video device. removed carries the /dev node for
	// remove events.
	Watch func(ctx context.Context, changed func(removed string)) error
}

// Detector tracks the set of devices and publishes differences.
type Detector struct {
	platform Platform
	bus      Publisher
	logger   *slog.Logger

	mu       sync.Mutex
	known    map[string]models.DeviceInfo // by DeviceID
	removers []Remover
	settle   time.Duration
}

// NewDetector creates a detector for the host platform.
func NewDetector(bus Publisher) *Detector {
	return NewDetectorWith(hostPlatform(), bus)
}

// NewDetectorWith creates a detector over an explicit platform.
func NewDetectorWith(p Platform, bus Publisher) *Detector {
	return &Detector{
		platform: p,
		bus:      bus,
		logger:   logging.GetLogger("devices"),
		known:    make(map[string]models.DeviceInfo),
		settle:   time.Second,
	}
}

// OnRemoved registers r to be told about removed device nodes.
func (d *Detector) OnRemoved(r Remover) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removers = append(d.removers, r)
}

// FindDevices lists the devices present now, sorted by path.
func (d *Detector) FindDevices() ([]models.DeviceInfo, error) {
	if d.platform.List == nil {
		return nil, ErrUnsupported
	}
	devices, err := d.platform.List()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		devices[i].Capabilities = DescribeCaps(devices[i].Caps)
	}
	slices.SortFunc(devices, func(a, b models.DeviceInfo) int {
		return strings.Compare(a.DevicePath, b.DevicePath)
	})
	return devices, nil
}

// ResolvePath maps a stable device ID or a /dev path to a /dev path.
func (d *Detector) ResolvePath(idOrPath string) (string, error) {
	if strings.HasPrefix(idOrPath, "/dev/") {
		return idOrPath, nil
	}
	devices, err := d.FindDevices()
	if err != nil {
		return "", err
	}
	for _, dev := range devices {
		if dev.DeviceID == idOrPath {
			return dev.DevicePath, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPath)
}

// Formats returns the pixel formats of a device.
func (d *Detector) Formats(idOrPath string) (string, []models.FormatInfo, error) {
	if d.platform.Formats == nil {
		return "", nil, ErrUnsupported
	}
	path, err := d.ResolvePath(idOrPath)
	if err != nil {
		return "", nil, err
	}
	formats, err := d.platform.Formats(path)
	return path, formats, err
}

// Sync compares the current device set with the last one and publishes
// a DeviceDiscoveryEvent per difference.
func (d *Detector) Sync() error {
	devices, err := d.FindDevices()
	if err != nil {
		return err
	}

	current := make(map[string]models.DeviceInfo, len(devices))
	for _, dev := range devices {
		current[dev.DeviceID] = dev
	}

	d.mu.Lock()
	var removed []string
	for id, old := range d.known {
		if _, ok := current[id]; !ok {
			d.publish(ActionRemoved, old)
			d.logger.Info("Device removed", "device", old.DevicePath, "name", old.DeviceName, "id", id)
			removed = append(removed, old.DevicePath)
			delete(d.known, id)
		}
	}
	for _, dev := range devices {
		old, ok := d.known[dev.DeviceID]
		switch {
		case !ok:
			d.publish(ActionAdded, dev)
			d.logger.Info("Device added", "device", dev.DevicePath, "name", dev.DeviceName, "id", dev.DeviceID)
		case !sameDevice(old, dev):
			d.publish(ActionChanged, dev)
			d.logger.Info("Device changed", "device", dev.DevicePath, "ready", dev.Ready, "id", dev.DeviceID)
		}
		d.known[dev.DeviceID] = dev
	}
	removers := slices.Clone(d.removers)
	d.mu.Unlock()

	for _, path := range removed {
		for _, r := range removers {
			r.DeviceRemoved(path)
		}
	}
	return nil
}

// Watch syncs once, then again after every kernel event until ctx is
// done. Add events wait a settle period so the kernel can finish
// creating the nodes.
func (d *Detector) Watch(ctx context.Context) error {
	if err := d.Sync(); err != nil {
		d.logger.Warn("Failed to get initial device list", "error", err)
	}
	if d.platform.Watch == nil {
		return ErrUnsupported
	}

	d.logger.Info("Device monitoring started")
	err := d.platform.Watch(ctx, func(removed string) {
		if removed == "" {
			select {
			case <-time.After(d.settle):
			case <-ctx.Done():
				return
			}
		}
		if err := d.Sync(); err != nil {
			d.logger.Error("Error getting device data", "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Detector) publish(action string, dev models.DeviceInfo) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.DeviceDiscoveryEvent{
		DeviceInfo: dev,
		Action:     action,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

func sameDevice(a, b models.DeviceInfo) bool {
	return a.DevicePath == b.DevicePath && a.DeviceName == b.DeviceName &&
		a.Driver == b.Driver && a.Caps == b.Caps && a.Ready == b.Ready
}

// DescribeCaps names the capability flags a capture client cares about.
func DescribeCaps(caps uint32) []string {
	var out []string
	if caps&capVideoCapture != 0 {
		out = append(out, "Video Capture")
	}
	if caps&capVideoOutput != 0 {
		out = append(out, "Video Output")
	}
	if caps&capReadWrite != 0 {
		out = append(out, "Read/Write")
	}
	if caps&capStreaming != 0 {
		out = append(out, "Streaming I/O")
	}
	return out
}
