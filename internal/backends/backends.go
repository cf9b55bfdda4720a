// Package backends builds capture backends by name.
package backends

import (
	"fmt"
	"slices"
	"time"

	"github.com/smazurov/capturenode/internal/backends/camera"
	"github.com/smazurov/capturenode/internal/backends/mmap"
	"github.com/smazurov/capturenode/internal/backends/v4l"
	"github.com/smazurov/capturenode/internal/backends/virtual"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/timer"
)

// Backend names.
const (
	Virtual = "virtual"
	V4L     = "v4l"
	Camera  = "camera"
	MMAP    = "mmap"
)

// Config selects a backend and carries the settings of each kind.
type Config struct {
	Name        string
	StopTimeout time.Duration

	// v4l
	Devices []string

	// camera
	GPhoto2Binary string
	CameraPort    string

	// mmap
	StatusName string
	ScreenName string
}

// DeviceRemover is implemented by backends that hold a device node which
// can be unplugged.
type DeviceRemover interface {
	DeviceRemoved(path string)
}

// Names returns the known backend names.
func Names() []string {
	return []string{Virtual, V4L, Camera, MMAP}
}

// New creates the backend named by cfg.Name on core. Timer-driven work is
// registered on timers.
func New(cfg Config, core *capture.Core, timers *timer.Facility) (capture.Backend, error) {
	switch cfg.Name {
	case Virtual, "":
		return virtual.New(core, timers), nil
	case V4L:
		return v4l.New(core, v4l.Options{
			Open:        v4l.NewOpener(cfg.Devices),
			Timers:      timers,
			StopTimeout: cfg.StopTimeout,
		}), nil
	case Camera:
		return camera.New(core, camera.Options{
			Connect:     camera.NewCLIConnector(cfg.GPhoto2Binary, cfg.CameraPort),
			Timers:      timers,
			StopTimeout: cfg.StopTimeout,
		}), nil
	case MMAP:
		return mmap.New(core, mmap.Options{
			StatusName:  cfg.StatusName,
			ScreenName:  cfg.ScreenName,
			StopTimeout: cfg.StopTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q (known: %v)", cfg.Name, Names())
	}
}

// Valid reports whether name selects a known backend.
func Valid(name string) bool {
	return name == "" || slices.Contains(Names(), name)
}
