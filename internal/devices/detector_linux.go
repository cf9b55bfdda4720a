//go:build linux && (amd64 || arm64 || arm)

package devices

import (
	"context"
	"fmt"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/pkg/linuxav/hotplug"
	"github.com/smazurov/capturenode/pkg/linuxav/v4l2"
)

func hostPlatform() Platform {
	return Platform{List: listV4L2, Formats: formatsV4L2, Watch: watchUEvents}
}

func listV4L2() ([]models.DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]models.DeviceInfo, len(found))
	for i, dev := range found {
		state := v4l2.GetDVTimings(dev.DevicePath).State
		devices[i] = models.DeviceInfo{
			DevicePath: dev.DevicePath,
			DeviceName: dev.DeviceName,
			DeviceID:   dev.DeviceID,
			Driver:     dev.Driver,
			Caps:       dev.Caps,
			// Webcams have no DV timings and are always ready.
			Ready: state == v4l2.SignalStateLocked || state == v4l2.SignalStateNotSupported,
		}
	}
	return devices, nil
}

func formatsV4L2(path string) ([]models.FormatInfo, error) {
	found, err := v4l2.GetFormats(path)
	if err != nil {
		return nil, err
	}
	formats := make([]models.FormatInfo, len(found))
	for i, f := range found {
		formats[i] = models.FormatInfo{
			FourCC:       v4l2.FormatFourCC(f.PixelFormat),
			OriginalName: f.FormatName,
			Emulated:     f.Emulated,
		}
	}
	return formats, nil
}

func watchUEvents(ctx context.Context, changed func(removed string)) error {
	mon, err := hotplug.NewMonitor()
	if err != nil {
		return fmt.Errorf("failed to open uevent monitor: %w", err)
	}
	defer mon.Close()
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	ch := make(chan hotplug.Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- mon.Run(ctx, ch) }()

	for ev := range ch {
		switch ev.Action {
		case hotplug.ActionAdd:
			changed("")
		case hotplug.ActionRemove:
			changed(ev.Node())
		}
	}
	return <-errc
}
