//go:build linux && (amd64 || arm64 || arm)

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"
)

const (
	sysfsVideoDir = "/sys/class/video4linux"
	byIDDir       = "/dev/v4l/by-id"
)

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsVideoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		devicePath := "/dev/" + entry.Name()

		capability, err := queryCapability(devicePath)
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to query video device", "path", devicePath, "error", err)
			continue
		}

		caps := capability.capabilities
		if caps&capDeviceCaps != 0 {
			caps = capability.deviceCaps
		}
		if caps&CapVideoCapture == 0 {
			continue
		}

		index := readSysfsInt(filepath.Join(sysfsVideoDir, entry.Name(), "index"))
		stableID := findStableID(entry.Name(), index)
		if stableID == "" {
			busInfo := cstr(capability.busInfo[:])
			if strings.HasPrefix(busInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", busInfo, index)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", busInfo, index)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: cstr(capability.card[:]),
			DeviceID:   stableID,
			Driver:     cstr(capability.driver[:]),
			Caps:       caps,
		})
	}

	return devices, nil
}

// DevicePathByID finds the device path for a stable device ID. A path
// under /dev is returned unchanged.
func DevicePathByID(deviceID string) (string, error) {
	if strings.HasPrefix(deviceID, "/dev/") {
		return deviceID, nil
	}

	devices, err := FindDevices()
	if err != nil {
		return "", fmt.Errorf("failed to find devices: %w", err)
	}
	for _, device := range devices {
		if device.DeviceID == deviceID {
			return device.DevicePath, nil
		}
	}
	return "", fmt.Errorf("device with ID %s not found", deviceID)
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/.
func findStableID(deviceName string, index int) string {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	suffix := fmt.Sprintf("-video-index%d", index)
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), suffix) {
			return entry.Name()
		}
	}
	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func queryCapability(devicePath string) (*v4l2Capability, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, err
	}
	defer closeFD(fd)

	capability := &v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(capability)); err != nil {
		return nil, err
	}
	return capability, nil
}
