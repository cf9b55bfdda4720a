package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const defaultBinary = "gphoto2"

// CLI drives a camera through the gphoto2 command-line tool. Every
// operation runs one gphoto2 invocation bound to the camera's port.
type CLI struct {
	binary    string
	port      string
	model     string
	abilities Abilities
}

// NewCLIConnector returns a Connector that detects a camera with gphoto2.
// An empty port selects the first detected camera.
func NewCLIConnector(binary, port string) Connector {
	return func(ctx context.Context) (Camera, error) {
		return DialCLI(ctx, binary, port)
	}
}

// DialCLI detects the camera on port and reads its abilities.
func DialCLI(ctx context.Context, binary, port string) (*CLI, error) {
	if binary == "" {
		binary = defaultBinary
	}
	c := &CLI{binary: binary}

	out, err := c.run(ctx, "--auto-detect")
	if err != nil {
		return nil, err
	}
	detected := parseAutoDetect(out)
	if len(detected) == 0 {
		return nil, ErrNoCamera
	}

	found := false
	for _, d := range detected {
		if port == "" || d.Port == port {
			c.model, c.port = d.Model, d.Port
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w on port %s", ErrNoCamera, port)
	}

	out, err = c.run(ctx, "--port", c.port, "--abilities")
	if err != nil {
		return nil, err
	}
	c.abilities = parseAbilities(out)
	return c, nil
}

// Model implements Camera.
func (c *CLI) Model() string { return c.model }

// Port returns the gphoto2 port the camera was detected on.
func (c *CLI) Port() string { return c.port }

// Abilities implements Camera.
func (c *CLI) Abilities() Abilities { return c.abilities }

// CapturePreview implements Camera.
func (c *CLI) CapturePreview(ctx context.Context) ([]byte, error) {
	if !c.abilities.Preview {
		return nil, ErrUnsupported
	}
	out, err := c.run(ctx, "--port", c.port, "--capture-preview", "--stdout")
	if err != nil {
		return nil, err
	}
	if len(out) < 2 || out[0] != 0xff || out[1] != 0xd8 {
		return nil, errors.New("preview output is not a JPEG image")
	}
	return out, nil
}

// CaptureImage implements Camera.
func (c *CLI) CaptureImage(ctx context.Context) (string, error) {
	if !c.abilities.Capture {
		return "", ErrUnsupported
	}
	out, err := c.run(ctx, "--port", c.port, "--capture-image")
	if err != nil {
		return "", err
	}
	path, ok := parseCapturePath(out)
	if !ok {
		return "", fmt.Errorf("unexpected gphoto2 output: %q", strings.TrimSpace(string(out)))
	}
	return path, nil
}

// Close implements Camera. The CLI holds no session between invocations.
func (c *CLI) Close() error { return nil }

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", c.binary, args[len(args)-1], err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", c.binary, args[len(args)-1], err)
	}
	return out, nil
}

type detectedCamera struct {
	Model string
	Port  string
}

// parseAutoDetect reads the table printed by "gphoto2 --auto-detect":
//
//	Model                          Port
//	----------------------------------------------------------
//	Canon EOS 600D                 usb:001,004
func parseAutoDetect(out []byte) []detectedCamera {
	var cameras []detectedCamera
	body := false

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if strings.HasPrefix(line, "---") {
			body = true
			continue
		}
		if !body || line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		port := fields[len(fields)-1]
		model := strings.TrimSpace(strings.TrimSuffix(line, port))
		cameras = append(cameras, detectedCamera{Model: model, Port: port})
	}
	return cameras
}

// parseAbilities reads the "Capture choices" list of "gphoto2 --abilities".
func parseAbilities(out []byte) Abilities {
	var a Abilities
	inChoices := false

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)

		switch {
		case name == "Capture choices":
			inChoices = true
		case name != "":
			inChoices = false
		}
		if !inChoices {
			continue
		}

		switch {
		case strings.HasPrefix(value, "Image"):
			a.Capture = true
		case strings.HasPrefix(value, "Preview"):
			a.Preview = true
		}
	}
	return a
}

// parseCapturePath extracts the camera path from "New file is in
// location /store_00010001/DCIM/100CANON/IMG_0001.JPG on the camera".
func parseCapturePath(out []byte) (string, bool) {
	const prefix, suffix = "New file is in location ", " on the camera"

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, prefix)
		if !ok {
			continue
		}
		return strings.TrimSuffix(rest, suffix), true
	}
	return "", false
}
