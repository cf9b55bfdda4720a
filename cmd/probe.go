package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/smazurov/capturenode/internal/backends"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/config"
	"github.com/smazurov/capturenode/internal/host"
	"github.com/smazurov/capturenode/internal/timer"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	Backend    backends.Config
	Ticks      int
	Interval   time.Duration
	Properties map[string]capture.Value
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var (
		opts probeOptions
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run a capture backend for a few ticks",
		Long: `Initializes a capture backend, runs its event loop for a fixed number of
ticks and prints every event it produced followed by its device properties.`,
		Example: `  capturenode probe --backend v4l --device /dev/video0 --ticks 120
  capturenode probe --backend virtual --set width=1280 --set height=720`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !backends.Valid(opts.Backend.Name) {
				return fmt.Errorf("unknown backend %q (known: %v)", opts.Backend.Name, backends.Names())
			}
			opts.Properties = make(map[string]capture.Value, len(sets))
			for _, s := range sets {
				key, v, err := config.ParseAssignment(s)
				if err != nil {
					return err
				}
				opts.Properties[key] = v
			}
			return runProbe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Backend.Name, "backend", "b", backends.Virtual, "Capture backend (virtual, v4l, camera, mmap)")
	f.StringSliceVarP(&opts.Backend.Devices, "device", "d", nil, "V4L2 device path or ID, repeatable")
	f.StringVar(&opts.Backend.GPhoto2Binary, "gphoto2", "gphoto2", "gphoto2 binary for the camera backend")
	f.StringVar(&opts.Backend.CameraPort, "port", "", "gphoto2 camera port, empty for autodetect")
	f.StringVar(&opts.Backend.StatusName, "status", "", "Shared memory status region for the mmap backend")
	f.StringVar(&opts.Backend.ScreenName, "screen", "", "Shared memory screen region for the mmap backend")
	f.IntVarP(&opts.Ticks, "ticks", "n", 60, "Number of event loop ticks")
	f.DurationVar(&opts.Interval, "interval", 16*time.Millisecond, "Pause between ticks")
	f.StringArrayVar(&sets, "set", nil, "Property assignment key=value applied before the first tick, repeatable")
	return cmd
}

func runProbe(ctx context.Context, opts probeOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	core := capture.NewCore(capture.Options{})
	timers := timer.New(nil)
	backend, err := backends.New(opts.Backend, core, timers)
	if err != nil {
		return err
	}

	h := host.New(host.Options{Core: core, Backend: backend, Timers: timers})
	release, err := h.InitializeCapture()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if err := h.SetProperties(opts.Properties, "cli"); err != nil {
		return err
	}

	counts := make(map[capture.Event]int)
	var order []capture.Event
	for i := range opts.Ticks {
		event, err := h.Tick()
		if err != nil {
			return err
		}
		if counts[event] == 0 {
			order = append(order, event)
		}
		counts[event]++

		switch event {
		case capture.EventNone, capture.EventSleep, capture.EventNewFrame:
		default:
			fmt.Fprintf(w, "tick %d: %s\n", i, event)
		}

		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
	}

	fmt.Fprintf(w, "session %s, state %s, dropped %d\n", h.Session(), core.State(), backend.DroppedFrameCount())
	fmt.Fprintln(w, "events:")
	for _, event := range order {
		fmt.Fprintf(w, "  %-22s %d\n", event, counts[event])
	}

	props := core.Properties()
	fmt.Fprintln(w, "properties:")
	for _, key := range props.Keys() {
		fmt.Fprintf(w, "  %s = %s\n", key, props.Get(key))
	}
	return nil
}
