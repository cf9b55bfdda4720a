package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/capturenode/cmd"
	"github.com/smazurov/capturenode/internal/api"
	"github.com/smazurov/capturenode/internal/backends"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/config"
	"github.com/smazurov/capturenode/internal/devices"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/host"
	"github.com/smazurov/capturenode/internal/led"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/metrics/collectors"
	"github.com/smazurov/capturenode/internal/metrics/exporters"
	"github.com/smazurov/capturenode/internal/schedule"
	"github.com/smazurov/capturenode/internal/systemd"
	"github.com/smazurov/capturenode/internal/timer"
	"github.com/smazurov/capturenode/internal/updater"
	"github.com/smazurov/capturenode/internal/version"
)

// watchdogStall is how long the capture loop may go without a tick before
// watchdog pings stop.
const watchdogStall = 5 * time.Second

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Capture settings
	CaptureBackend     string `help:"Capture backend (virtual, v4l, camera, mmap)" short:"b" default:"virtual" toml:"capture.backend" env:"CAPTURE_BACKEND"`
	CaptureDevices     string `help:"Comma separated V4L2 device paths or IDs" default:"/dev/video0" toml:"capture.devices" env:"CAPTURE_DEVICES"`
	CaptureStopTimeout string `help:"Time allowed for a capture activity to stop" default:"" toml:"capture.stop_timeout" env:"CAPTURE_STOP_TIMEOUT"`
	CaptureEco         bool   `help:"Pace the capture loop to the input refresh rate" default:"false" toml:"capture.eco" env:"CAPTURE_ECO"`
	CaptureGPhoto2     string `help:"gphoto2 binary for the camera backend" default:"gphoto2" toml:"capture.gphoto2" env:"CAPTURE_GPHOTO2"`
	CaptureCameraPort  string `help:"gphoto2 camera port, empty for autodetect" default:"" toml:"capture.camera_port" env:"CAPTURE_CAMERA_PORT"`
	CaptureStatusName  string `help:"Shared memory status region for the mmap backend" default:"" toml:"capture.status_name" env:"CAPTURE_STATUS_NAME"`
	CaptureScreenName  string `help:"Shared memory screen region for the mmap backend" default:"" toml:"capture.screen_name" env:"CAPTURE_SCREEN_NAME"`

	// Features settings
	FeaturesLEDControl bool   `help:"Show capture state on a board LED" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesLED        string `help:"Board LED to drive, empty for the first one found" default:"" toml:"features.led" env:"FEATURES_LED"`

	// Update settings
	UpdateRepository string `help:"GitHub repository for self-update" default:"" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases in update checks" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func backendConfig(opts *Options, logger *slog.Logger) backends.Config {
	cfg := backends.Config{
		Name:          opts.CaptureBackend,
		GPhoto2Binary: opts.CaptureGPhoto2,
		CameraPort:    opts.CaptureCameraPort,
		StatusName:    opts.CaptureStatusName,
		ScreenName:    opts.CaptureScreenName,
	}
	for _, dev := range strings.Split(opts.CaptureDevices, ",") {
		if dev = strings.TrimSpace(dev); dev != "" {
			cfg.Devices = append(cfg.Devices, dev)
		}
	}
	if opts.CaptureStopTimeout != "" {
		d, err := time.ParseDuration(opts.CaptureStopTimeout)
		if err != nil {
			logger.Warn("Invalid capture stop timeout, using backend default", "value", opts.CaptureStopTimeout, "error", err)
		} else {
			cfg.StopTimeout = d
		}
	}
	return cfg
}

func backendName(b capture.Backend) string {
	if n, ok := b.(capture.Named); ok {
		return n.Name()
	}
	return backends.Virtual
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system; module levels come from [logging]
		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")
		logger.Info("Starting capturenode", "version", version.String())

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Forward log entries to SSE clients
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Capture backend and its consumer loop
		core := capture.NewCore(capture.Options{Logger: logging.GetLogger("capture")})
		timers := timer.New(nil)
		backend, err := backends.New(backendConfig(opts, logger), core, timers)
		if err != nil {
			logger.Error("Failed to create capture backend", "error", err)
			os.Exit(1)
		}

		captureHost := host.New(host.Options{
			Core:    core,
			Backend: backend,
			Timers:  timers,
			Eco:     opts.CaptureEco,
			OnPropertyWritten: func(key string, v capture.Value, source string) {
				eventBus.Publish(events.PropertyChangedEvent{
					Key:       key,
					Value:     v.Any(),
					Source:    source,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			},
		})
		unbridge := events.Bridge(eventBus, core.Notifications())

		// Metrics fed from the bus
		captureCollector := collectors.NewCaptureCollector(eventBus)
		sseExporter := exporters.NewSSEExporter(eventBus)

		// Status LED follows the capture state
		var ledManager *led.Manager
		if opts.FeaturesLEDControl {
			ledLogger := logging.GetLogger("led")
			ledManager = led.NewManager(led.New(ledLogger), eventBus, opts.FeaturesLED, ledLogger)
		}

		// Scheduled property writes and reloadable capture config
		scheduler := schedule.New(captureHost, nil)
		configLogger := logging.GetLogger("config")
		watcher := config.NewConfigWatcher(opts.Config, config.LoadCaptureConfig, configLogger)
		watcher.OnReload(func(cfg config.CaptureConfig) {
			captureHost.SetAliases(cfg.Aliases)
			if setErr := captureHost.SetProperties(cfg.Properties, "config"); setErr != nil {
				configLogger.Warn("Failed to queue property overrides", "error", setErr)
			}
			if replaceErr := scheduler.Replace(cfg.Schedules); replaceErr != nil {
				configLogger.Warn("Invalid schedules, keeping previous set", "error", replaceErr)
			}
		})
		watcher.OnReload(func(config.CaptureConfig) {
			levels := config.LoadLoggingConfig(opts.Config).Modules
			if levelErr := logging.SetModuleLevels(levels); levelErr != nil {
				configLogger.Warn("Ignoring invalid module log levels", "error", levelErr)
			}
		})

		// Device discovery
		detector := devices.NewDetector(eventBus)
		if _, ok := backend.(backends.DeviceRemover); ok {
			detector.OnRemoved(captureHost)
		}

		// Self-update
		updateService, err := updater.NewService(&updater.Options{
			Repository: opts.UpdateRepository,
			Prerelease: opts.UpdatePrerelease,
		})
		if err != nil {
			logger.Warn("Update service unavailable", "error", err)
		}

		// systemd integration is optional outside a unit
		notifier := systemd.NewNotifier()
		systemdManager, err := systemd.NewManager(context.Background())
		if err != nil {
			logger.Debug("systemd D-Bus unavailable", "error", err)
		}

		apiOpts := &api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Capture:           captureHost,
			BackendName:       backendName(backend),
			EventBus:          eventBus,
			Devices:           detector,
			Schedules:         scheduler,
			UpdateService:     updateService,
			PrometheusHandler: exporters.HTTPHandler(),
		}
		if systemdManager != nil {
			apiOpts.SystemdManager = systemdManager
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		var release func() error

		hooks.OnStart(func() {
			captureCollector.Start()
			sseExporter.Start(ctx)
			if ledManager != nil {
				ledManager.Start()
			}

			if reloadErr := watcher.Reload(); reloadErr != nil {
				configLogger.Warn("Failed to load capture config", "error", reloadErr)
			}
			if startErr := watcher.Start(); startErr != nil {
				configLogger.Warn("Config file watching disabled", "error", startErr)
			}
			scheduler.Start()

			wg.Add(1)
			go func() {
				defer wg.Done()
				if watchErr := detector.Watch(ctx); watchErr != nil && !errors.Is(watchErr, devices.ErrUnsupported) {
					logger.Warn("Device monitoring stopped", "error", watchErr)
				}
			}()

			var initErr error
			release, initErr = captureHost.InitializeCapture()
			if initErr != nil {
				logger.Error("Failed to initialize capture", "error", initErr)
				os.Exit(1)
			}
			eventBus.Publish(events.SessionChangedEvent{
				Session:   captureHost.Session(),
				Backend:   apiOpts.BackendName,
				Action:    "started",
				Timestamp: time.Now().Format(time.RFC3339),
			})

			wg.Add(1)
			go func() {
				defer wg.Done()
				runErr := captureHost.Run(ctx, func() {
					notifier.Ready()
					go notifier.RunWatchdog(ctx, func() bool { return captureHost.Alive(watchdogStall) })
				})
				if runErr != nil {
					logger.Error("Capture loop stopped", "error", runErr)
					notifier.Status("capture failed: " + runErr.Error())
					publishSessionEnded(eventBus, captureHost, apiOpts.BackendName)
				}
			}()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if stopErr := server.Stop(stopCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			if stopErr := scheduler.Stop(stopCtx); stopErr != nil {
				logger.Warn("Scheduled writes still running", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}

			// The capture loop must be gone before the backend is released
			cancel()
			wg.Wait()
			// A failed loop has already released the backend.
			if release != nil && captureHost.Running() {
				if releaseErr := release(); releaseErr != nil {
					logger.Error("Error releasing capture backend", "error", releaseErr)
				}
				publishSessionEnded(eventBus, captureHost, apiOpts.BackendName)
			}

			if ledManager != nil {
				ledManager.Stop()
			}
			sseExporter.Stop()
			captureCollector.Stop()
			unbridge()
			if systemdManager != nil {
				systemdManager.Close()
			}
		})
	})

	cli.Root().Use = "capturenode"
	cli.Root().Short = "Video capture node"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	// Run the CLI
	cli.Run()
}

func publishSessionEnded(bus *events.Bus, h *host.Host, backend string) {
	bus.Publish(events.SessionChangedEvent{
		Session:   h.Session(),
		Backend:   backend,
		Action:    "ended",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
