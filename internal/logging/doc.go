// Package logging configures slog for capturenode: one logger per module,
// each with its own runtime-adjustable level.
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"v4l": "debug", "api": "warn"},
//	})
//	logger := logging.GetLogger("v4l")
//	logger.Info("Device opened", "path", "/dev/video0")
//
// Every record goes to up to three outputs:
//
//   - stdout, as text or JSON, unless stdout is /dev/null or closed
//   - the systemd journal when its socket is reachable, with attributes as
//     upper-case fields (journalctl -t capturenode MODULE=v4l)
//   - an in-memory ring buffer replayed by /api/logs and streamed by
//     /api/logs/stream through SetLogCallback
//
// Module levels come from the [logging] table of the config file:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	v4l = "debug"
//	schedule = "error"
//
// The modules table is re-applied with SetModuleLevels when the file
// changes. Level and format only take effect at startup.
package logging
