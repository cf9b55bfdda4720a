package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/devices"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/host"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/schedule"
	"github.com/smazurov/capturenode/internal/updater"
	"github.com/smazurov/capturenode/internal/version"
	"github.com/smazurov/capturenode/ui"
)

const authRealm = `Basic realm="capturenode API"`

// Capture is the host surface the API drives. *host.Host implements it.
type Capture interface {
	Core() *capture.Core
	Session() string
	Aliases() []host.Alias
	WriteProperties(ctx context.Context, props map[string]capture.Value, source string) ([]string, error)
}

// ScheduleLister reports the active schedules. *schedule.Scheduler
// implements it.
type ScheduleLister interface {
	Entries() []schedule.Entry
}

// ServiceManager controls the capturenode unit. *systemd.Manager
// implements it.
type ServiceManager interface {
	GetServiceStatus(ctx context.Context, serviceName string) (string, error)
	RestartSelf(ctx context.Context) error
}

// Options configures the API server. Capture and EventBus are required;
// the routes backed by the other fields are only registered when set.
type Options struct {
	AuthUsername string
	AuthPassword string

	Capture     Capture
	BackendName string
	EventBus    *events.Bus
	Devices     *devices.Detector
	Schedules   ScheduleLister

	UpdateService     updater.Service
	SystemdManager    ServiceManager
	PrometheusHandler http.Handler
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		credentials, msg := requestCredentials(ctx.Header("Authorization"), ctx.Query("auth"))
		if msg == "" && !validCredentials(credentials, username, password) {
			msg = "Invalid credentials"
		}
		if msg != "" {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
			return
		}

		next(ctx)
	}
}

// requestCredentials extracts "user:password" from a Basic Authorization
// header or, for EventSource and WebSocket clients that cannot set
// headers, from a base64 "auth" query parameter. A non-empty message
// describes why extraction failed.
func requestCredentials(header, query string) (string, string) {
	encoded := query
	if header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	}
	if encoded == "" {
		return "", "Authentication required"
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "Invalid credentials format"
	}
	return string(decoded), ""
}

func validCredentials(credentials, username, password string) bool {
	user, pass, ok := strings.Cut(credentials, ":")
	return ok && user == username && pass == password
}

func (s *Server) authEnabled() bool {
	return s.options.AuthUsername != "" && s.options.AuthPassword != ""
}

// requireAuth wraps a plain handler with the same check the Huma
// middleware applies.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if !s.authEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credentials, msg := requestCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"))
		if msg == "" && !validCredentials(credentials, s.options.AuthUsername, s.options.AuthPassword) {
			msg = "Invalid credentials"
		}
		if msg != "" {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("capturenode API", version.Get().Version)
	config.Info.Description = "Frame capture API for V4L2, gphoto2, shared-memory and synthetic sources"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}

	// CORS first, then logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if server.authEnabled() {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Prometheus is scraped without auth
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	if frontendHandler, err := ui.Handler(); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			frontendHandler.ServeHTTP(w, r)
		})
	}

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting capturenode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down, waiting for in-flight requests until ctx is
// done. Streaming connections are closed when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		return versionResponse(), nil
	})

	s.registerCaptureRoutes()
	s.registerPreviewRoutes()
	s.registerDeviceRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerUpdateRoutes()
	s.registerSystemdRoutes()
}

func versionResponse() *models.VersionResponse {
	v := version.Get()
	return &models.VersionResponse{
		Body: models.VersionData{
			Version:   v.Version,
			GitCommit: v.GitCommit,
			BuildDate: v.BuildDate,
			BuildID:   v.BuildID,
			GoVersion: v.GoVersion,
			Compiler:  v.Compiler,
			Platform:  v.Platform,
		},
	}
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
