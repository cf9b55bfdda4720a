package api

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/metrics"
)

const (
	propertySource       = "api"
	propertyWriteTimeout = 5 * time.Second
)

func (s *Server) registerCaptureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-status",
		Method:      http.MethodGet,
		Path:        "/api/capture/status",
		Summary:     "Capture Status",
		Description: "Get the backend state, session, input mode and frame counters",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		return &models.CaptureStatusResponse{Body: s.captureStatus()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-capture-properties",
		Method:      http.MethodGet,
		Path:        "/api/capture/properties",
		Summary:     "List Properties",
		Description: "Get every device property of the active backend",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.PropertiesResponse, error) {
		return &models.PropertiesResponse{Body: s.propertiesData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-capture-properties",
		Method:      http.MethodPut,
		Path:        "/api/capture/properties",
		Summary:     "Update Properties",
		Description: "Write several device properties. Accepted writes are kept even if others are rejected.",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 503},
	}, func(ctx context.Context, input *models.PropertiesUpdateRequest) (*models.PropertiesResponse, error) {
		props, err := parseProperties(input.Body.Properties)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if err := s.writeProperties(ctx, props); err != nil {
			return nil, err
		}
		return &models.PropertiesResponse{Body: s.propertiesData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-property",
		Method:      http.MethodGet,
		Path:        "/api/capture/properties/{key}",
		Summary:     "Get Property",
		Description: "Get one device property",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *models.PropertyRequest) (*models.PropertyResponse, error) {
		props := s.options.Capture.Core().Properties()
		if !props.Has(input.Key) {
			return nil, huma.Error404NotFound(fmt.Sprintf("Property %q not set", input.Key))
		}
		return &models.PropertyResponse{
			Body: models.PropertyData{Key: input.Key, Value: props.Get(input.Key).Any()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-capture-property",
		Method:      http.MethodPut,
		Path:        "/api/capture/properties/{key}",
		Summary:     "Update Property",
		Description: "Write one device property",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 503},
	}, func(ctx context.Context, input *models.PropertyUpdateRequest) (*models.PropertyResponse, error) {
		v, err := capture.FromAny(input.Body.Value)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if err := s.writeProperties(ctx, map[string]capture.Value{input.Key: v}); err != nil {
			return nil, err
		}
		current := s.options.Capture.Core().Properties().Get(input.Key)
		return &models.PropertyResponse{
			Body: models.PropertyData{Key: input.Key, Value: current.Any()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-frame",
		Method:      http.MethodGet,
		Path:        "/api/capture/frame",
		Summary:     "Frame Snapshot",
		Description: "Get the most recent frame as a PNG image",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.FrameResponse, error) {
		core := s.options.Capture.Core()
		if core.State() == capture.StateUninitialized {
			return nil, huma.Error503ServiceUnavailable("Capture not initialized")
		}

		img, _ := core.CopyFrame()
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, huma.Error500InternalServerError("Failed to encode frame", err)
		}
		return &models.FrameResponse{
			ContentType:  "image/png",
			CacheControl: "no-store",
			Body:         buf.Bytes(),
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-config",
		Method:      http.MethodGet,
		Path:        "/api/capture/config",
		Summary:     "Capture Config",
		Description: "Get the active resolution aliases and schedules",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.CaptureConfigResponse, error) {
		data := models.CaptureConfigData{
			Aliases:   []models.AliasData{},
			Schedules: []models.ScheduleData{},
		}
		for _, a := range s.options.Capture.Aliases() {
			data.Aliases = append(data.Aliases, models.AliasData{
				From: fmt.Sprintf("%dx%d", a.From.Width, a.From.Height),
				To:   fmt.Sprintf("%dx%d", a.To.Width, a.To.Height),
			})
		}
		if s.options.Schedules != nil {
			for _, e := range s.options.Schedules.Entries() {
				data.Schedules = append(data.Schedules, models.ScheduleData{
					Name:       e.Name,
					Spec:       e.Spec,
					Properties: valuesToAny(e.Properties),
				})
			}
		}
		return &models.CaptureConfigResponse{Body: data}, nil
	})
}

func (s *Server) captureStatus() models.CaptureStatusData {
	core := s.options.Capture.Core()
	props := core.Properties()

	return models.CaptureStatusData{
		Backend:       s.options.BackendName,
		State:         core.State().String(),
		SessionID:     s.options.Capture.Session(),
		Width:         props.Get(capture.KeyWidth).Int(),
		Height:        props.Get(capture.KeyHeight).Int(),
		RefreshRate:   props.Get(capture.KeyRefreshRate).Float(),
		HasSignal:     props.Get(capture.KeyHasSignal).Bool(),
		DroppedFrames: core.DroppedFrames(),
		FPS:           metrics.GetCaptureMetrics().FPS,
	}
}

func (s *Server) propertiesData() models.PropertiesData {
	return models.PropertiesData{
		Properties: valuesToAny(s.options.Capture.Core().Properties().Snapshot()),
	}
}

// writeProperties applies props on the capture consumer and maps the
// outcome to an HTTP error.
func (s *Server) writeProperties(ctx context.Context, props map[string]capture.Value) error {
	ctx, cancel := context.WithTimeout(ctx, propertyWriteTimeout)
	defer cancel()

	rejected, err := s.options.Capture.WriteProperties(ctx, props, propertySource)
	if err != nil {
		return huma.Error503ServiceUnavailable("Capture loop did not accept the request", err)
	}
	if len(rejected) > 0 {
		return huma.Error422UnprocessableEntity("Rejected properties: " + strings.Join(rejected, ", "))
	}
	return nil
}

func parseProperties(raw map[string]any) (map[string]capture.Value, error) {
	props := make(map[string]capture.Value, len(raw))
	for key, x := range raw {
		v, err := capture.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		props[key] = v
	}
	return props, nil
}

func valuesToAny(values map[string]capture.Value) map[string]any {
	out := make(map[string]any, len(values))
	for key, v := range values {
		out[key] = v.Any()
	}
	return out
}
