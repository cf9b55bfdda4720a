package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/devices"
)

// registerDeviceRoutes registers the V4L2 discovery endpoints.
func (s *Server) registerDeviceRoutes() {
	if s.options.Devices == nil {
		return
	}
	detector := s.options.Devices

	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List all available V4L2 video devices",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500, 501},
	}, func(ctx context.Context, input *struct{}) (*models.DeviceResponse, error) {
		found, err := detector.FindDevices()
		if err != nil {
			return nil, mapDeviceError(err)
		}
		if found == nil {
			found = []models.DeviceInfo{}
		}
		return &models.DeviceResponse{
			Body: models.DeviceData{Devices: found, Count: len(found)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-formats",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/formats",
		Summary:     "Formats",
		Description: "List supported pixel formats for a specific device",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500, 501},
	}, func(ctx context.Context, input *models.DeviceFormatsRequest) (*models.DeviceFormatsResponse, error) {
		path, formats, err := detector.Formats(input.DeviceID)
		if err != nil {
			return nil, mapDeviceError(err)
		}
		if formats == nil {
			formats = []models.FormatInfo{}
		}
		return &models.DeviceFormatsResponse{
			Body: models.DeviceFormatsData{DevicePath: path, Formats: formats},
		}, nil
	})
}

func mapDeviceError(err error) error {
	switch {
	case errors.Is(err, devices.ErrNotFound):
		return huma.Error404NotFound("Device not found", err)
	case errors.Is(err, devices.ErrUnsupported):
		return huma.Error501NotImplemented(err.Error())
	default:
		return huma.Error500InternalServerError("Device query failed", err)
	}
}
