package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/systemd"
)

// selfRestartDelay lets the restart response reach the client before
// systemd stops the process.
var selfRestartDelay = 500 * time.Millisecond

func (s *Server) registerSystemdRoutes() {
	if s.options.SystemdManager == nil {
		return
	}
	manager := s.options.SystemdManager
	service := strings.TrimSuffix(systemd.ServiceName, ".service")

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/systemd/status",
		Summary:     "Service Status",
		Description: "Get the capturenode systemd unit status",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.SystemdServiceStatusResponse, error) {
		status, err := manager.GetServiceStatus(ctx, systemd.ServiceName)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.SystemdServiceStatusResponse{
			Body: models.SystemdServiceStatus{
				Service: service,
				Status:  status,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-service-unit",
		Method:      http.MethodPost,
		Path:        "/api/systemd/restart",
		Summary:     "Restart Service",
		Description: "Restart the capturenode systemd unit over D-Bus",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.SystemdServiceActionResponse, error) {
		time.AfterFunc(selfRestartDelay, func() {
			restartCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := manager.RestartSelf(restartCtx); err != nil {
				s.logger.Error("Service restart failed", "error", err)
			}
		})
		s.logger.Info("Service restart requested", "unit", systemd.ServiceName)

		return &models.SystemdServiceActionResponse{
			Body: models.SystemdServiceAction{
				Service: service,
				Action:  "restart",
				Success: true,
			},
		}, nil
	})
}
