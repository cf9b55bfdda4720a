package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/updater"
)

func updateOperation(id, method, path, summary, description string, errs ...int) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Description: description,
		Tags:        []string{"update"},
		Errors:      append([]int{401}, errs...),
		Security:    withAuth(),
	}
}

var (
	checkUpdateOp = updateOperation("check-updates", http.MethodGet, "/api/update/check",
		"Check for Updates", "Check whether a newer release is available without downloading it", 404, 409, 500)
	updateStatusOp = updateOperation("get-update-status", http.MethodGet, "/api/update/status",
		"Get Update Status", "Current update state, target version and backup", 500)
	applyUpdateOp = updateOperation("apply-update", http.MethodPost, "/api/update/apply",
		"Apply Update", "Download and install the latest release, then restart", 400, 409, 500)
	rollbackUpdateOp = updateOperation("rollback-update", http.MethodPost, "/api/update/rollback",
		"Rollback Update", "Restore the binary saved before the last update, then restart", 404, 500)
)

// registerUpdateRoutes registers the version endpoint and, with an update
// service configured, the self-update operations.
func (s *Server) registerUpdateRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-version",
		Method:      http.MethodGet,
		Path:        "/api/update/version",
		Summary:     "Version",
		Description: "Build version, commit and date",
		Tags:        []string{"update"},
		Security:    []map[string][]string{},
	}, func(context.Context, *struct{}) (*models.VersionResponse, error) {
		return versionResponse(), nil
	})

	svc := s.options.UpdateService
	switch {
	case svc == nil:
		return
	case !svc.IsEnabled():
		s.registerDisabledUpdateRoutes(svc.DisabledReason())
		return
	}

	huma.Register(s.api, checkUpdateOp, func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
		info, err := svc.CheckForUpdate(ctx)
		if err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateCheckResponse{Body: models.UpdateCheckData{
			CurrentVersion:  info.CurrentVersion,
			LatestVersion:   info.LatestVersion,
			ReleaseNotes:    info.ReleaseNotes,
			ReleaseURL:      info.ReleaseURL,
			PublishedAt:     info.PublishedAt,
			AssetSize:       info.AssetSize,
			UpdateAvailable: info.UpdateAvailable,
		}}, nil
	})

	huma.Register(s.api, updateStatusOp, func(ctx context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
		st := svc.GetStatus(ctx)
		return &models.UpdateStatusResponse{Body: models.UpdateStatusData{
			State:           string(st.State),
			CurrentVersion:  st.CurrentVersion,
			TargetVersion:   st.TargetVersion,
			Progress:        st.Progress,
			Error:           st.Error,
			LastChecked:     st.LastChecked,
			BackupAvailable: st.BackupAvailable,
			BackupVersion:   st.BackupVersion,
		}}, nil
	})

	huma.Register(s.api, applyUpdateOp, restartingAction(svc.ApplyUpdate, "Update applied, restarting..."))
	huma.Register(s.api, rollbackUpdateOp, restartingAction(svc.Rollback, "Rollback complete, restarting..."))

	restarter, ok := svc.(updater.Restarter)
	if !ok {
		return
	}

	huma.Register(s.api, updateOperation("apply-dev-build", http.MethodPost, "/api/update/dev",
		"Apply Dev Build", "Install the latest development build for this architecture, then restart", 404, 409, 500),
		restartingAction(restarter.ApplyDevBuild, "Dev build applied, restarting..."))

	huma.Register(s.api, updateOperation("restart-service", http.MethodPost, "/api/update/restart",
		"Restart Service", "Exit so the service manager restarts capturenode", 409, 500),
		func(ctx context.Context, _ *struct{}) (*models.UpdateActionResponse, error) {
			if restarter.IsRestartPending() {
				return nil, huma.Error409Conflict("Restart already pending")
			}
			if err := restarter.Restart(ctx); err != nil {
				return nil, huma.Error500InternalServerError(err.Error())
			}
			return models.Restarting("Restarting..."), nil
		})
}

func restartingAction(op func(context.Context) error, message string) func(context.Context, *struct{}) (*models.UpdateActionResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*models.UpdateActionResponse, error) {
		if err := op(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return models.Restarting(message), nil
	}
}

// registerDisabledUpdateRoutes keeps the update paths in the OpenAPI
// document while answering 503.
func (s *Server) registerDisabledUpdateRoutes(reason string) {
	disabled := func(context.Context, *struct{}) (*struct{}, error) {
		return nil, huma.Error503ServiceUnavailable("Update service disabled: " + reason)
	}
	for _, op := range []huma.Operation{checkUpdateOp, updateStatusOp, applyUpdateOp, rollbackUpdateOp} {
		op.Errors = []int{401, 503}
		huma.Register(s.api, op, disabled)
	}
}

var updateErrorStatus = map[string]int{
	updater.ErrCodeInvalidState: http.StatusConflict,
	updater.ErrCodeNoUpdate:     http.StatusBadRequest,
	updater.ErrCodeNotFound:     http.StatusNotFound,
	updater.ErrCodeNoBackup:     http.StatusNotFound,
	updater.ErrCodeDisabled:     http.StatusServiceUnavailable,
}

func mapUpdateError(err error) error {
	var updateErr *updater.Error
	if !errors.As(err, &updateErr) {
		return huma.Error500InternalServerError(err.Error())
	}
	status, ok := updateErrorStatus[updateErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return huma.NewError(status, updateErr.Message)
}
