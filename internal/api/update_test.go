package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/updater"
)

type fakeUpdater struct {
	enabled bool
	err     error
}

func (f *fakeUpdater) CheckForUpdate(context.Context) (*updater.UpdateInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &updater.UpdateInfo{CurrentVersion: "v1.0.0", LatestVersion: "v1.1.0", UpdateAvailable: true}, nil
}

func (f *fakeUpdater) ApplyUpdate(context.Context) error { return f.err }
func (f *fakeUpdater) Rollback(context.Context) error { return f.err }

func (f *fakeUpdater) GetStatus(context.Context) *updater.Status {
	return &updater.Status{State: updater.StateIdle, CurrentVersion: "v1.0.0"}
}

func (f *fakeUpdater) IsEnabled() bool { return f.enabled }

func (f *fakeUpdater) DisabledReason() string {
	if f.enabled {
		return ""
	}
	return "binary not writable"
}

func TestUpdateVersionIsPublic(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/update/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUpdateCheck(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
		o.UpdateService = &fakeUpdater{enabled: true}
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/update/check", "")
	var got models.UpdateCheckData
	decodeJSON(t, resp, &got)
	if !got.UpdateAvailable || got.LatestVersion != "v1.1.0" {
		t.Errorf("check = %+v", got)
	}
}

func TestUpdateErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		svc  *fakeUpdater
		want int
	}{
		{"disabled", &fakeUpdater{}, http.StatusServiceUnavailable},
		{"invalid state", &fakeUpdater{enabled: true, err: &updater.Error{Code: updater.ErrCodeInvalidState, Message: "busy"}}, http.StatusConflict},
		{"no update", &fakeUpdater{enabled: true, err: &updater.Error{Code: updater.ErrCodeNoUpdate, Message: "latest"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
				o.UpdateService = tt.svc
			})
			resp := doRequest(t, http.MethodPost, ts.URL+"/api/update/apply", "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUpdateApplyAcknowledgesRestart(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
		o.UpdateService = &fakeUpdater{enabled: true}
	})

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/update/rollback", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got models.UpdateActionData
	decodeJSON(t, resp, &got)
	if !got.Restarting || got.Message == "" {
		t.Errorf("response = %+v", got)
	}
}

func TestDisabledUpdateRoutesAnswer503(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
		o.UpdateService = &fakeUpdater{}
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/update/status", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
