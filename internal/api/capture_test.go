package api

import (
	"errors"
	"image/png"
	"net/http"
	"testing"

	"github.com/smazurov/capturenode/internal/api/models"
	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/host"
	"github.com/smazurov/capturenode/internal/schedule"
)

type staticSchedules []schedule.Entry

func (s staticSchedules) Entries() []schedule.Entry { return s }

func TestCaptureStatus(t *testing.T) {
	ts, fc, _ := newTestServer(t, nil)
	fc.core.AddDropped(3)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got models.CaptureStatusData
	decodeJSON(t, resp, &got)
	if got.Backend != "virtual" || got.State != "capturing" || got.SessionID != "session-1" {
		t.Errorf("status = %+v", got)
	}
	if got.Width != 4 || got.Height != 2 || got.RefreshRate != 59.94 || !got.HasSignal {
		t.Errorf("input mode = %+v", got)
	}
	if got.DroppedFrames != 3 {
		t.Errorf("dropped = %d, want 3", got.DroppedFrames)
	}
}

func TestListProperties(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/properties", "")
	var got models.PropertiesData
	decodeJSON(t, resp, &got)

	if got.Properties["brightness"] != float64(50) {
		t.Errorf("brightness = %v, want 50", got.Properties["brightness"])
	}
	if got.Properties[capture.KeyHasSignal] != true {
		t.Errorf("has signal = %v, want true", got.Properties[capture.KeyHasSignal])
	}
}

func TestUpdateProperties(t *testing.T) {
	ts, fc, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/capture/properties",
		`{"properties":{"brightness":70,"label":"desk"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	props := fc.core.Properties()
	if v := props.Get("brightness"); v.Kind() != capture.KindInt || v.Int() != 70 {
		t.Errorf("brightness = %v, want int 70", v)
	}
	if props.Get("label").Text() != "desk" {
		t.Errorf("label = %v", props.Get("label"))
	}
	if sources := fc.writeSources(); len(sources) != 1 || sources[0] != propertySource {
		t.Errorf("sources = %v", sources)
	}
}

func TestUpdatePropertiesRejected(t *testing.T) {
	ts, fc, _ := newTestServer(t, func(_ *Options, fc *fakeCapture) {
		fc.reject[capture.KeyWidth] = true
	})

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/capture/properties",
		`{"properties":{"width":9000,"brightness":10}}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	if fc.core.Properties().Get("brightness").Int() != 10 {
		t.Error("accepted write was not kept")
	}
}

func TestUpdatePropertiesBadValue(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/capture/properties",
		`{"properties":{"brightness":[1,2]}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdatePropertiesLoopUnavailable(t *testing.T) {
	ts, _, _ := newTestServer(t, func(_ *Options, fc *fakeCapture) {
		fc.err = errors.New("deadline exceeded")
	})

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/capture/properties/brightness", `{"value":1}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSingleProperty(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/properties/brightness", "")
	var got models.PropertyData
	decodeJSON(t, resp, &got)
	if got.Key != "brightness" || got.Value != float64(50) {
		t.Errorf("property = %+v", got)
	}

	resp = doRequest(t, http.MethodPut, ts.URL+"/api/capture/properties/live%20preview%20enabled", `{"value":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}
	decodeJSON(t, resp, &got)
	if got.Key != "live preview enabled" || got.Value != true {
		t.Errorf("updated property = %+v", got)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/capture/properties/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing property status = %d, want 404", resp.StatusCode)
	}
}

func TestFrameSnapshot(t *testing.T) {
	ts, fc, _ := newTestServer(t, nil)
	fc.core.Produce(func(f *capture.Frame) {
		for i := 0; i < 4*2*4; i += 4 {
			copy(f.Pixels[i:], []byte{10, 20, 30, 255})
		}
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/frame", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 4x2", b)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Errorf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestFrameSnapshotUninitialized(t *testing.T) {
	ts, fc, _ := newTestServer(t, nil)
	fc.core.SetState(capture.StateUninitialized)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/frame", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestCaptureConfig(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, fc *fakeCapture) {
		o.Schedules = staticSchedules{{
			Name:       "photo",
			Spec:       "@every 5m",
			Properties: map[string]capture.Value{"take photo": capture.Bool(true)},
		}}
		fc.aliases = []host.Alias{{
			From: capture.Resolution{Width: 1920, Height: 1080},
			To:   capture.Resolution{Width: 1280, Height: 720},
		}}
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/capture/config", "")
	var got models.CaptureConfigData
	decodeJSON(t, resp, &got)

	if len(got.Aliases) != 1 || got.Aliases[0] != (models.AliasData{From: "1920x1080", To: "1280x720"}) {
		t.Errorf("aliases = %+v", got.Aliases)
	}
	if len(got.Schedules) != 1 || got.Schedules[0].Name != "photo" || got.Schedules[0].Properties["take photo"] != true {
		t.Errorf("schedules = %+v", got.Schedules)
	}
}
