package api

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/capturenode/internal/capture"
)

func TestPreviewStreamsJPEGFrames(t *testing.T) {
	ts, fc, _ := newTestServer(t, nil)
	fc.core.Produce(func(f *capture.Frame) {
		for i := 0; i < 4*2*4; i += 4 {
			copy(f.Pixels[i:], []byte{200, 100, 50, 255})
		}
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/preview/ws?fps=30&auth=" + basicAuth()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 4x2", b)
	}
}

func TestPreviewRequiresAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/preview/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestParsePreviewParams(t *testing.T) {
	tests := []struct {
		query string
		want  previewParams
	}{
		{"", previewParams{fps: previewDefaultFPS, quality: previewDefaultQuality}},
		{"fps=500&quality=0", previewParams{fps: previewMaxFPS, quality: 1}},
		{"fps=abc&width=320", previewParams{fps: previewDefaultFPS, quality: previewDefaultQuality, maxWidth: 320}},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/preview/ws?"+tt.query, nil)
		if got := parsePreviewParams(r); got != tt.want {
			t.Errorf("parsePreviewParams(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestScaleToWidth(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))

	if got := scaleToWidth(src, 0); got != image.Image(src) {
		t.Error("width 0 should return the source")
	}
	if got := scaleToWidth(src, 1024); got != image.Image(src) {
		t.Error("larger width should return the source")
	}
	if b := scaleToWidth(src, 320).Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("scaled bounds = %v, want 320x240", b)
	}
}
