package api

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"
)

const (
	previewDefaultFPS     = 10
	previewMaxFPS         = 30
	previewDefaultQuality = 75
	previewWriteTimeout   = 5 * time.Second
)

var previewUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is permissive for the whole API
	},
}

// previewParams are the query parameters of the preview socket.
type previewParams struct {
	fps      int
	quality  int
	maxWidth int
}

func parsePreviewParams(r *http.Request) previewParams {
	q := r.URL.Query()
	p := previewParams{
		fps:     clampInt(q.Get("fps"), previewDefaultFPS, 1, previewMaxFPS),
		quality: clampInt(q.Get("quality"), previewDefaultQuality, 1, 100),
	}
	p.maxWidth = clampInt(q.Get("width"), 0, 0, 1<<16)
	return p
}

func clampInt(raw string, def, lo, hi int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(lo, min(n, hi))
}

// registerPreviewRoutes serves live JPEG frames over a WebSocket. Huma has
// no WebSocket operations, so the handler sits on the mux directly.
func (s *Server) registerPreviewRoutes() {
	s.mux.Handle("GET /api/preview/ws", s.requireAuth(http.HandlerFunc(s.servePreview)))
}

func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	params := parsePreviewParams(r)

	conn, err := previewUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Preview upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info("Preview client connected",
		"remote_addr", r.RemoteAddr, "fps", params.fps, "quality", params.quality)

	// Drain control frames so close and ping are handled
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(params.fps))
	defer ticker.Stop()

	var (
		lastSeq uint64
		buf     bytes.Buffer
		sent    int
	)
	for {
		select {
		case <-closed:
			s.logger.Info("Preview client disconnected", "remote_addr", r.RemoteAddr, "frames", sent)
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		img, seq := s.options.Capture.Core().CopyFrame()
		if seq == lastSeq {
			continue
		}
		lastSeq = seq

		buf.Reset()
		if err := jpeg.Encode(&buf, scaleToWidth(img, params.maxWidth), &jpeg.Options{Quality: params.quality}); err != nil {
			s.logger.Warn("Preview encode failed", "error", err)
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(previewWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Preview write failed", "error", err)
			}
			return
		}
		sent++
	}
}

// scaleToWidth downscales img to maxWidth keeping its aspect ratio. Zero
// or a width at least as large as the image returns img.
func scaleToWidth(img *image.RGBA, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
