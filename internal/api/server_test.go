package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/smazurov/capturenode/internal/capture"
	"github.com/smazurov/capturenode/internal/events"
	"github.com/smazurov/capturenode/internal/host"
)

const (
	testUser     = "admin"
	testPassword = "secret"
)

// fakeCapture applies writes directly to a core's property store.
type fakeCapture struct {
	core    *capture.Core
	session string
	aliases []host.Alias
	reject  map[string]bool
	err     error

	mu      sync.Mutex
	sources []string
}

func newFakeCapture() *fakeCapture {
	core := capture.NewCore(capture.Options{
		Resolution: capture.Resolution{Width: 4, Height: 2, BitsPerPixel: 32},
	})
	core.Properties().Seed(map[string]capture.Value{
		capture.KeyWidth:       capture.Int(4),
		capture.KeyHeight:      capture.Int(2),
		capture.KeyRefreshRate: capture.Float(59.94),
		capture.KeyHasSignal:   capture.Bool(true),
		"brightness":           capture.Int(50),
	})
	core.SetState(capture.StateCapturing)
	return &fakeCapture{core: core, session: "session-1", reject: map[string]bool{}}
}

func (f *fakeCapture) Core() *capture.Core { return f.core }
func (f *fakeCapture) Session() string { return f.session }
func (f *fakeCapture) Aliases() []host.Alias { return f.aliases }

func (f *fakeCapture) writeSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

func (f *fakeCapture) WriteProperties(_ context.Context, props map[string]capture.Value, source string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()

	var rejected []string
	for _, key := range slices.Sorted(maps.Keys(props)) {
		if f.reject[key] {
			rejected = append(rejected, key)
			continue
		}
		f.core.Properties().Set(key, props[key])
	}
	return rejected, nil
}

// newTestServer builds a server over a fake capture. setup runs before
// the server starts, so it may change the fake without locking.
func newTestServer(t *testing.T, setup func(*Options, *fakeCapture)) (*httptest.Server, *fakeCapture, *events.Bus) {
	t.Helper()
	fc := newFakeCapture()
	bus := events.New()
	opts := &Options{
		AuthUsername: testUser,
		AuthPassword: testPassword,
		Capture:      fc,
		BackendName:  "virtual",
		EventBus:     bus,
	}
	if setup != nil {
		setup(opts, fc)
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts, fc, bus
}

func basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(testUser + ":" + testPassword))
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Basic "+basicAuth())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	url := ts.URL + "/api/capture/status"

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Bearer token", "", http.StatusUnauthorized},
		{"bad base64", "Basic !!!", "", http.StatusUnauthorized},
		{"wrong password", "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:nope")), "", http.StatusUnauthorized},
		{"header", "Basic " + basicAuth(), "", http.StatusOK},
		{"query", "", basicAuth(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := url
			if tt.query != "" {
				target += "?auth=" + tt.query
			}
			req, _ := http.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != authRealm {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthDisabledWithoutCredentials(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
		o.AuthUsername, o.AuthPassword = "", ""
	})

	resp, err := http.Get(ts.URL + "/api/capture/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/capture/properties", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS origin header")
	}
}

func TestPrometheusHandlerMounted(t *testing.T) {
	ts, _, _ := newTestServer(t, func(o *Options, _ *fakeCapture) {
		o.PrometheusHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("capturenode_up 1\n"))
		})
	})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
