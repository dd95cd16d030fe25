package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/server"
	sinkmock "github.com/MrWong99/voxgate/internal/sink/mock"
	audiomock "github.com/MrWong99/voxgate/pkg/audio/mock"
	vadmock "github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

// snapshot mirrors the JSON encoding of capture.Snapshot.
type snapshot struct {
	State               string  `json:"state"`
	IsRecording         bool    `json:"isRecording"`
	IsListening         bool    `json:"isListening"`
	IsSpeaking          bool    `json:"isSpeaking"`
	AutoSendCountdownMs *int64  `json:"autoSendCountdownMs"`
	LastError           *string `json:"lastError"`
}

type sessionInfo struct {
	ID       string   `json:"id"`
	Mode     string   `json:"mode"`
	Snapshot snapshot `json:"snapshot"`
}

type fixture struct {
	srv    *httptest.Server
	sm     *app.SessionManager
	source *audiomock.Source
}

// newFixture runs a session manager and serves it. opts builds the server
// options once the manager exists.
func newFixture(t *testing.T, opts func(*app.SessionManager) []server.Option) *fixture {
	t.Helper()
	f := &fixture{source: &audiomock.Source{}}
	f.sm = app.NewSessionManager(app.SessionManagerConfig{
		Capture: app.CaptureConfig(config.Default()),
		Source:  f.source,
		VAD:     &vadmock.Engine{},
		Sink:    &sinkmock.Sink{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sm.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.sm.Check(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatal("session manager never became ready")
		}
		time.Sleep(time.Millisecond)
	}

	var o []server.Option
	if opts != nil {
		o = opts(f.sm)
	}
	f.srv = httptest.NewServer(server.New(f.sm, o...).Handler())
	t.Cleanup(func() {
		f.srv.Close()
		cancel()
		<-done
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var body json.RawMessage
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s %s: decode body: %v", method, path, err)
		}
	}
	return resp.StatusCode, body
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/sessions/desk/start")
	if code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", code, body)
	}
	var info sessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID != "desk" || info.Mode != "auto" || info.Snapshot.State != "listening" || !info.Snapshot.IsRecording {
		t.Errorf("after start = %+v", info)
	}

	if code, body := f.do(t, http.MethodPost, "/sessions/desk/start"); code != http.StatusConflict {
		t.Errorf("second start status = %d, body %s, want 409", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/sessions/desk/stop")
	if code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", code, body)
	}
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Snapshot.State != "idle" || info.Snapshot.IsRecording {
		t.Errorf("after stop = %+v", info.Snapshot)
	}

	code, body = f.do(t, http.MethodGet, "/sessions")
	if code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	var list []sessionInfo
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "desk" {
		t.Errorf("list = %+v, want desk", list)
	}

	if code, _ := f.do(t, http.MethodDelete, "/sessions/desk"); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/sessions/desk"); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", code)
	}
}

func TestServer_ErrorStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/ghost", http.StatusNotFound},
		{"stop unknown", http.MethodPost, "/sessions/ghost/stop", http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/sessions/ghost", http.StatusNotFound},
		{"events unknown", http.MethodGet, "/sessions/ghost/events", http.StatusNotFound},
		{"invalid id", http.MethodPost, "/sessions/" + strings.Repeat("x", 65) + "/start", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, tc.method, tc.path)
			if code != tc.want {
				t.Errorf("status = %d, want %d", code, tc.want)
			}
			var e struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
				t.Errorf("body %s is not an error response", body)
			}
		})
	}
}

func TestServer_MicrophoneUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.source.SetOpenError(errors.New("permission denied"))

	code, body := f.do(t, http.MethodPost, "/sessions/desk/start")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if !strings.Contains(string(body), "permission denied") {
		t.Errorf("body %s does not name the cause", body)
	}

	code, body = f.do(t, http.MethodGet, "/sessions/desk")
	if code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	var info sessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Snapshot.State != "idle" || info.Snapshot.LastError == nil {
		t.Errorf("snapshot = %+v, want idle with last error", info.Snapshot)
	}
}

func TestServer_Events(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if code, _ := f.do(t, http.MethodPost, "/sessions/desk/start"); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/desk/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var snap snapshot
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if snap.State != "listening" || !snap.IsListening {
		t.Errorf("first snapshot = %+v, want listening", snap)
	}

	if code, _ := f.do(t, http.MethodPost, "/sessions/desk/stop"); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	for snap.State != "idle" {
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			t.Fatalf("read until idle: %v", err)
		}
	}

	// Closing the session ends the feed.
	if code, _ := f.do(t, http.MethodDelete, "/sessions/desk"); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	for {
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
				t.Errorf("close status = %v (%v), want normal closure", got, err)
			}
			break
		}
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scraped":true}`))
	})

	f := newFixture(t, func(sm *app.SessionManager) []server.Option {
		return []server.Option{
			server.WithHealth(health.New(health.Checker{Name: "sessions", Check: sm.Check})),
			server.WithMetricsHandler(metrics),
			server.WithObservability(m),
		}
	})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code, body := f.do(t, http.MethodGet, path); code != http.StatusOK {
			t.Errorf("GET %s = %d, body %s", path, code, body)
		}
	}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/sessions", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(observe.CorrelationHeader); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var requests uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "voxgate.http.request.duration" {
				continue
			}
			if h, ok := md.Data.(metricdata.Histogram[float64]); ok {
				for _, dp := range h.DataPoints {
					requests += dp.Count
				}
			}
		}
	}
	if requests < 4 {
		t.Errorf("recorded http requests = %d, want at least 4", requests)
	}
}
