package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/api"
	"github.com/arqiarkaan/enviro-dashboard/internal/dashboard"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/metrics"
	"github.com/arqiarkaan/enviro-dashboard/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1700000010, 0).UTC()

// syncBuffer is written by the server goroutine after the response is sent
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	feed      *feed.Memory
	recorder  telemetry.Recorder
	dash      *dashboard.Service
	server    *httptest.Server
	accessLog *syncBuffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rec, err := telemetry.NewService(telemetry.Config{DBPath: "unused", Enabled: false}, logger.New("telemetry"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })

	m := feed.NewMemory()
	reg := metrics.NewRegistry()
	dash := dashboard.New(dashboard.Config{Window: 6}, dashboard.Deps{
		Feed:     m,
		History:  m,
		Recorder: rec,
		Location: time.UTC,
		Observer: metrics.NewMetrics(reg),
		Log:      logger.New("dashboard"),
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, dash.Start())

	accessLog := &syncBuffer{}
	ts := httptest.NewServer(api.NewRouter(dash, logger.New("api"),
		api.WithAccessLog(accessLog),
		api.WithMetrics(metrics.Handler(reg)),
	))
	t.Cleanup(ts.Close)
	t.Cleanup(dash.Stop)

	return &testEnv{feed: m, recorder: rec, dash: dash, server: ts, accessLog: accessLog}
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, e.feed.Set(feed.RealtimeData, map[string]any{
		"temperature": 26.4, "humidity": 58, "gas": 320, "distance": 90,
		"statusDHT": "READY", "statusMQ2": "READY", "statusUltrasonic": "READY",
		"statusRelay": "OFF", "alarmStatus": "NORMAL", "timestamp": now.Unix(),
	}))
	require.NoError(t, e.feed.Set(feed.Settings, map[string]any{
		"tempThreshold": 30, "humidityThreshold": 80, "gasThreshold": 500,
		"distanceThreshold": 50, "fanStatus": false, "manualControl": false,
	}))
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["feed"])
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "")
	assert.Regexp(t, `^[0-9a-f-]{36}$`, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-ID"))

	assert.Eventually(t, func() bool {
		return strings.Contains(env.accessLog.String(), `"GET /healthz HTTP/1.1" 200`)
	}, time.Second, 10*time.Millisecond)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	st := decode[dashboard.Status](t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.True(t, st.Loading)
	assert.Equal(t, "Tidak ada data realtime dari Firebase.", st.Banner)

	env.seed(t)
	st = decode[dashboard.Status](t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.False(t, st.Loading)
	assert.Empty(t, st.Banner)
	assert.True(t, st.Live)
	assert.Equal(t, "NORMAL", st.AlarmStatus)
	require.NotNil(t, st.Fan)
	assert.Equal(t, "Otomatis", st.Fan.Mode)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, key := range []string{"1700000000", "1700003600"} {
		require.NoError(t, env.recorder.Append(ctx, telemetry.Entry{Key: key, Temperature: 25, Humidity: 50, Gas: 300}))
	}
	require.NoError(t, env.dash.LoadHistory(ctx))

	resp := env.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 6, body["window"], "configured default window")
	assert.Equal(t, "6 Jam", body["label"])
	assert.Len(t, body["rows"], 2)

	resp = env.do(t, http.MethodGet, "/api/history?window=12", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[map[string]any](t, resp)
	assert.Equal(t, "invalid_window", errBody["code"])
}

func TestHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/history?window=24", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, []any{}, body["rows"])
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.do(t, http.MethodGet, "/api/history/export", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, env.recorder.Append(ctx, telemetry.Entry{Key: "1700000000", Temperature: 25.25, Humidity: 50, Gas: 300.5}))
	require.NoError(t, env.dash.LoadHistory(ctx))

	resp = env.do(t, http.MethodGet, "/api/history/export?window=6", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv;charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="sensor-data-2023-11-14.csv"`, resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Waktu,Suhu (°C),Kelembapan (%),Gas (ppm)\n22.13,25.3,50.0,301", string(body))
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	resp := env.do(t, http.MethodPatch, "/api/settings", `{"temperature":"31.5abc","gas":450}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]map[string]any](t, resp)
	assert.Equal(t, map[string]any{"tempThreshold": 31.5, "gasThreshold": 450.0}, body["patch"])

	st := env.dash.Status()
	assert.InDelta(t, 31.5, st.Thresholds.TempThreshold, 0)
	assert.InDelta(t, 80.0, st.Thresholds.HumidityThreshold, 0, "untouched field kept")

	resp = env.do(t, http.MethodPatch, "/api/settings", `{"pressure":"1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPatch, "/api/settings", `{"temperature":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPatch, "/api/settings", `{"temperature":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFanEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	resp := env.do(t, http.MethodPost, "/api/fan/state", `{"on":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	updates := env.feed.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, map[string]any{"manualControl": true, "fanStatus": true}, updates[0].Patch)

	resp = env.do(t, http.MethodPost, "/api/fan/mode", `{"manual":false}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]any{"manualControl": false}, env.feed.Updates()[1].Patch)

	resp = env.do(t, http.MethodPost, "/api/fan/mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.feed.FailUpdates(stderrors.New("permission denied"))
	resp = env.do(t, http.MethodPost, "/api/fan/state", `{"on":false}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	errBody := decode[map[string]any](t, resp)
	assert.Equal(t, "fan_set_state_failed", errBody["code"])
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/settings"},
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/fan/mode"},
		{http.MethodDelete, "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "")
			require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			errBody := decode[map[string]any](t, resp)
			assert.Equal(t, "api_method_not_allowed", errBody["code"])
		})
	}

	resp := env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	resp := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `enviro_sensor_value{sensor="temperature"} 26.4`)
	assert.Contains(t, string(body), `enviro_feed_available{doc="settings"} 1`)
}

func TestLive(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first dashboard.Status
	require.NoError(t, conn.ReadJSON(&first))
	assert.True(t, first.Loading)

	env.seed(t)

	// Frames may coalesce; read until the seeded state shows up
	for {
		var st dashboard.Status
		require.NoError(t, conn.ReadJSON(&st))
		if !st.Loading {
			require.NotNil(t, st.Reading)
			assert.InDelta(t, 26.4, st.Reading.Temperature, 0)
			break
		}
	}

	env.dash.Stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
			break
		}
	}
}
