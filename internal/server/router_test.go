package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/loykin/streamgate/internal/demand"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcesses map[string]process.Status

func (f fakeProcesses) List() []process.Status {
	out := make([]process.Status, 0, len(f))
	for _, st := range f {
		out = append(out, st)
	}
	return out
}

func (f fakeProcesses) Get(name string) (process.Status, bool) {
	st, ok := f[name]
	return st, ok
}

type fakePaths []demand.PathStatus

func (f fakePaths) Paths() []demand.PathStatus { return f }

func (f fakePaths) Path(path string) (demand.PathStatus, bool) {
	for _, st := range f {
		if st.Path == path {
			return st, true
		}
	}
	return demand.PathStatus{}, false
}

func setupRouter(t *testing.T, base string, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(base, opts).Handler()
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func fixtures() Options {
	started := time.Now().Add(-90 * time.Second)
	return Options{
		Processes: fakeProcesses{
			"mtx-cam-1-1a2b3c4d": {Name: "mtx-cam-1-1a2b3c4d", State: process.StateRunning, Running: true, PID: 4242, StartedAt: started, Restarts: 1},
		},
		Paths: fakePaths{
			{Path: "cam-1", Phase: demand.PhaseActive, Process: "mtx-cam-1-1a2b3c4d", PID: 4242, EntityID: "1"},
			{Path: "site/cam-2", Phase: demand.PhaseIdle},
		},
	}
}

func TestHealth(t *testing.T) {
	h := setupRouter(t, "/api", fixtures())
	rec := doGet(t, h, "/api/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthResp{OK: true, Processes: 1, Paths: 2}, resp)

	// works with nothing wired
	h = setupRouter(t, "", Options{})
	assert.Equal(t, http.StatusOK, doGet(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/processes").Code)
	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/paths").Code)
	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/metrics").Code)
}

func TestProcesses(t *testing.T) {
	h := setupRouter(t, "/api/", fixtures())
	rec := doGet(t, h, "/api/processes")
	require.Equal(t, http.StatusOK, rec.Code)
	var arr []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arr))
	require.Len(t, arr, 1)
	assert.Equal(t, "mtx-cam-1-1a2b3c4d", arr[0]["name"])
	assert.EqualValues(t, 4242, arr[0]["pid"])
	assert.EqualValues(t, 1, arr[0]["restarts"])
	assert.NotEmpty(t, arr[0]["uptime"])
	assert.NotContains(t, arr[0], "usage")
}

func TestProcess(t *testing.T) {
	h := setupRouter(t, "", fixtures())
	rec := doGet(t, h, "/processes/mtx-cam-1-1a2b3c4d")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)

	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/processes/nope").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, h, "/processes/a..b").Code)
}

func TestProcess_WithUsage(t *testing.T) {
	usage := metrics.NewUsageCollector(metrics.UsageConfig{Enabled: true, Interval: time.Hour, MaxHistory: 4}, nil)
	opts := fixtures()
	opts.Usage = usage
	// sample the test binary itself under the worker name
	usage.Collect(map[string]int32{"mtx-cam-1-1a2b3c4d": int32(os.Getpid())})
	h := setupRouter(t, "", opts)

	rec := doGet(t, h, "/processes/mtx-cam-1-1a2b3c4d")
	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	if _, ok := usage.Latest("mtx-cam-1-1a2b3c4d"); ok {
		assert.Contains(t, v, "usage")
		assert.Contains(t, v, "history")
	}
}

func TestPaths(t *testing.T) {
	h := setupRouter(t, "/api", fixtures())
	rec := doGet(t, h, "/api/paths")
	require.Equal(t, http.StatusOK, rec.Code)
	var arr []demand.PathStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arr))
	require.Len(t, arr, 2)
	assert.Equal(t, demand.PhaseActive, arr[0].Phase)

	rec = doGet(t, h, "/api/paths/cam-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var one demand.PathStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "cam-1", one.Path)
	assert.Equal(t, 4242, one.PID)

	rec = doGet(t, h, "/api/paths/site/cam-2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"Idle"`)

	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/api/paths/cam-9").Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, h, "/api/paths/a/../b").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.IncIntakeFrame("ok")
	opts := fixtures()
	opts.Metrics = true
	h := setupRouter(t, "/api", opts)
	rec := doGet(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLiveRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upgrader := websocket.Upgrader{}
	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"hello"}`))
	})
	srv := httptest.NewServer(NewRouter("/api", Options{Live: live}).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"hello"}`, string(msg))
}

func TestNewServer_Shutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := NewServer("127.0.0.1:0", "/api", fixtures())
	require.NoError(t, err)
	require.NotNil(t, srv.Handler)
	assert.NoError(t, srv.Close())
}
