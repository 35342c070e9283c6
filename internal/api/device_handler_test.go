package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/switch-bridge/internal/config"
	"github.com/wfunc/switch-bridge/internal/device"
	ws "github.com/wfunc/switch-bridge/internal/websocket"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Mode:      "test",
			StaticDir: t.TempDir(),
		},
		WebSocket: config.WebSocketConfig{
			Path: "/ws",
		},
		Serial: config.SerialConfig{
			MockMode:             true,
			PollInterval:         time.Second,
			MinRetryInterval:     10 * time.Millisecond,
			MaxRetryInterval:     40 * time.Millisecond,
			FailureResetInterval: 10 * time.Minute,
			MaxFailureThreshold:  5,
		},
	}
}

// newTestRouter 构造带模拟设备的完整路由
func newTestRouter(t *testing.T) (*Router, *device.MockLink) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig(t)
	link := device.NewMockLink()
	hub := ws.NewHub(zap.NewNop())
	manager := device.NewDeviceStateManager(&cfg.Serial, link, hub)
	t.Cleanup(manager.Shutdown)
	hub.SetStatusProvider(manager)

	return NewRouter(cfg, manager, hub, zap.NewNop()), link
}

func doRequest(router *Router, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.GetEngine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetStatus_Cached(t *testing.T) {
	router, link := newTestRouter(t)
	before := link.TransactCount()

	w := doRequest(router, "GET", "/api/status")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "success", resp["status"])

	data := resp["data"].(map[string]interface{})
	assert.Len(t, data, 4)
	for _, name := range []string{"Alpha", "Bravo", "Charlie", "Delta"} {
		assert.Contains(t, data, name)
	}

	// 缓存读取不触发设备查询
	assert.Equal(t, before, link.TransactCount())
}

func TestGetStatus_Update(t *testing.T) {
	router, link := newTestRouter(t)

	link.SetStatus(0b1001)
	before := link.TransactCount()

	w := doRequest(router, "GET", "/api/status?update=true")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["Alpha"])
	assert.Equal(t, float64(0), data["Bravo"])
	assert.Equal(t, float64(1), data["Delta"])

	// update=true触发一次设备查询
	assert.Equal(t, before+1, link.TransactCount())
}

func TestGetStatus_UpdateDisconnected(t *testing.T) {
	router, link := newTestRouter(t)

	require.NoError(t, link.Close())
	w := doRequest(router, "GET", "/api/status?update=true")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "CONNECTION_ERROR", resp["error_code"])
	assert.NotEmpty(t, resp["message"])
	assert.NotZero(t, resp["timestamp"])
}

func TestGetStatus_CachedWorksWhenDisconnected(t *testing.T) {
	router, link := newTestRouter(t)

	// 断开后缓存查询仍然返回200
	require.NoError(t, link.Close())
	w := doRequest(router, "GET", "/api/status")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetSwitch(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, "POST", "/api/set_switch?switch=Alpha:1&switch=Delta:1")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["Alpha"])
	assert.Equal(t, float64(0), data["Bravo"])
	assert.Equal(t, float64(0), data["Charlie"])
	assert.Equal(t, float64(1), data["Delta"])
}

func TestSetSwitch_MissingParam(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, "POST", "/api/set_switch")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_OPERATION", decodeBody(t, w)["error_code"])
}

func TestSetSwitch_MalformedParam(t *testing.T) {
	router, link := newTestRouter(t)
	before := link.SendCount()

	for _, param := range []string{"Alpha", "Alpha:2", ":1", "Alpha:on"} {
		w := doRequest(router, "POST", "/api/set_switch?switch="+param)
		assert.Equal(t, http.StatusBadRequest, w.Code, "参数: %s", param)
	}

	// 参数校验失败不产生设备写入
	assert.Equal(t, before, link.SendCount())
}

func TestSetSwitch_UnknownSwitch(t *testing.T) {
	router, link := newTestRouter(t)

	w := doRequest(router, "POST", "/api/set_switch?switch=Echo:1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_OPERATION", decodeBody(t, w)["error_code"])
	assert.Equal(t, 0, link.SendCount())
}

func TestSetSwitch_Disconnected(t *testing.T) {
	router, link := newTestRouter(t)

	require.NoError(t, link.Close())
	w := doRequest(router, "POST", "/api/set_switch?switch=Alpha:1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "CONNECTION_ERROR", decodeBody(t, w)["error_code"])
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, "GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "connected", resp["device_state"])
}

func TestNoRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(router, "GET", "/api/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
