package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/switch-bridge/internal/device"
	"go.uber.org/zap"
)

// fakeStatusProvider 提供固定的状态快照
type fakeStatusProvider struct {
	snapshot device.StatusSnapshot
}

func (p *fakeStatusProvider) GetCachedStatus() device.StatusSnapshot {
	return p.snapshot
}

// startHubServer 启动运行中的Hub和对应的测试WebSocket服务器
func startHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	hub.SetStatusProvider(&fakeStatusProvider{
		snapshot: device.DecodeStatus(0b0001),
	})
	go hub.Run()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	return hub, server
}

// wsReader 按条读取服务器推送的消息。
// WritePump会用换行符把积压消息合并进一帧，这里拆开逐条返回。
type wsReader struct {
	conn    *websocket.Conn
	pending [][]byte
}

func dialHub(t *testing.T, server *httptest.Server) *wsReader {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsReader{conn: conn}
}

func (r *wsReader) next(t *testing.T) Message {
	t.Helper()

	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := r.conn.ReadMessage()
		require.NoError(t, err)
		for _, part := range bytes.Split(frame, []byte{'\n'}) {
			if len(part) > 0 {
				r.pending = append(r.pending, part)
			}
		}
	}

	var msg Message
	require.NoError(t, json.Unmarshal(r.pending[0], &msg))
	r.pending = r.pending[1:]
	return msg
}

func (r *wsReader) send(t *testing.T, msg *Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, r.conn.WriteMessage(websocket.TextMessage, data))
}

// statusPayload 解析状态推送消息的data字段
func statusPayload(t *testing.T, msg Message) map[string]int {
	t.Helper()

	var payload struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	return payload.Data
}

func TestHub_InitialStatusOnSubscribe(t *testing.T) {
	_, server := startHubServer(t)
	reader := dialHub(t, server)

	// 新客户端连接后立即收到一次当前状态
	msg := reader.next(t)
	assert.Equal(t, MessageTypeStatusUpdate, msg.Type)
	assert.NotZero(t, msg.Timestamp)

	data := statusPayload(t, msg)
	assert.Equal(t, 1, data["Alpha"])
	assert.Equal(t, 0, data["Bravo"])
	assert.Equal(t, 0, data["Charlie"])
	assert.Equal(t, 0, data["Delta"])
}

func TestHub_BroadcastStatusUpdate(t *testing.T) {
	hub, server := startHubServer(t)
	reader := dialHub(t, server)

	// 跳过订阅时的初始状态
	_ = reader.next(t)

	hub.NotifyStatusUpdate(device.DecodeStatus(0b1010))

	msg := reader.next(t)
	assert.Equal(t, MessageTypeStatusUpdate, msg.Type)

	data := statusPayload(t, msg)
	assert.Equal(t, 0, data["Alpha"])
	assert.Equal(t, 1, data["Bravo"])
	assert.Equal(t, 1, data["Delta"])
}

func TestHub_BroadcastReconnected(t *testing.T) {
	hub, server := startHubServer(t)
	reader := dialHub(t, server)
	_ = reader.next(t)

	hub.NotifyReconnected(device.DecodeStatus(0b1111))

	msg := reader.next(t)
	assert.Equal(t, MessageTypeReconnected, msg.Type)

	data := statusPayload(t, msg)
	for _, name := range device.SwitchNames() {
		assert.Equal(t, 1, data[name])
	}
}

func TestHub_BroadcastError(t *testing.T) {
	hub, server := startHubServer(t)
	reader := dialHub(t, server)
	_ = reader.next(t)

	hub.NotifyError("not connected")

	msg := reader.next(t)
	assert.Equal(t, MessageTypeError, msg.Type)

	var payload struct {
		ErrorStatus string `json:"error_status"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "not connected", payload.ErrorStatus)
}

func TestHub_PingPong(t *testing.T) {
	_, server := startHubServer(t)
	reader := dialHub(t, server)
	_ = reader.next(t)

	reader.send(t, &Message{Type: MessageTypePing, Timestamp: time.Now().Unix()})

	msg := reader.next(t)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHub_GetStatusRequest(t *testing.T) {
	_, server := startHubServer(t)
	reader := dialHub(t, server)
	_ = reader.next(t)

	reader.send(t, &Message{Type: MessageTypeGetStatus, Timestamp: time.Now().Unix()})

	msg := reader.next(t)
	assert.Equal(t, MessageTypeStatusUpdate, msg.Type)
	assert.Equal(t, 1, statusPayload(t, msg)["Alpha"])
}

func TestHub_UnsupportedMessageType(t *testing.T) {
	_, server := startHubServer(t)
	reader := dialHub(t, server)
	_ = reader.next(t)

	// 不支持的消息类型收到错误回复，但连接保持
	reader.send(t, &Message{Type: "subscribe", Timestamp: time.Now().Unix()})

	msg := reader.next(t)
	assert.Equal(t, MessageTypeError, msg.Type)

	reader.send(t, &Message{Type: MessageTypePing, Timestamp: time.Now().Unix()})
	msg = reader.next(t)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHub_OnlineCount(t *testing.T) {
	hub, server := startHubServer(t)

	first := dialHub(t, server)
	_ = first.next(t)
	second := dialHub(t, server)
	_ = second.next(t)

	assert.Eventually(t, func() bool {
		return hub.GetOnlineCount() == 2
	}, time.Second, 10*time.Millisecond)

	first.conn.Close()

	assert.Eventually(t, func() bool {
		return hub.GetOnlineCount() == 1
	}, time.Second, 10*time.Millisecond)
}
