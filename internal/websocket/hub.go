package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/switch-bridge/internal/device"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，同时实现device.Notifier向客户端推送事件
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 新客户端首次订阅时的状态来源
	statusProvider StatusProvider

	// 日志
	logger *zap.Logger
}

// StatusProvider 提供当前缓存的设备状态
type StatusProvider interface {
	GetCachedStatus() device.StatusSnapshot
}

// Client WebSocket客户端
type Client struct {
	ID   string          // 客户端ID
	Hub  *Hub            // Hub引用
	Conn *websocket.Conn // WebSocket连接
	Send chan []byte     // 发送通道
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`      // 消息类型
	Data      json.RawMessage `json:"data"`      // 消息数据
	Timestamp int64           `json:"timestamp"` // 时间戳
}

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 设备消息
	MessageTypeStatusUpdate = "status_update"
	MessageTypeReconnected  = "device_reconnected"
	MessageTypeGetStatus    = "get_status"
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetStatusProvider 设置状态来源
func (h *Hub) SetStatusProvider(provider StatusProvider) {
	h.statusProvider = provider
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID))

	// 首次订阅时发送一次当前缓存的设备状态
	if h.statusProvider != nil {
		snapshot := h.statusProvider.GetCachedStatus()
		h.sendStatusTo(client, snapshot)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// 发送缓冲区满，丢弃本条消息
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	client, ok := h.clients[clientID]
	h.clientsMu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// GetOnlineCount 获取在线客户端数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播消息（公开方法）
func (h *Hub) Broadcast(message *Message) {
	h.broadcast <- message
}

// Register 注册客户端（公开方法）
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端（公开方法）
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// sendStatusTo 向单个客户端发送状态快照
func (h *Hub) sendStatusTo(client *Client, snapshot device.StatusSnapshot) {
	payload, err := json.Marshal(map[string]interface{}{"data": snapshot.ToMap()})
	if err != nil {
		h.logger.Error("序列化状态快照失败", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      MessageTypeStatusUpdate,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	}
	if err := h.SendToClient(client.ID, msg); err != nil {
		h.logger.Warn("发送初始状态失败",
			zap.String("client_id", client.ID),
			zap.Error(err))
	}
}

// NotifyStatusUpdate 实现device.Notifier，状态变化时广播
func (h *Hub) NotifyStatusUpdate(snapshot device.StatusSnapshot) {
	h.broadcastEvent(MessageTypeStatusUpdate,
		map[string]interface{}{"data": snapshot.ToMap()})
}

// NotifyReconnected 实现device.Notifier，设备重连成功时广播
func (h *Hub) NotifyReconnected(snapshot device.StatusSnapshot) {
	h.broadcastEvent(MessageTypeReconnected,
		map[string]interface{}{"data": snapshot.ToMap()})
}

// NotifyError 实现device.Notifier，设备异常时广播
func (h *Hub) NotifyError(reason string) {
	h.broadcastEvent(MessageTypeError,
		map[string]interface{}{"error_status": reason})
}

func (h *Hub) broadcastEvent(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("序列化推送事件失败",
			zap.String("type", msgType),
			zap.Error(err))
		return
	}

	msg := &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("广播通道已满，丢弃推送事件",
			zap.String("type", msgType))
	}
}
