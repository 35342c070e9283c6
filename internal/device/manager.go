package device

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/switch-bridge/internal/config"
	"github.com/wfunc/switch-bridge/internal/errors"
	"github.com/wfunc/switch-bridge/internal/logger"
	"go.uber.org/zap"
)

// ConnectionState 设备连接状态
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateReconnecting
)

// String 返回状态名称
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Notifier 状态推送接口，由WebSocket层实现
type Notifier interface {
	// NotifyStatusUpdate 状态变化时推送当前快照
	NotifyStatusUpdate(snapshot StatusSnapshot)
	// NotifyReconnected 重连成功时推送
	NotifyReconnected(snapshot StatusSnapshot)
	// NotifyError 强制断开或轮询出错时推送
	NotifyError(reason string)
}

// DeviceStateManager 设备状态管理器。
// 持有链路、缓存和重试控制器，负责轮询、重连和开关操作。
// 串口句柄与状态缓存共用一把锁，保证任一时刻只有一笔在途传输。
type DeviceStateManager struct {
	cfg      *config.SerialConfig
	link     Link
	cache    *StateCache
	retry    *RetryController
	notifier Notifier
	logger   *zap.Logger

	// 保护串口传输和缓存更新
	mu sync.Mutex

	stateMu sync.RWMutex
	state   ConnectionState

	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	pollStarted atomic.Bool
}

// NewDeviceStateManager 创建设备状态管理器并尝试首次连接。
// 首次连接失败不算错误，由轮询循环负责重连。
func NewDeviceStateManager(cfg *config.SerialConfig, link Link, notifier Notifier) *DeviceStateManager {
	m := &DeviceStateManager{
		cfg:      cfg,
		link:     link,
		cache:    NewStateCache(),
		retry:    NewRetryController(cfg),
		notifier: notifier,
		logger:   logger.GetModuleLogger("device"),
		state:    StateDisconnected,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if err := m.link.Open(); err != nil {
		m.logger.Error("初始连接设备失败，将在后台重试", zap.Error(err))
		return m
	}
	m.setState(StateConnected)

	// 初始化时获取一次设备状态，失败不阻止启动
	if snapshot, err := m.refresh(false); err != nil {
		m.logger.Error("初始化获取设备状态失败", zap.Error(err))
	} else {
		m.logger.Info("初始化时已获取设备状态", zap.Any("status", snapshot.ToMap()))
	}

	return m
}

// State 返回当前连接状态
func (m *DeviceStateManager) State() ConnectionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// IsConnected 检查设备是否处于已连接状态
func (m *DeviceStateManager) IsConnected() bool {
	return m.State() == StateConnected
}

func (m *DeviceStateManager) setState(state ConnectionState) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != state {
		m.logger.Info("连接状态变更",
			zap.String("from", m.state.String()),
			zap.String("to", state.String()))
	}
	m.state = state
}

// GetCachedStatus 返回缓存的状态快照，无设备I/O
func (m *DeviceStateManager) GetCachedStatus() StatusSnapshot {
	return m.cache.Read()
}

// RefreshStatus 从设备读取最新状态并更新缓存，状态变化时推送通知
func (m *DeviceStateManager) RefreshStatus() (StatusSnapshot, error) {
	return m.refresh(true)
}

func (m *DeviceStateManager) refresh(notify bool) (StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(notify)
}

// refreshLocked 执行一次状态查询事务，调用方必须持有m.mu
func (m *DeviceStateManager) refreshLocked(notify bool) (StatusSnapshot, error) {
	if !m.link.IsOpen() {
		m.setState(StateDisconnected)
		return StatusSnapshot{}, errors.New(errors.ErrConnection, "设备链路未打开")
	}

	resp, err := m.link.Transact(EncodeQuery())
	if err != nil {
		m.handleTransportError(err)
		return StatusSnapshot{}, err
	}

	// 事务成功则失败不再连续
	m.retry.ResetFailures()

	snapshot := DecodeStatus(resp)
	if m.cache.Apply(snapshot) && notify && m.notifier != nil {
		m.notifier.NotifyStatusUpdate(snapshot)
		m.logger.Info("已向客户端推送状态更新", zap.Any("status", snapshot.ToMap()))
	}

	m.logger.Debug("获取设备状态", zap.Any("status", snapshot.ToMap()))
	return snapshot, nil
}

// SetSwitchStates 将指定开关设置为要求的状态。
// 未知开关名在任何设备I/O之前返回InvalidOperation；
// 已处于要求状态的开关不会下发命令；
// 写入后做一次状态确认，不一致时返回Internal，不自动重试。
func (m *DeviceStateManager) SetSwitchStates(requested map[string]bool) (StatusSnapshot, error) {
	// 开关名校验先于任何设备I/O
	targets := make(map[SwitchID]bool, len(requested))
	var invalid []string
	for name, desired := range requested {
		id, ok := ParseSwitchName(name)
		if !ok {
			invalid = append(invalid, name)
			continue
		}
		targets[id] = desired
	}
	if len(invalid) > 0 {
		m.logger.Error("无效的开关名", zap.Strings("switches", invalid))
		return StatusSnapshot{}, errors.Newf(errors.ErrInvalidOperation,
			"无效的开关名: %s", strings.Join(invalid, ", "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 链路断开时立即返回，不等待重连
	if !m.link.IsOpen() || !m.IsConnected() {
		return StatusSnapshot{}, errors.New(errors.ErrConnection, "设备未连接")
	}

	current := m.cache.Read()
	for id, desired := range targets {
		if current.Get(id) == desired {
			m.logger.Info("开关已处于要求状态",
				zap.String("switch", id.String()),
				zap.Bool("state", desired))
			continue
		}

		if err := m.link.Send(EncodeToggle(id)); err != nil {
			m.handleTransportError(err)
			return StatusSnapshot{}, err
		}
	}

	// 写入后做一次权威状态确认
	snapshot, err := m.refreshLocked(true)
	if err != nil {
		return StatusSnapshot{}, err
	}

	for id, desired := range targets {
		if snapshot.Get(id) != desired {
			m.logger.Error("开关写入后状态与要求不一致",
				zap.String("switch", id.String()),
				zap.Bool("desired", desired))
			return StatusSnapshot{}, errors.Newf(errors.ErrInternal,
				"开关 %s 未达到要求状态", id)
		}
	}

	m.logger.Info("开关操作完成", zap.Any("requested", requested))
	return snapshot, nil
}

// handleTransportError 传输失败时记录失败次数，连接级故障时标记断开
func (m *DeviceStateManager) handleTransportError(err error) {
	switch errors.GetCode(err) {
	case errors.ErrTimeout:
		m.retry.RecordFailure()
		m.logger.Error("设备操作超时", zap.Error(err))
	case errors.ErrConnection:
		m.retry.RecordFailure()
		m.setState(StateDisconnected)
		m.logger.Error("串口通信错误", zap.Error(err))
	default:
		m.logger.Error("设备通信发生预期外错误", zap.Error(err))
	}
}

// PollLoop 后台轮询循环，持续运行直到Shutdown。
// 轮询中的失败只记录日志，不向调用方传播，下一个周期即是重试。
func (m *DeviceStateManager) PollLoop() {
	m.pollStarted.Store(true)
	defer close(m.doneCh)

	m.logger.Info("设备状态轮询已启动",
		zap.Duration("poll_interval", m.cfg.PollInterval))

	for {
		// Shutdown先于本循环执行时不做任何工作，链路保持关闭
		select {
		case <-m.stopCh:
			m.logger.Info("设备状态轮询已退出")
			return
		default:
		}

		if m.retry.MaybeReset() {
			m.logger.Info("连接失败计数已重置")
		}

		if m.retry.ShouldForceDisconnect() {
			// 链路名义上还开着，但反复失败视同断开
			m.logger.Error("连续失败次数达到阈值，标记设备为断开")
			m.setState(StateDisconnected)
			m.retry.ResetFailures()
		}

		if !m.IsConnected() {
			m.logger.Error("设备未连接，尝试重连...")
			m.notifyError("not connected")
			m.reconnect()
		} else {
			if _, err := m.refresh(true); err != nil {
				m.logger.Error("轮询获取设备状态失败", zap.Error(err))
			}
		}

		select {
		case <-m.stopCh:
			m.logger.Info("设备状态轮询已退出")
			return
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// reconnect 按退避间隔反复尝试重连，直到成功或收到停止信号
func (m *DeviceStateManager) reconnect() {
	m.setState(StateReconnecting)

	for {
		m.mu.Lock()
		// 停止信号在持锁状态下检查：Shutdown持同一把锁关闭链路，
		// 这里不可能在其之后重新打开端口
		select {
		case <-m.stopCh:
			m.mu.Unlock()
			return
		default:
		}
		err := m.link.Open()
		m.mu.Unlock()

		if err == nil {
			m.setState(StateConnected)
			m.retry.ResetBackoff()
			m.retry.ResetFailures()
			m.logger.Info("设备连接已恢复")

			// 重连后立即取一次状态，失败交给下个轮询周期
			if _, err := m.refresh(false); err != nil {
				m.logger.Error("重连后获取设备状态失败", zap.Error(err))
			}

			if m.notifier != nil {
				m.notifier.NotifyReconnected(m.cache.Read())
			}
			return
		}

		interval := m.retry.NextBackoff()
		m.logger.Error("重连失败，等待下次尝试",
			zap.Duration("interval", interval),
			zap.Error(err))

		// 退避等待可被停止信号打断
		select {
		case <-m.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

func (m *DeviceStateManager) notifyError(reason string) {
	if m.notifier != nil {
		m.notifier.NotifyError(reason)
	}
}

// Shutdown 发出停止信号，关闭链路并等待轮询循环退出
func (m *DeviceStateManager) Shutdown() {
	m.stopOnce.Do(func() {
		m.logger.Info("正在停止设备状态管理器...")
		close(m.stopCh)

		m.mu.Lock()
		if err := m.link.Close(); err != nil {
			m.logger.Error("关闭设备链路失败", zap.Error(err))
		}
		m.mu.Unlock()

		if m.pollStarted.Load() {
			<-m.doneCh
		}
		m.logger.Info("设备状态管理器已停止")
	})
}
