package device

import (
	"sync"

	"github.com/wfunc/switch-bridge/internal/errors"
)

// MockLink 模拟设备链路（用于调试模式和测试）。
// 内部维护四位开关状态，翻转命令直接作用于该状态。
type MockLink struct {
	mu     sync.Mutex
	open   bool
	status byte

	// 注入的故障，按调用顺序逐个返回
	openErrs     []error
	transactErrs []error
	sendErrs     []error

	// 为真时接受翻转命令但不改变状态，用于模拟写入失效
	ignoreToggles bool

	sendCount     int
	transactCount int
}

// NewMockLink 创建模拟链路
func NewMockLink() *MockLink {
	return &MockLink{}
}

// Open 打开模拟链路
func (l *MockLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.openErrs) > 0 {
		err := l.openErrs[0]
		l.openErrs = l.openErrs[1:]
		if err != nil {
			l.open = false
			return err
		}
	}

	l.open = true
	return nil
}

// Close 关闭模拟链路
func (l *MockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	return nil
}

// IsOpen 检查模拟链路状态
func (l *MockLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Transact 处理状态查询命令，返回当前开关状态字节
func (l *MockLink) Transact(cmd byte) (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, errors.New(errors.ErrConnection, "模拟链路未打开")
	}

	l.transactCount++

	if len(l.transactErrs) > 0 {
		err := l.transactErrs[0]
		l.transactErrs = l.transactErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	if cmd == CmdQueryStatus {
		return l.status, nil
	}

	l.applyCommand(cmd)
	return l.status, nil
}

// Send 处理翻转命令
func (l *MockLink) Send(cmd byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return errors.New(errors.ErrConnection, "模拟链路未打开")
	}

	l.sendCount++

	if len(l.sendErrs) > 0 {
		err := l.sendErrs[0]
		l.sendErrs = l.sendErrs[1:]
		if err != nil {
			return err
		}
	}

	l.applyCommand(cmd)
	return nil
}

func (l *MockLink) applyCommand(cmd byte) {
	if l.ignoreToggles {
		return
	}
	for i := range switchTable {
		if switchTable[i].Command == cmd {
			l.status ^= 1 << switchTable[i].Bit
			return
		}
	}
}

// SetStatus 直接设置模拟设备的开关状态（测试用）
func (l *MockLink) SetStatus(status byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
}

// Status 返回模拟设备的开关状态（测试用）
func (l *MockLink) Status() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// SetIgnoreToggles 控制是否忽略翻转命令（测试用）
func (l *MockLink) SetIgnoreToggles(ignore bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ignoreToggles = ignore
}

// SendCount 返回已处理的翻转命令次数（测试用）
func (l *MockLink) SendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendCount
}

// TransactCount 返回已处理的查询命令次数（测试用）
func (l *MockLink) TransactCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transactCount
}

// FailOpen 注入下一次Open调用的错误
func (l *MockLink) FailOpen(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openErrs = append(l.openErrs, err)
}

// FailTransact 注入下一次Transact调用的错误
func (l *MockLink) FailTransact(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactErrs = append(l.transactErrs, err)
}

// FailSend 注入下一次Send调用的错误
func (l *MockLink) FailSend(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErrs = append(l.sendErrs, err)
}
