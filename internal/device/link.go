package device

import (
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/switch-bridge/internal/config"
	"github.com/wfunc/switch-bridge/internal/errors"
	"github.com/wfunc/switch-bridge/internal/logger"
	"go.uber.org/zap"
)

// Link 设备链路接口
type Link interface {
	// Open 打开链路，会先关闭已有句柄
	Open() error
	// Close 关闭链路，重复关闭安全
	Close() error
	// IsOpen 检查链路是否打开
	IsOpen() bool
	// Transact 写入一个命令字节并读取一个响应字节
	Transact(cmd byte) (byte, error)
	// Send 写入一个命令字节，不等待响应
	Send(cmd byte) error
}

// SerialLink 串口链路实现
type SerialLink struct {
	cfg    *config.SerialConfig
	port   *serial.Port
	logger *zap.Logger
}

// NewSerialLink 创建串口链路
func NewSerialLink(cfg *config.SerialConfig) *SerialLink {
	return &SerialLink{
		cfg:    cfg,
		logger: logger.GetModuleLogger("serial"),
	}
}

// Open 打开串口，已有连接会先被关闭
func (l *SerialLink) Open() error {
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			l.logger.Error("关闭已有串口连接失败", zap.Error(err))
		}
		l.port = nil
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        l.cfg.ComPort,
		Baud:        l.cfg.BaudRate,
		ReadTimeout: l.cfg.ReadTimeout,
	})
	if err != nil {
		l.logger.Error("打开串口失败",
			zap.String("port", l.cfg.ComPort),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrConnection)
	}

	l.port = port
	l.logger.Info("串口连接成功",
		zap.String("port", l.cfg.ComPort),
		zap.Int("baud_rate", l.cfg.BaudRate))

	return nil
}

// Close 关闭串口，未打开时直接返回
func (l *SerialLink) Close() error {
	if l.port == nil {
		return nil
	}

	err := l.port.Close()
	l.port = nil
	if err != nil {
		l.logger.Error("关闭串口失败", zap.Error(err))
		return errors.Wrap(err, errors.ErrConnection)
	}

	l.logger.Info("串口已断开")
	return nil
}

// IsOpen 检查串口是否打开
func (l *SerialLink) IsOpen() bool {
	return l.port != nil
}

// Transact 写入一个命令字节并读取一个响应字节。
// 读取超时返回Timeout，I/O故障返回ConnectionError，其他异常返回Internal。
func (l *SerialLink) Transact(cmd byte) (byte, error) {
	if err := l.Send(cmd); err != nil {
		return 0, err
	}

	buf := make([]byte, 1)
	n, err := l.port.Read(buf)
	if err != nil {
		// 读超时在底层表现为EOF
		if err == io.EOF {
			return 0, errors.New(errors.ErrTimeout, "设备未在超时时间内响应")
		}
		return 0, classifyIOError(err)
	}
	if n == 0 {
		return 0, errors.New(errors.ErrTimeout, "设备未在超时时间内响应")
	}

	return buf[0], nil
}

// Send 写入一个命令字节，带写超时保护
func (l *SerialLink) Send(cmd byte) error {
	if l.port == nil {
		return errors.New(errors.ErrConnection, "串口未打开")
	}

	// tarm/serial不支持写超时，使用goroutine和channel实现。
	// 持有句柄的局部副本，写超时后重连把l.port置空时残留的goroutine不会解引用nil
	port := l.port
	writeCh := make(chan error, 1)
	go func() {
		_, err := port.Write([]byte{cmd})
		writeCh <- err
	}()

	select {
	case err := <-writeCh:
		if err != nil {
			return classifyIOError(err)
		}
		return nil
	case <-time.After(l.cfg.WriteTimeout):
		return errors.Newf(errors.ErrTimeout, "写入超时（%v）", l.cfg.WriteTimeout)
	}
}

// classifyIOError 将底层I/O错误归类为设备错误，分类只在链路层做一次
func classifyIOError(err error) error {
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "file already closed") ||
		strings.Contains(errStr, "permission denied") {
		return errors.Wrap(err, errors.ErrConnection)
	}
	return errors.Wrap(err, errors.ErrInternal)
}
