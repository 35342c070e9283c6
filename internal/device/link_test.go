package device

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/switch-bridge/internal/config"
	"github.com/wfunc/switch-bridge/internal/errors"
)

// TestSerialLinkClosedHandle 测试句柄未打开时的行为
func TestSerialLinkClosedHandle(t *testing.T) {
	link := NewSerialLink(&config.SerialConfig{
		ComPort:      "/dev/ttyUSB0",
		BaudRate:     9600,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	assert.False(t, link.IsOpen())

	// 未打开时写入立即失败，不派生写goroutine
	err := link.Send(EncodeQuery())
	assert.True(t, errors.Is(err, errors.ErrConnection))

	_, err = link.Transact(EncodeQuery())
	assert.True(t, errors.Is(err, errors.ErrConnection))

	// 重复关闭安全
	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())
}

// TestClassifyIOError 测试I/O错误分类
func TestClassifyIOError(t *testing.T) {
	connectionErrs := []string{
		"read /dev/ttyUSB0: input/output error",
		"read /dev/cu.usbserial: device not configured",
		"write /dev/ttyUSB0: broken pipe",
		"open /dev/ttyUSB0: no such file or directory",
		"read /dev/ttyUSB0: file already closed",
		"open /dev/ttyUSB0: permission denied",
	}
	for _, msg := range connectionErrs {
		err := classifyIOError(stderrors.New(msg))
		assert.True(t, errors.Is(err, errors.ErrConnection), "错误 %q 应归类为连接错误", msg)
	}

	// 未识别的故障归类为内部错误
	err := classifyIOError(stderrors.New("unexpected fault"))
	assert.True(t, errors.Is(err, errors.ErrInternal))
}
