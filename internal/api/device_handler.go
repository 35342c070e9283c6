package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/switch-bridge/internal/device"
	"github.com/wfunc/switch-bridge/internal/errors"
	"go.uber.org/zap"
)

// DeviceHandler 设备API处理器
type DeviceHandler struct {
	manager *device.DeviceStateManager
	logger  *zap.Logger
}

// NewDeviceHandler 创建设备API处理器
func NewDeviceHandler(manager *device.DeviceStateManager, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		manager: manager,
		logger:  logger,
	}
}

// GetStatus 查询开关状态
// GET /api/status?update=true|false
// 不带update参数时返回缓存状态，带update=true时向设备发起一次即时查询
func (h *DeviceHandler) GetStatus(c *gin.Context) {
	update := strings.EqualFold(c.Query("update"), "true")

	if !update {
		snapshot := h.manager.GetCachedStatus()
		c.JSON(200, gin.H{
			"status": "success",
			"data":   snapshot.ToMap(),
		})
		return
	}

	snapshot, err := h.manager.RefreshStatus()
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"status": "success",
		"data":   snapshot.ToMap(),
	})
}

// SetSwitch 设置开关状态
// POST /api/set_switch?switch=Alpha:1&switch=Bravo:0
func (h *DeviceHandler) SetSwitch(c *gin.Context) {
	params := c.QueryArray("switch")
	if len(params) == 0 {
		h.respondError(c, errors.New(errors.ErrInvalidOperation, "缺少switch参数"))
		return
	}

	requested := make(map[string]bool, len(params))
	for _, param := range params {
		name, state, ok := parseSwitchParam(param)
		if !ok {
			h.respondError(c, errors.Newf(errors.ErrInvalidOperation,
				"无效的switch参数: %s", param))
			return
		}
		requested[name] = state
	}

	snapshot, err := h.manager.SetSwitchStates(requested)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"status": "success",
		"data":   snapshot.ToMap(),
	})
}

// parseSwitchParam 解析"名称:0|1"形式的参数
func parseSwitchParam(param string) (name string, state bool, ok bool) {
	parts := strings.SplitN(param, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", false, false
	}

	switch parts[1] {
	case "0":
		return parts[0], false, true
	case "1":
		return parts[0], true, true
	default:
		return "", false, false
	}
}

// respondError 将设备错误翻译为HTTP响应。
// 错误在这里记录一次日志，核心层不重复记录仅被返回的错误。
func (h *DeviceHandler) respondError(c *gin.Context, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrInternal)
	}

	h.logger.Error("设备操作失败",
		zap.String("path", c.Request.URL.Path),
		zap.String("error_code", appErr.Label()),
		zap.Error(appErr))

	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr))
}
