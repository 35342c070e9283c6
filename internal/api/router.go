package api

import (
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/switch-bridge/internal/config"
	"github.com/wfunc/switch-bridge/internal/device"
	ws "github.com/wfunc/switch-bridge/internal/websocket"
	"go.uber.org/zap"
)

// Router API路由器
type Router struct {
	engine        *gin.Engine
	cfg           *config.Config
	deviceHandler *DeviceHandler
	wsHandler     *WebSocketHandler
	log           *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(cfg *config.Config, manager *device.DeviceStateManager, hub *ws.Hub, log *zap.Logger) *Router {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine:        engine,
		cfg:           cfg,
		deviceHandler: NewDeviceHandler(manager, log),
		wsHandler:     NewWebSocketHandler(hub, log),
		log:           log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// 设备API
	api := r.engine.Group("/api")
	{
		api.GET("/status", r.deviceHandler.GetStatus)
		api.POST("/set_switch", r.deviceHandler.SetSwitch)
	}

	// WebSocket路由
	r.engine.GET(r.cfg.WebSocket.Path, r.wsHandler.Subscribe)

	// Swagger文档（仅在 -tags swagger 时启用）
	registerSwaggerRoutes(r.engine)

	// 静态文件服务
	staticDir := r.cfg.Server.StaticDir
	r.engine.Static("/static", staticDir)
	r.engine.StaticFile("/", filepath.Join(staticDir, "index.html"))

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	state := r.deviceHandler.manager.State()

	c.JSON(200, gin.H{
		"status":       "healthy",
		"device_state": state.String(),
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
