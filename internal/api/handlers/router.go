package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/prefs"
	"github.com/langchou/chargekeeper/internal/service"
	"github.com/langchou/chargekeeper/pkg/ws"
)

// ChargeStore 充电日志读写
type ChargeStore interface {
	Append(cycle models.ChargeCycle)
	Load(period *models.Period) []models.ChargeCycle
}

// Exporter 充电数据导出
type Exporter interface {
	Export(ctx context.Context, path string, period *models.Period) (*service.ExportResult, error)
}

// PreferenceStore 偏好设置读写
type PreferenceStore interface {
	Snapshot() prefs.Preferences
	Apply(ctx context.Context, p prefs.Patch) error
}

// StateProvider 车辆状态，未认证时为 nil
type StateProvider interface {
	CurrentState() string
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	store    ChargeStore
	exporter Exporter
	prefs    PreferenceStore
	wsHub    *ws.Hub
	upgrader websocket.Upgrader

	tracker StateProvider
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	store ChargeStore,
	exporter Exporter,
	prefs PreferenceStore,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:   logger,
		store:    store,
		exporter: exporter,
		prefs:    prefs,
		wsHub:    wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// SetStateProvider 设置车辆状态来源
func (h *Handler) SetStateProvider(p StateProvider) {
	h.tracker = p
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 充电
		api.GET("/charges", h.ListCharges)
		api.POST("/charges", h.AppendCharge)
		api.POST("/charges/export", h.ExportCharges)

		// 偏好设置
		api.GET("/preferences", h.GetPreferences)
		api.PUT("/preferences", h.UpdatePreferences)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	// Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	}
	if h.tracker != nil {
		resp["vehicle_state"] = h.tracker.CurrentState()
	}
	c.JSON(http.StatusOK, resp)
}
