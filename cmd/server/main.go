package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/chargekeeper/internal/api/handlers"
	"github.com/langchou/chargekeeper/internal/api/tesla"
	"github.com/langchou/chargekeeper/internal/config"
	"github.com/langchou/chargekeeper/internal/mailer"
	"github.com/langchou/chargekeeper/internal/metrics"
	"github.com/langchou/chargekeeper/internal/models"
	"github.com/langchou/chargekeeper/internal/prefs"
	"github.com/langchou/chargekeeper/internal/repository"
	"github.com/langchou/chargekeeper/internal/service"
	"github.com/langchou/chargekeeper/internal/state"
	"github.com/langchou/chargekeeper/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting ChargeKeeper", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Register(prometheus.DefaultRegisterer)

	// 创建 Tesla API 客户端
	teslaClient := tesla.NewClient(cfg.TeslaAuthHost, cfg.TeslaAPIHost, cfg.TeslaClientID)

	// 加载 Token（如果存在）
	if err := loadToken(cfg.TokenFile, teslaClient); err != nil {
		logger.Warn("No existing token found, please authenticate", zap.Error(err))
	}

	// 确定车辆
	car := models.Car{VIN: cfg.VIN, BatteryType: "Unknown"}
	initialState := state.StateOffline
	if teslaClient.GetToken() != nil {
		vehicle, err := teslaClient.FindVehicle(ctx, cfg.VIN)
		if err != nil {
			logger.Warn("Failed to look up vehicle", zap.Error(err))
		} else {
			car.TeslaID = vehicle.ID
			car.VIN = vehicle.VIN
			car.Name = vehicle.DisplayName
			car.BatteryType = vehicle.BatteryType()
			initialState = vehicle.State
		}
	}
	if cfg.BatteryType != "" {
		car.BatteryType = cfg.BatteryType
	}
	if car.VIN == "" {
		logger.Fatal("Vehicle VIN unknown, set VIN or authenticate first")
	}

	// 偏好设置，配置了数据库时持久化到 PostgreSQL，否则保存在数据目录
	var backend prefs.Backend = prefs.NewFileBackend(filepath.Join(cfg.DataDir, car.VIN+".prefs.json"))
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")
		backend = repository.NewSettingsRepository(db, car.VIN)
	}

	prefStore, err := prefs.New(ctx, backend, prefs.Defaults{
		SubmitAnonData: cfg.SubmitAnonData,
		IncludeLocData: cfg.IncludeLocData,
		DitherAmount:   cfg.DitherAmount,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to load preferences", zap.Error(err))
	}
	if car.UUID, err = prefStore.VehicleUUID(ctx); err != nil {
		logger.Fatal("Failed to create vehicle uuid", zap.Error(err))
	}

	// 打开充电日志
	store, err := repository.OpenChargeLog(car.VIN, cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to open charge log", zap.Error(err))
	}
	logger.Info("Charge log opened", zap.String("path", store.Path()))

	// 邮件发送
	var m mailer.Mailer
	mailCtx, mailCancel := context.WithCancel(context.Background())
	var mailWG sync.WaitGroup
	if cfg.SMTPHost != "" {
		smtp := mailer.NewSMTPMailer(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
		mailWG.Add(1)
		go func() {
			defer mailWG.Done()
			smtp.Run(mailCtx)
		}()
		m = smtp
	} else {
		logger.Info("SMTP not configured, charge submissions are only logged")
		m = mailer.NewLogMailer(logger)
	}

	seed := uint64(time.Now().UnixNano())
	submitter := service.NewSubmitter(logger, prefStore, m, car, rand.New(rand.NewPCG(seed, seed>>1)))

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 新记录写入后提交匿名数据并推送到 WebSocket
	store.OnAppend(submitter.Submit)
	store.OnAppend(wsHub.BroadcastChargeCycle)

	tracker := &trackerHolder{}
	wsHub.SetInitDataProvider(func() *ws.InitData {
		data := &ws.InitData{State: tracker.CurrentState()}
		if charges := store.Load(nil); len(charges) > 0 {
			data.LastCharge = &charges[len(charges)-1]
		}
		return data
	})

	trackerCfg := service.TrackerConfig{
		PollIntervalOnline:   cfg.PollIntervalOnline,
		PollIntervalAsleep:   cfg.PollIntervalAsleep,
		PollIntervalCharging: cfg.PollIntervalCharging,
	}
	startTracker := func(vehicleID int64, initial string) {
		tracker.start(ctx, service.NewChargeTracker(trackerCfg, logger, teslaClient, store, vehicleID, initial))
	}
	if car.TeslaID != 0 {
		startTracker(car.TeslaID, initialState)
	}

	exporter := service.NewExportService(logger, store, prefStore, cfg.ExportDir, time.Local)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, store, exporter, prefStore, wsHub)
	handler.SetStateProvider(tracker)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 添加认证路由
	router.POST("/api/auth/token", func(c *gin.Context) {
		var req struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		token := &tesla.Token{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			CreatedAt:    time.Now(),
			ExpiresIn:    3600 * 8, // 8 小时
		}
		teslaClient.SetToken(token)

		// 保存 token
		if err := saveToken(cfg.TokenFile, token); err != nil {
			logger.Error("Failed to save token", zap.Error(err))
		}

		// 启动充电识别
		if !tracker.running() {
			vehicle, err := teslaClient.FindVehicle(c.Request.Context(), car.VIN)
			if err != nil {
				logger.Error("Failed to look up vehicle", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start service"})
				return
			}
			startTracker(vehicle.ID, vehicle.State)
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	shutdown(shutdownCtx, logger, server, tracker, store, func() {
		mailCancel()
		mailWG.Wait()
	})

	// 保存 token
	if token := teslaClient.GetToken(); token != nil {
		if err := saveToken(cfg.TokenFile, token); err != nil {
			logger.Error("Failed to save token", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// shutdown 按顺序停止：HTTP 服务、轮询、充电日志、邮件队列
// 先停 HTTP 服务，进行中的写入在日志关闭前完成
func shutdown(ctx context.Context, logger *zap.Logger, server interface{ Shutdown(context.Context) error }, tracker interface{ stop() }, store interface{ Close() error }, drainMail func()) {
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	tracker.stop()
	if err := store.Close(); err != nil {
		logger.Error("Failed to close charge log", zap.Error(err))
	}

	// 发送队列中剩余的邮件
	drainMail()
}

// trackerHolder 认证前 tracker 为空，认证后才创建
type trackerHolder struct {
	mu      sync.Mutex
	tracker *service.ChargeTracker
}

func (h *trackerHolder) start(ctx context.Context, t *service.ChargeTracker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tracker != nil {
		return
	}
	h.tracker = t
	t.Start(ctx)
}

func (h *trackerHolder) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tracker != nil
}

func (h *trackerHolder) stop() {
	h.mu.Lock()
	t := h.tracker
	h.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// CurrentState 未认证时返回 offline
func (h *trackerHolder) CurrentState() string {
	h.mu.Lock()
	t := h.tracker
	h.mu.Unlock()
	if t == nil {
		return state.StateOffline
	}
	return t.CurrentState()
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loadToken 加载 token
func loadToken(filename string, client *tesla.Client) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}

	var token tesla.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("decode token file: %w", err)
	}

	client.SetToken(&token)
	return nil
}

// saveToken 保存 token
func saveToken(filename string, token *tesla.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600)
}
