package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/petgazer/internal/api/handlers"
	"github.com/langchou/petgazer/internal/api/kippy"
	"github.com/langchou/petgazer/internal/config"
	"github.com/langchou/petgazer/internal/repository"
	"github.com/langchou/petgazer/internal/service"
	"github.com/langchou/petgazer/pkg/ws"
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

	logger.Info("Starting Petgazer", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	petRepo := repository.NewPetRepository(db)
	posRepo := repository.NewPositionRepository(db)

	// 创建 Kippy API 客户端
	kippyClient := kippy.NewClient(cfg.KippyHost, cfg.KippyEmail, cfg.KippyPassword, logger)

	// 启动前验证凭据
	if err := kippyClient.Login(ctx, false); err != nil {
		logger.Fatal("Failed to authenticate with Kippy", zap.Error(err))
	}
	logger.Info("Authenticated with Kippy")

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)

	// 创建追踪器服务
	trackerService := service.NewTrackerService(
		cfg,
		logger,
		kippyClient,
		petRepo,
		posRepo,
		wsHub,
	)

	// 新连接的初始数据：宠物列表和当前状态
	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Pets:   trackerService.GetPets(),
			States: trackerService.GetAllStates(),
		}
	})
	go wsHub.Run()

	// 启动追踪器服务
	if err := trackerService.Start(ctx); err != nil {
		logger.Fatal("Failed to start tracker service", zap.Error(err))
	}

	// 订阅状态更新写入日志
	go func() {
		stateCh := trackerService.Subscribe()
		for ts := range stateCh {
			logger.Debug("Tracker state updated",
				zap.Int64("pet_id", ts.PetID),
				zap.String("state", ts.CurrentState))
		}
	}()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		petRepo,
		posRepo,
		trackerService,
		wsHub,
	)

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

	// 停止服务
	trackerService.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
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
