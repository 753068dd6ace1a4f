package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/entity"
	"github.com/langchou/petgazer/internal/repository"
	"github.com/langchou/petgazer/internal/service"
	"github.com/langchou/petgazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	petRepo        *repository.PetRepository
	posRepo        *repository.PositionRepository
	trackerService *service.TrackerService
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	petRepo *repository.PetRepository,
	posRepo *repository.PositionRepository,
	trackerService *service.TrackerService,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		petRepo:        petRepo,
		posRepo:        posRepo,
		trackerService: trackerService,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 宠物
		api.GET("/pets", h.ListPets)
		api.GET("/pets/:id", h.GetPet)
		api.GET("/pets/:id/state", h.GetPetState)
		api.GET("/pets/:id/entities", h.GetPetEntities)
		api.GET("/pets/:id/activity", h.GetPetActivity)
		api.GET("/pets/:id/positions", h.ListPetPositions)

		// 刷新
		api.POST("/pets/refresh", h.RefreshPets)
		api.POST("/pets/:id/refresh", h.RequestRefresh)
		api.POST("/pets/:id/activities/refresh", h.RefreshActivities)

		// 控制
		api.POST("/pets/:id/live", h.SetLiveTracking)
		api.POST("/pets/:id/energy-saving", h.SetEnergySaving)
		api.POST("/pets/:id/gps-default", h.SetGPSOnDefault)

		// 配置
		api.PUT("/pets/:id/settings", h.UpdateSettings)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

func (h *Handler) petID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pet ID"})
		return 0, false
	}
	return id, true
}

// ListPets 获取宠物列表
func (h *Handler) ListPets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.trackerService.GetPets()})
}

// GetPet 获取宠物详情
func (h *Handler) GetPet(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	pet, ok := h.trackerService.GetPet(id)
	if !ok {
		// 不在注册表时回退到数据库，历史宠物仍可查询
		stored, err := h.petRepo.GetByPetID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": stored})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pet})
}

// GetPetState 获取追踪器实时状态
func (h *Handler) GetPetState(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	ts, ok := h.trackerService.GetState(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ts})
}

// GetPetEntities 获取宠物的派生实体列表
func (h *Handler) GetPetEntities(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	pet, ok := h.trackerService.GetPet(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
		return
	}
	ts, ok := h.trackerService.GetState(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
		return
	}
	cfg, _ := h.trackerService.GetRefreshSettings(id)

	c.JSON(http.StatusOK, gin.H{"data": entity.Build(pet, ts, cfg)})
}

// GetPetActivity 获取宠物当日活动统计
func (h *Handler) GetPetActivity(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	ts, ok := h.trackerService.GetState(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"date":       ts.ActivityDate,
		"activities": ts.Activities,
	}})
}

// ListPetPositions 分页获取定位历史
func (h *Handler) ListPetPositions(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	positions, err := h.posRepo.ListByPet(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list positions", zap.Error(err), zap.Int64("pet_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// RefreshPets 重新同步宠物列表
// POST /api/pets/refresh
func (h *Handler) RefreshPets(c *gin.Context) {
	if err := h.trackerService.RefreshPets(c.Request.Context()); err != nil {
		h.logger.Error("Failed to refresh pets", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Pets refreshed"})
}

// RequestRefresh 请求立即刷新定位
// POST /api/pets/:id/refresh
func (h *Handler) RequestRefresh(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	if err := h.trackerService.RequestRefresh(id); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Refresh scheduled",
		"pet_id":  id,
	})
}

// RefreshActivities 立即刷新活动统计
// POST /api/pets/:id/activities/refresh
func (h *Handler) RefreshActivities(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	if err := h.trackerService.RefreshActivities(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to refresh activities", zap.Error(err), zap.Int64("pet_id", id))
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Activities refreshed",
		"pet_id":  id,
	})
}

// switchRequest 开关类请求体
type switchRequest struct {
	On bool `json:"on"`
}

// SetLiveTracking 开启或关闭实时追踪
// POST /api/pets/:id/live
func (h *Handler) SetLiveTracking(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.trackerService.SetLiveTracking(c.Request.Context(), id, req.On); err != nil {
		h.logger.Error("Failed to set live tracking", zap.Error(err), zap.Int64("pet_id", id))
		h.respondServiceError(c, err)
		return
	}

	h.logger.Info("Live tracking changed via API", zap.Int64("pet_id", id), zap.Bool("on", req.On))
	c.JSON(http.StatusOK, gin.H{
		"message": "Live tracking updated",
		"pet_id":  id,
		"on":      req.On,
	})
}

// SetEnergySaving 开启或关闭省电模式
// POST /api/pets/:id/energy-saving
func (h *Handler) SetEnergySaving(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.trackerService.SetEnergySaving(c.Request.Context(), id, req.On); err != nil {
		h.logger.Error("Failed to set energy saving", zap.Error(err), zap.Int64("pet_id", id))
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Energy saving updated",
		"pet_id":  id,
		"on":      req.On,
	})
}

// SetGPSOnDefault 设置 GPS 默认开关
// POST /api/pets/:id/gps-default
func (h *Handler) SetGPSOnDefault(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.trackerService.SetGPSOnDefault(c.Request.Context(), id, req.On); err != nil {
		h.logger.Error("Failed to set gps default", zap.Error(err), zap.Int64("pet_id", id))
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "GPS default updated",
		"pet_id":  id,
		"on":      req.On,
	})
}

// settingsRequest 配置更新请求体，nil 字段不变
type settingsRequest struct {
	UpdateFrequencyHours *int64 `json:"update_frequency_hours"`
	IdleRefreshSeconds   *int64 `json:"idle_refresh_seconds"`
	LiveRefreshSeconds   *int64 `json:"live_refresh_seconds"`
	ActivityDelayMinutes *int64 `json:"activity_delay_minutes"`
	IgnoreLBS            *bool  `json:"ignore_lbs"`
}

// UpdateSettings 更新追踪器配置
// PUT /api/pets/:id/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := h.petID(c)
	if !ok {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.UpdateFrequencyHours != nil {
		if err := h.trackerService.SetUpdateFrequency(c.Request.Context(), id, *req.UpdateFrequencyHours); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	if req.IdleRefreshSeconds != nil {
		if err := h.trackerService.SetIdleRefresh(id, time.Duration(*req.IdleRefreshSeconds)*time.Second); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	if req.LiveRefreshSeconds != nil {
		if err := h.trackerService.SetLiveRefresh(id, time.Duration(*req.LiveRefreshSeconds)*time.Second); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	if req.ActivityDelayMinutes != nil {
		if err := h.trackerService.SetActivityDelay(id, time.Duration(*req.ActivityDelayMinutes)*time.Minute); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	if req.IgnoreLBS != nil {
		if err := h.trackerService.SetIgnoreLBS(id, *req.IgnoreLBS); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}

	cfg, _ := h.trackerService.GetRefreshSettings(id)
	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

// respondServiceError 把服务层错误映射为 HTTP 状态码
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Pet not found"})
	case errors.Is(err, service.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEnergySavingMode):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// HandleWebSocket WebSocket 连接升级
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
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
