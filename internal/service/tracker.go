package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/api/kippy"
	"github.com/langchou/petgazer/internal/config"
	"github.com/langchou/petgazer/internal/models"
	"github.com/langchou/petgazer/internal/state"
	"github.com/langchou/petgazer/pkg/ws"
)

// 轮询基准间隔，每个追踪器的实际间隔在此基础上按状态调度
const basePollInterval = time.Second

// kippyAPI 服务依赖的 Kippy 客户端接口，便于测试注入
type kippyAPI interface {
	GetPetKippyList(ctx context.Context) ([]kippy.Pet, error)
	MapAction(ctx context.Context, kippyID int64, opts *kippy.MapActionOptions) (*kippy.MapData, error)
	GetActivityCategories(ctx context.Context, petID int64, from, to time.Time, timeDivision int) (*kippy.ActivityCategories, error)
	ModifyKippySettings(ctx context.Context, kippyID int64, update kippy.SettingsUpdate) error
}

// petStore 宠物持久化接口
type petStore interface {
	Upsert(ctx context.Context, pet *models.Pet) error
	UpdateSettings(ctx context.Context, petID int64, updateFrequency *int64, energySaving *bool, gpsOnDefault *bool) error
}

// positionStore 定位持久化接口
type positionStore interface {
	Create(ctx context.Context, pos *models.Position) error
}

// refreshSettings 单个追踪器的轮询配置
type refreshSettings struct {
	idleRefresh   time.Duration
	liveRefresh   time.Duration
	ignoreLBS     bool
	activityDelay time.Duration
}

// TrackerService 追踪器服务
type TrackerService struct {
	cfg          *config.Config
	logger       *zap.Logger
	client       kippyAPI
	petRepo      petStore
	posRepo      positionStore
	stateManager *state.Manager
	wsHub        *ws.Hub

	mu          sync.RWMutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	subscribers []chan *state.TrackerState
	running     bool

	// 宠物注册表 (petID -> pet)
	pets map[int64]*models.Pet

	// 每个追踪器的轮询调度状态
	pollIntervals map[int64]time.Duration
	lastPollTimes map[int64]time.Time
	inFlight      map[int64]bool
	settings      map[int64]*refreshSettings

	// 活动数据刷新定时器 (petID -> timer)
	activityTimers map[int64]*time.Timer
}

// NewTrackerService 创建追踪器服务
func NewTrackerService(
	cfg *config.Config,
	logger *zap.Logger,
	client kippyAPI,
	petRepo petStore,
	posRepo positionStore,
	wsHub *ws.Hub,
) *TrackerService {
	svc := &TrackerService{
		cfg:            cfg,
		logger:         logger,
		client:         client,
		petRepo:        petRepo,
		posRepo:        posRepo,
		wsHub:          wsHub,
		stopCh:         make(chan struct{}),
		pets:           make(map[int64]*models.Pet),
		pollIntervals:  make(map[int64]time.Duration),
		lastPollTimes:  make(map[int64]time.Time),
		inFlight:       make(map[int64]bool),
		settings:       make(map[int64]*refreshSettings),
		activityTimers: make(map[int64]*time.Timer),
	}

	svc.stateManager = state.NewManager(svc.onStateChange)

	return svc
}

// Start 启动服务
func (s *TrackerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Tracker service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting tracker service")

	// 同步宠物列表
	if err := s.syncPets(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("sync pets: %w", err)
	}

	// 启动轮询
	s.wg.Add(1)
	go s.pollLoop(ctx)

	// 午夜后刷新活动统计，跨天归零
	s.wg.Add(1)
	go s.activityRolloverLoop(ctx)

	s.logger.Info("Tracker service started, polling loop running")
	return nil
}

// Stop 停止服务
func (s *TrackerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	// 取消所有活动刷新定时器
	for petID, timer := range s.activityTimers {
		timer.Stop()
		delete(s.activityTimers, petID)
	}
	s.mu.Unlock()

	s.logger.Info("Stopping tracker service")

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Tracker service stopped")
}

// Subscribe 订阅状态更新
func (s *TrackerService) Subscribe() <-chan *state.TrackerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *state.TrackerState, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// GetState 获取追踪器状态
func (s *TrackerService) GetState(petID int64) (*state.TrackerState, bool) {
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return nil, false
	}
	return machine.GetState(), true
}

// GetAllStates 获取所有追踪器状态
func (s *TrackerService) GetAllStates() map[int64]*state.TrackerState {
	return s.stateManager.GetAllStates()
}

// GetPets 获取宠物注册表
func (s *TrackerService) GetPets() []*models.Pet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pets := make([]*models.Pet, 0, len(s.pets))
	for _, pet := range s.pets {
		copied := *pet
		pets = append(pets, &copied)
	}
	return pets
}

// GetPet 获取单个宠物
func (s *TrackerService) GetPet(petID int64) (*models.Pet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pet, ok := s.pets[petID]
	if !ok {
		return nil, false
	}
	copied := *pet
	return &copied, true
}

// syncPets 同步宠物列表
func (s *TrackerService) syncPets(ctx context.Context) error {
	apiPets, err := s.client.GetPetKippyList(ctx)
	if err != nil {
		return fmt.Errorf("list pets from kippy: %w", err)
	}

	seen := make(map[int64]bool, len(apiPets))
	for i := range apiPets {
		ap := &apiPets[i]
		pet := petFromAPI(ap)
		seen[pet.PetID] = true

		if s.petRepo != nil {
			if err := s.petRepo.Upsert(ctx, pet); err != nil {
				s.logger.Error("Failed to upsert pet", zap.Error(err), zap.Int64("pet_id", pet.PetID))
			}
		}

		s.mu.Lock()
		// 本地维护的待确认标记跨同步保留
		if prev, ok := s.pets[pet.PetID]; ok {
			pet.EnergySavingPending = prev.EnergySavingPending
		}
		s.pets[pet.PetID] = pet
		if _, ok := s.settings[pet.PetID]; !ok {
			s.settings[pet.PetID] = &refreshSettings{
				idleRefresh:   s.cfg.IdleRefresh,
				liveRefresh:   s.cfg.LiveRefresh,
				ignoreLBS:     s.cfg.IgnoreLBS,
				activityDelay: s.cfg.ActivityRefreshDelay,
			}
		}
		s.mu.Unlock()

		// 初始化状态机
		initial := state.StateIdle
		if pet.EnergySaving {
			initial = state.StateEnergySaving
		}
		s.stateManager.GetOrCreate(pet.PetID, pet.KippyID, initial)

		s.logger.Info("Synced pet",
			zap.String("name", pet.Name),
			zap.Int64("pet_id", pet.PetID),
			zap.Int64("kippy_id", pet.KippyID))
	}

	// 移除不再出现的宠物
	s.mu.Lock()
	var removed []int64
	for petID := range s.pets {
		if !seen[petID] {
			removed = append(removed, petID)
			delete(s.pets, petID)
			delete(s.pollIntervals, petID)
			delete(s.lastPollTimes, petID)
			delete(s.settings, petID)
			if timer, ok := s.activityTimers[petID]; ok {
				timer.Stop()
				delete(s.activityTimers, petID)
			}
		}
	}
	s.mu.Unlock()

	for _, petID := range removed {
		s.stateManager.Delete(petID)
		s.logger.Info("Removed pet no longer on account", zap.Int64("pet_id", petID))
	}

	return nil
}

// petFromAPI 把接口返回的宠物转换为本地模型
func petFromAPI(ap *kippy.Pet) *models.Pet {
	pet := &models.Pet{
		PetID:               int64(ap.PetID),
		KippyID:             ap.TrackerID(),
		Name:                ap.PetName,
		Kind:                ap.Type(),
		IMEI:                ap.KippyIMEI,
		Serial:              ap.KippySerial,
		DeviceModel:         ap.KippyType,
		Firmware:            ap.KippyFirmware,
		EnergySaving:        ap.EnergySaving.Bool(),
		FirmwareNeedUpgrade: ap.FirmwareNeedUpgrade.Bool(),
	}
	if ap.ExpiredDays != nil {
		v := ap.ExpiredDays.Int64()
		pet.ExpiredDays = &v
	}
	if ap.UpdateFrequency != nil {
		v := ap.UpdateFrequency.Int64()
		pet.UpdateFrequency = &v
	}
	if ap.GPSOnDefault != nil {
		v := ap.GPSOnDefault.Bool()
		pet.GPSOnDefault = &v
	}
	return pet
}

// pollLoop 轮询循环，基准 ticker 驱动按状态调度的间隔
func (s *TrackerService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	// 启动时立即执行一次轮询
	s.logger.Info("Performing initial poll...")
	s.pollDueTrackers(ctx)

	baseTicker := time.NewTicker(basePollInterval)
	defer baseTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-baseTicker.C:
			s.pollDueTrackers(ctx)
		}
	}
}

// pollDueTrackers 轮询所有到期的追踪器
func (s *TrackerService) pollDueTrackers(ctx context.Context) {
	s.mu.RLock()
	due := make([]*models.Pet, 0, len(s.pets))
	for _, pet := range s.pets {
		due = append(due, pet)
	}
	s.mu.RUnlock()

	now := time.Now()

	for _, pet := range due {
		// 订阅过期的设备不再轮询
		if !pet.SubscriptionActive() {
			continue
		}
		if !s.shouldPollTracker(pet.PetID) {
			continue
		}
		// 上一次轮询未完成时跳过本轮，不排队
		if !s.markInFlight(pet.PetID, now) {
			s.logger.Debug("Skipping poll, previous still in flight", zap.Int64("pet_id", pet.PetID))
			continue
		}

		s.wg.Add(1)
		go func(pet *models.Pet) {
			defer s.wg.Done()
			defer s.clearInFlight(pet.PetID)

			if err := s.pollTracker(ctx, pet); err != nil {
				s.logger.Error("Failed to poll tracker",
					zap.Error(err),
					zap.Int64("pet_id", pet.PetID),
					zap.Int64("kippy_id", pet.KippyID))
			}
			s.updateNextPollTime(pet.PetID)
		}(pet)
	}
}

// shouldPollTracker 检查追踪器是否到期
func (s *TrackerService) shouldPollTracker(petID int64) bool {
	s.mu.RLock()
	interval, intervalExists := s.pollIntervals[petID]
	lastPoll, lastPollExists := s.lastPollTimes[petID]
	s.mu.RUnlock()

	if !intervalExists || !lastPollExists {
		// 首次轮询
		return true
	}

	return time.Since(lastPoll) >= interval
}

// markInFlight 标记轮询进行中，已有轮询时返回 false
func (s *TrackerService) markInFlight(petID int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[petID] {
		return false
	}
	s.inFlight[petID] = true
	// 以发起时间计算下一次到期，保持固定节奏
	s.lastPollTimes[petID] = now
	return true
}

func (s *TrackerService) clearInFlight(petID int64) {
	s.mu.Lock()
	delete(s.inFlight, petID)
	s.mu.Unlock()
}

// pollTracker 轮询单个追踪器并更新缓存
func (s *TrackerService) pollTracker(ctx context.Context, pet *models.Pet) error {
	data, err := s.client.MapAction(ctx, pet.KippyID, nil)
	if err != nil {
		// 失败时保留现有缓存，不通知订阅者
		return fmt.Errorf("map action: %w", err)
	}

	s.applyMapData(ctx, pet.PetID, data)
	return nil
}

// applyMapData 把定位响应合并进状态机并通知订阅者
func (s *TrackerService) applyMapData(ctx context.Context, petID int64, data *kippy.MapData) {
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return
	}

	ignoreLBS := s.trackerSettings(petID).ignoreLBS

	machine.UpdateState(func(ts *state.TrackerState) {
		mergeMapData(ts, data, ignoreLBS, func(msg string) {
			s.logger.Debug(msg, zap.Int64("pet_id", petID))
		})
	})

	if data.OperatingStatus != nil {
		machine.ApplyStatus(int(*data.OperatingStatus))
		s.confirmEnergySaving(petID, int(*data.OperatingStatus))
	}

	current := machine.GetState()

	// 持久化定位记录
	if s.posRepo != nil && current.Latitude != nil && current.Longitude != nil {
		pos := positionFromState(current)
		if err := s.posRepo.Create(ctx, pos); err != nil {
			s.logger.Error("Failed to persist position", zap.Error(err), zap.Int64("pet_id", petID))
		}
	}

	// 每个轮询周期最多通知一次
	s.notifySubscribers(current)
	s.broadcastState(current)

	// 新的上报时间到达后重排活动刷新
	s.scheduleActivityRefresh(petID)
}

// confirmEnergySaving 设备上报的工作状态与已下发的省电指令一致时
// 清除待确认标记
func (s *TrackerService) confirmEnergySaving(petID int64, status int) {
	reported := status == kippy.OperatingStatusEnergySaving

	s.mu.Lock()
	defer s.mu.Unlock()

	pet, ok := s.pets[petID]
	if !ok || !pet.EnergySavingPending {
		return
	}
	if reported == pet.EnergySaving {
		pet.EnergySavingPending = false
	}
}

// mergeMapData 合并定位数据。新定位为低精度 LBS 且已有坐标时保留
// 原坐标，其余字段始终覆盖。
func mergeMapData(ts *state.TrackerState, data *kippy.MapData, ignoreLBS bool, debugf func(string)) {
	tech := data.LocalizationTechnology()

	keepCoords := ignoreLBS &&
		tech == kippy.LocalizationLBS &&
		ts.Latitude != nil && ts.Longitude != nil

	if keepCoords {
		debugf("Ignoring LBS location update, keeping cached coordinates")
	} else {
		if data.GPSLatitude != nil {
			v := data.GPSLatitude.Float64()
			ts.Latitude = &v
		}
		if data.GPSLongitude != nil {
			v := data.GPSLongitude.Float64()
			ts.Longitude = &v
		}
		if data.GPSAccuracy != nil {
			v := data.GPSAccuracy.Float64()
			ts.Accuracy = &v
		}
		if data.GPSAltitude != nil {
			v := data.GPSAltitude.Float64()
			ts.Altitude = &v
		}
		if tech != "" {
			ts.Technology = tech
		}
	}

	if data.Battery != nil {
		v := data.Battery.Float64()
		ts.Battery = &v
	}
	ts.ContactTime = unixTime(data.ContactTime, ts.ContactTime)
	ts.FixTime = unixTime(data.FixTime, ts.FixTime)
	ts.GPSTime = unixTime(data.GPSTime, ts.GPSTime)
	ts.LBSTime = unixTime(data.LBSTime, ts.LBSTime)
	ts.NextContact = unixTime(data.NextCallTime, ts.NextContact)
}

// unixTime 把秒级时间戳转换为 time.Time，缺失时保留原值
func unixTime(v *kippy.FlexInt, prev *time.Time) *time.Time {
	if v == nil || v.Int64() <= 0 {
		return prev
	}
	t := time.Unix(v.Int64(), 0).UTC()
	return &t
}

// positionFromState 从当前状态生成定位记录
func positionFromState(ts *state.TrackerState) *models.Position {
	return &models.Position{
		PetID:       ts.PetID,
		Latitude:    *ts.Latitude,
		Longitude:   *ts.Longitude,
		Accuracy:    ts.Accuracy,
		Altitude:    ts.Altitude,
		Technology:  ts.Technology,
		Battery:     ts.Battery,
		FixTime:     ts.FixTime,
		ContactTime: ts.ContactTime,
	}
}

// RefreshSettings 对外暴露的轮询配置
type RefreshSettings struct {
	IdleRefresh   time.Duration `json:"idle_refresh"`
	LiveRefresh   time.Duration `json:"live_refresh"`
	ActivityDelay time.Duration `json:"activity_delay"`
	IgnoreLBS     bool          `json:"ignore_lbs"`
}

// GetRefreshSettings 获取追踪器的轮询配置
func (s *TrackerService) GetRefreshSettings(petID int64) (RefreshSettings, bool) {
	s.mu.RLock()
	cfg, ok := s.settings[petID]
	if !ok {
		s.mu.RUnlock()
		return RefreshSettings{}, false
	}
	out := RefreshSettings{
		IdleRefresh:   cfg.idleRefresh,
		LiveRefresh:   cfg.liveRefresh,
		ActivityDelay: cfg.activityDelay,
		IgnoreLBS:     cfg.ignoreLBS,
	}
	s.mu.RUnlock()
	return out, true
}

// trackerSettings 获取追踪器的轮询配置
func (s *TrackerService) trackerSettings(petID int64) refreshSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.settings[petID]; ok {
		return *cfg
	}
	return refreshSettings{
		idleRefresh:   s.cfg.IdleRefresh,
		liveRefresh:   s.cfg.LiveRefresh,
		ignoreLBS:     s.cfg.IgnoreLBS,
		activityDelay: s.cfg.ActivityRefreshDelay,
	}
}

// updateNextPollTime 按当前状态更新轮询间隔
func (s *TrackerService) updateNextPollTime(petID int64) {
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return
	}

	cfg := s.trackerSettings(petID)

	var newInterval time.Duration
	switch machine.CurrentState() {
	case state.StateLive:
		// 实时追踪：高频轮询
		newInterval = cfg.liveRefresh
	default:
		// 待机/省电：低频轮询，节奏固定不退避
		newInterval = cfg.idleRefresh
	}

	s.mu.Lock()
	s.pollIntervals[petID] = newInterval
	s.mu.Unlock()
}

// triggerImmediatePoll 让追踪器在下一个基准 tick 立即轮询
func (s *TrackerService) triggerImmediatePoll(petID int64) {
	s.mu.Lock()
	s.pollIntervals[petID] = 0
	s.lastPollTimes[petID] = time.Time{}
	s.mu.Unlock()

	s.logger.Debug("Triggered immediate poll", zap.Int64("pet_id", petID))
}

// onStateChange 状态机回调
func (s *TrackerService) onStateChange(petID int64, from, to string) {
	s.logger.Info("Tracker state changed",
		zap.Int64("pet_id", petID),
		zap.String("from", from),
		zap.String("to", to))
}

// notifySubscribers 通知订阅者（内部 channel 订阅者）
func (s *TrackerService) notifySubscribers(ts *state.TrackerState) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- ts:
		default:
			// 跳过慢消费者
		}
	}
}

// broadcastState 通过 WebSocket 广播状态
func (s *TrackerService) broadcastState(ts *state.TrackerState) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastStateUpdate(ts)
}
