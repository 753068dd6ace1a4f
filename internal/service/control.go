package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/api/kippy"
	"github.com/langchou/petgazer/internal/state"
)

// 错误定义
var (
	ErrPetNotFound      = fmt.Errorf("pet not found")
	ErrEnergySavingMode = fmt.Errorf("live tracking unavailable in energy saving mode")
	ErrInvalidValue     = fmt.Errorf("invalid value")
)

// 设备上报间隔允许范围 (小时)
const (
	minUpdateFrequencyHours = 1
	maxUpdateFrequencyHours = 24
)

// SetLiveTracking 开启或关闭实时追踪
func (s *TrackerService) SetLiveTracking(ctx context.Context, petID int64, on bool) error {
	pet, ok := s.GetPet(petID)
	if !ok {
		return ErrPetNotFound
	}
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return ErrPetNotFound
	}

	// 省电模式下设备不响应实时追踪指令
	if machine.CurrentState() == state.StateEnergySaving {
		return ErrEnergySavingMode
	}

	action := kippy.AppActionLiveOff
	if on {
		action = kippy.AppActionLiveOn
	}

	data, err := s.client.MapAction(ctx, pet.KippyID, &kippy.MapActionOptions{AppAction: &action})
	if err != nil {
		// 失败时缓存保持原状
		return fmt.Errorf("set live tracking: %w", err)
	}

	s.applyMapData(ctx, petID, data)

	// 设备可能尚未上报新状态，按指令结果推进状态机
	forced := false
	if on && machine.CurrentState() == state.StateIdle {
		if err := machine.Trigger(state.EventStartLive); err != nil {
			s.logger.Warn("Failed to force live state", zap.Error(err), zap.Int64("pet_id", petID))
		} else {
			forced = true
		}
	}
	if !on && machine.CurrentState() == state.StateLive {
		if err := machine.Trigger(state.EventStopLive); err != nil {
			s.logger.Warn("Failed to force idle state", zap.Error(err), zap.Int64("pet_id", petID))
		} else {
			forced = true
		}
	}

	// applyMapData 已按上报数据通知过一次，强制推进后再补一次
	if forced {
		current := machine.GetState()
		s.notifySubscribers(current)
		s.broadcastState(current)
	}

	s.updateNextPollTime(petID)
	return nil
}

// SetEnergySaving 开启或关闭省电模式
func (s *TrackerService) SetEnergySaving(ctx context.Context, petID int64, on bool) error {
	pet, ok := s.GetPet(petID)
	if !ok {
		return ErrPetNotFound
	}

	err := s.client.ModifyKippySettings(ctx, pet.KippyID, kippy.SettingsUpdate{
		EnergySavingMode: kippy.BoolPtr(on),
	})
	if err != nil {
		return fmt.Errorf("set energy saving: %w", err)
	}

	s.mu.Lock()
	if cached, ok := s.pets[petID]; ok {
		cached.EnergySaving = on
		// 下一次轮询确认设备状态前标记为待确认
		cached.EnergySavingPending = true
	}
	s.mu.Unlock()

	if s.petRepo != nil {
		if pErr := s.persistSettings(ctx, petID, nil, &on, nil); pErr != nil {
			s.logger.Error("Failed to persist energy saving", zap.Error(pErr), zap.Int64("pet_id", petID))
		}
	}

	if machine, ok := s.stateManager.Get(petID); ok {
		if on {
			machine.ApplyStatus(kippy.OperatingStatusEnergySaving)
		} else if machine.CurrentState() == state.StateEnergySaving {
			if err := machine.Trigger(state.EventExitEnergySaving); err != nil {
				s.logger.Warn("Failed to exit energy saving", zap.Error(err), zap.Int64("pet_id", petID))
			}
		}
		s.notifySubscribers(machine.GetState())
		s.broadcastState(machine.GetState())
	}

	s.updateNextPollTime(petID)
	return nil
}

// SetGPSOnDefault 设置 GPS 默认开关
func (s *TrackerService) SetGPSOnDefault(ctx context.Context, petID int64, on bool) error {
	pet, ok := s.GetPet(petID)
	if !ok {
		return ErrPetNotFound
	}

	err := s.client.ModifyKippySettings(ctx, pet.KippyID, kippy.SettingsUpdate{
		GPSOnDefault: kippy.BoolPtr(on),
	})
	if err != nil {
		return fmt.Errorf("set gps on default: %w", err)
	}

	s.mu.Lock()
	if cached, ok := s.pets[petID]; ok {
		v := on
		cached.GPSOnDefault = &v
	}
	s.mu.Unlock()

	if s.petRepo != nil {
		if pErr := s.persistSettings(ctx, petID, nil, nil, &on); pErr != nil {
			s.logger.Error("Failed to persist gps default", zap.Error(pErr), zap.Int64("pet_id", petID))
		}
	}
	return nil
}

// SetUpdateFrequency 设置设备上报间隔 (小时)
func (s *TrackerService) SetUpdateFrequency(ctx context.Context, petID int64, hours int64) error {
	if hours < minUpdateFrequencyHours || hours > maxUpdateFrequencyHours {
		return fmt.Errorf("update frequency %d out of range [%d, %d]: %w",
			hours, minUpdateFrequencyHours, maxUpdateFrequencyHours, ErrInvalidValue)
	}

	pet, ok := s.GetPet(petID)
	if !ok {
		return ErrPetNotFound
	}

	err := s.client.ModifyKippySettings(ctx, pet.KippyID, kippy.SettingsUpdate{
		UpdateFrequency: kippy.Float64Ptr(float64(hours)),
	})
	if err != nil {
		return fmt.Errorf("set update frequency: %w", err)
	}

	s.mu.Lock()
	if cached, ok := s.pets[petID]; ok {
		v := hours
		cached.UpdateFrequency = &v
	}
	s.mu.Unlock()

	if s.petRepo != nil {
		if pErr := s.persistSettings(ctx, petID, &hours, nil, nil); pErr != nil {
			s.logger.Error("Failed to persist update frequency", zap.Error(pErr), zap.Int64("pet_id", petID))
		}
	}

	// 上报间隔变更后重排活动刷新
	s.scheduleActivityRefresh(petID)
	return nil
}

// persistSettings 把设置变更写入仓库
func (s *TrackerService) persistSettings(ctx context.Context, petID int64, freq *int64, energySaving, gpsOnDefault *bool) error {
	return s.petRepo.UpdateSettings(ctx, petID, freq, energySaving, gpsOnDefault)
}

// SetIdleRefresh 设置待机轮询间隔
func (s *TrackerService) SetIdleRefresh(petID int64, d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("idle refresh %s too small: %w", d, ErrInvalidValue)
	}
	return s.updateRefreshSettings(petID, func(cfg *refreshSettings) {
		cfg.idleRefresh = d
	})
}

// SetLiveRefresh 设置实时追踪轮询间隔
func (s *TrackerService) SetLiveRefresh(petID int64, d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("live refresh %s too small: %w", d, ErrInvalidValue)
	}
	return s.updateRefreshSettings(petID, func(cfg *refreshSettings) {
		cfg.liveRefresh = d
	})
}

// SetIgnoreLBS 设置是否忽略低精度 LBS 定位
func (s *TrackerService) SetIgnoreLBS(petID int64, ignore bool) error {
	return s.updateRefreshSettings(petID, func(cfg *refreshSettings) {
		cfg.ignoreLBS = ignore
	})
}

// SetActivityDelay 设置活动刷新延迟
func (s *TrackerService) SetActivityDelay(petID int64, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("activity delay %s negative: %w", d, ErrInvalidValue)
	}
	if err := s.updateRefreshSettings(petID, func(cfg *refreshSettings) {
		cfg.activityDelay = d
	}); err != nil {
		return err
	}
	s.scheduleActivityRefresh(petID)
	return nil
}

func (s *TrackerService) updateRefreshSettings(petID int64, apply func(cfg *refreshSettings)) error {
	s.mu.Lock()
	cfg, ok := s.settings[petID]
	if !ok {
		s.mu.Unlock()
		return ErrPetNotFound
	}
	apply(cfg)
	s.mu.Unlock()

	// 间隔变更立即生效
	s.updateNextPollTime(petID)
	return nil
}

// RequestRefresh 请求立即刷新定位
func (s *TrackerService) RequestRefresh(petID int64) error {
	if _, ok := s.GetPet(petID); !ok {
		return ErrPetNotFound
	}
	s.triggerImmediatePoll(petID)
	return nil
}

// RefreshPets 重新同步宠物列表
func (s *TrackerService) RefreshPets(ctx context.Context) error {
	return s.syncPets(ctx)
}
