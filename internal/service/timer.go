package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// scheduleActivityRefresh 在设备下次预计上报后安排一次活动和定位刷新。
// 刷新时间点为 contact_time + update_frequency 小时 + 配置的延迟，
// 已经过去时改为当前时间加延迟。
func (s *TrackerService) scheduleActivityRefresh(petID int64) {
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return
	}

	pet, ok := s.GetPet(petID)
	if !ok || pet.UpdateFrequency == nil {
		return
	}

	ts := machine.GetState()
	if ts.ContactTime == nil {
		return
	}

	delay := s.trackerSettings(petID).activityDelay
	when := ts.ContactTime.Add(time.Duration(*pet.UpdateFrequency)*time.Hour + delay)
	now := time.Now()
	if !when.After(now) {
		when = now.Add(delay)
	}

	s.mu.Lock()
	if timer, exists := s.activityTimers[petID]; exists {
		timer.Stop()
	}
	if !s.running {
		delete(s.activityTimers, petID)
		s.mu.Unlock()
		return
	}
	s.activityTimers[petID] = time.AfterFunc(time.Until(when), func() {
		s.handleActivityTimer(petID)
	})
	s.mu.Unlock()

	s.logger.Debug("Scheduled activity refresh",
		zap.Int64("pet_id", petID),
		zap.Time("at", when))
}

// handleActivityTimer 定时器触发后刷新活动数据并安排立即轮询
func (s *TrackerService) handleActivityTimer(petID int64) {
	s.mu.Lock()
	delete(s.activityTimers, petID)
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.RefreshActivities(ctx, petID); err != nil {
		s.logger.Error("Scheduled activity refresh failed",
			zap.Error(err),
			zap.Int64("pet_id", petID))
	}
	s.triggerImmediatePoll(petID)
}
