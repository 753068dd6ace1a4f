package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/api/kippy"
	"github.com/langchou/petgazer/internal/state"
)

// 活动统计按天汇总
const activityTimeDivisionDaily = 2

// RefreshActivities 刷新宠物当日活动统计
func (s *TrackerService) RefreshActivities(ctx context.Context, petID int64) error {
	machine, ok := s.stateManager.Get(petID)
	if !ok {
		return fmt.Errorf("unknown pet %d", petID)
	}

	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, 1)

	categories, err := s.client.GetActivityCategories(ctx, petID, from, to, activityTimeDivisionDaily)
	if err != nil {
		// 失败时保留现有活动缓存
		return fmt.Errorf("get activities: %w", err)
	}

	totals := dailyTotals(categories.Activities, now)

	machine.UpdateState(func(ts *state.TrackerState) {
		ts.Activities = totals
		ts.ActivityDate = now.Format("2006-01-02")
	})

	current := machine.GetState()
	s.notifySubscribers(current)
	s.broadcastState(current)

	s.logger.Debug("Refreshed activities",
		zap.Int64("pet_id", petID),
		zap.Int("metrics", len(totals)))
	return nil
}

// RefreshAllActivities 刷新所有宠物的活动统计
func (s *TrackerService) RefreshAllActivities(ctx context.Context) error {
	s.mu.RLock()
	petIDs := make([]int64, 0, len(s.pets))
	for petID := range s.pets {
		petIDs = append(petIDs, petID)
	}
	s.mu.RUnlock()

	for _, petID := range petIDs {
		if err := s.RefreshActivities(ctx, petID); err != nil {
			return err
		}
	}
	return nil
}

// activityRolloverLoop 跨天后刷新所有宠物的活动统计，让新一天的指标归零
func (s *TrackerService) activityRolloverLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(time.Until(midnight))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			refreshCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := s.RefreshAllActivities(refreshCtx); err != nil {
				s.logger.Error("Failed to refresh activities after day rollover", zap.Error(err))
			}
			cancel()
		}
	}
}

// dailyTotals 汇总 day 当天的各项活动指标。接口返回累计值按天分段，
// 只累加当天的条目，跨天后自然归零。
func dailyTotals(metrics []kippy.ActivityMetric, day time.Time) map[string]float64 {
	prefix := day.Format("20060102")
	totals := make(map[string]float64, len(metrics))
	for _, metric := range metrics {
		if metric.Activity == "" {
			continue
		}
		var sum float64
		for i := range metric.Data {
			entry := &metric.Data[i]
			if !strings.HasPrefix(entry.TimeCaption, prefix) {
				continue
			}
			if v, ok := entry.Numeric(); ok {
				sum += v
			}
		}
		totals[metric.Activity] = sum
	}
	return totals
}
