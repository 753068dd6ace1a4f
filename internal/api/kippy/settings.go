package kippy

import (
	"context"
	"math"
)

// SettingsUpdate 追踪器设置变更，nil 字段保持不变
type SettingsUpdate struct {
	UpdateFrequency  *float64 // 设备上报间隔，单位小时
	GPSOnDefault     *bool
	EnergySavingMode *bool
}

// ModifyKippySettings 修改追踪器设置
func (c *Client) ModifyKippySettings(ctx context.Context, kippyID int64, update SettingsUpdate) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	payload := map[string]any{
		"app_code":              c.auth.AppCode,
		"app_verification_code": c.auth.AppVerificationCode,
		"app_identity":          appIdentity,
		"modify_kippy_id":       kippyID,
	}
	c.mu.Unlock()

	if update.UpdateFrequency != nil {
		// 接口只接受一位小数
		payload["update_frequency"] = math.Round(*update.UpdateFrequency*10) / 10
	}
	if update.GPSOnDefault != nil {
		payload["gps_on_default"] = *update.GPSOnDefault
	}
	if update.EnergySavingMode != nil {
		v := 0
		if *update.EnergySavingMode {
			v = 1
		}
		payload["energy_saving_mode"] = v
	}

	_, err := c.postWithRefresh(ctx, modifySettingsPath, payload)
	return err
}

// ptr helpers

func Float64Ptr(v float64) *float64 { return &v }
func BoolPtr(v bool) *bool          { return &v }
func IntPtr(v int) *int             { return &v }
