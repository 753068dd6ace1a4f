package models

import "time"

// Pet 宠物及其绑定的追踪器
type Pet struct {
	ID              int64     `json:"id" db:"id"`
	PetID           int64     `json:"pet_id" db:"pet_id"`
	KippyID         int64     `json:"kippy_id" db:"kippy_id"`
	Name            string    `json:"name" db:"name"`
	Kind            string    `json:"kind" db:"kind"` // Dog, Cat
	IMEI            string    `json:"imei" db:"imei"`
	Serial          string    `json:"serial" db:"serial"`
	DeviceModel     string    `json:"device_model" db:"device_model"`
	Firmware        string    `json:"firmware" db:"firmware"`
	ExpiredDays     *int64    `json:"expired_days,omitempty" db:"expired_days"`
	UpdateFrequency *int64    `json:"update_frequency,omitempty" db:"update_frequency"` // 设备上报间隔 (小时)
	EnergySaving    bool      `json:"energy_saving" db:"energy_saving"`
	GPSOnDefault    *bool     `json:"gps_on_default,omitempty" db:"gps_on_default"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`

	// 接口上报的固件升级标记，不落库
	FirmwareNeedUpgrade bool `json:"firmware_need_upgrade"`
	// 省电模式指令已下发、设备尚未确认。本地维护，重新同步时保留
	EnergySavingPending bool `json:"energy_saving_pending"`
}

// SubscriptionActive 订阅是否有效
func (p *Pet) SubscriptionActive() bool {
	return p.ExpiredDays == nil || *p.ExpiredDays < 0
}
