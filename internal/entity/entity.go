package entity

import (
	"fmt"
	"time"

	"github.com/langchou/petgazer/internal/models"
	"github.com/langchou/petgazer/internal/service"
	"github.com/langchou/petgazer/internal/state"
)

// 实体类型
const (
	TypeDeviceTracker = "device_tracker"
	TypeSensor        = "sensor"
	TypeBinarySensor  = "binary_sensor"
	TypeSwitch        = "switch"
	TypeButton        = "button"
	TypeNumber        = "number"
)

// 实体分类
const (
	CategoryNone       = ""
	CategoryDiagnostic = "diagnostic"
	CategoryConfig     = "config"
)

// 活动指标，与接口返回的 activity 名称一致
var ActivityMetrics = []struct {
	Metric string
	Name   string
	Unit   string
}{
	{"steps", "Steps", "steps"},
	{"calories", "Calories", "kcal"},
	{"run", "Run", "min"},
	{"walk", "Walk", "min"},
	{"sleep", "Sleep", "min"},
	{"rest", "Rest", "min"},
	{"play", "Play", "min"},
	{"relax", "Relax", "min"},
	{"jumps", "Jumps", ""},
	{"climb", "Climb", "min"},
	{"grooming", "Grooming", "min"},
	{"eat", "Eat", "min"},
	{"drink", "Drink", "min"},
}

// Entity 宠物的一个派生实体
type Entity struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Value    interface{} `json:"value"`
	Unit     string      `json:"unit,omitempty"`
	Category string      `json:"category,omitempty"`
}

// Build 从宠物信息和追踪器状态派生实体列表。
// 订阅过期的设备只保留诊断类实体。
func Build(pet *models.Pet, ts *state.TrackerState, cfg service.RefreshSettings) []Entity {
	entities := make([]Entity, 0, 32)

	add := func(id, name, typ string, value interface{}, unit, category string) {
		entities = append(entities, Entity{
			ID:       fmt.Sprintf("%d_%s", pet.PetID, id),
			Name:     entityName(pet.Name, name),
			Type:     typ,
			Value:    value,
			Unit:     unit,
			Category: category,
		})
	}

	if !pet.SubscriptionActive() {
		add("expired_days", "Days Until Expiry", TypeSensor, expiredDaysValue(pet), "d", CategoryDiagnostic)
		add("type", "Pet Type", TypeSensor, pet.Kind, "", CategoryDiagnostic)
		add("kippy_id", "Kippy ID", TypeSensor, pet.KippyID, "", CategoryDiagnostic)
		add("imei", "IMEI", TypeSensor, stringValue(pet.IMEI), "", CategoryDiagnostic)
		return entities
	}

	// 定位
	add("tracker", "Tracker", TypeDeviceTracker, trackerLocation(ts), "", CategoryNone)

	// 基础传感器
	add("battery", "Battery Level", TypeSensor, floatValue(ts.Battery), "%", CategoryDiagnostic)
	add("localization_technology", "Localization Technology", TypeSensor, stringValue(ts.Technology), "", CategoryDiagnostic)
	add("operating_status", "Operating Status", TypeSensor, ts.CurrentState, "", CategoryNone)
	add("energy_saving_status", "Energy Saving Status", TypeSensor, energySavingStatus(pet), "", CategoryDiagnostic)
	add("last_contact", "Last Contact", TypeSensor, timeValue(ts.ContactTime), "", CategoryDiagnostic)
	add("next_contact", "Next Contact", TypeSensor, timeValue(ts.NextContact), "", CategoryDiagnostic)
	add("last_fix", "Last Fix", TypeSensor, timeValue(ts.FixTime), "", CategoryDiagnostic)
	add("last_gps_fix", "Last GPS Fix", TypeSensor, timeValue(ts.GPSTime), "", CategoryDiagnostic)
	add("last_lbs_fix", "Last LBS Fix", TypeSensor, timeValue(ts.LBSTime), "", CategoryDiagnostic)
	add("expired_days", "Days Until Expiry", TypeSensor, expiredDaysValue(pet), "d", CategoryDiagnostic)
	add("type", "Pet Type", TypeSensor, pet.Kind, "", CategoryDiagnostic)
	add("kippy_id", "Kippy ID", TypeSensor, pet.KippyID, "", CategoryDiagnostic)
	add("imei", "IMEI", TypeSensor, stringValue(pet.IMEI), "", CategoryDiagnostic)

	// 固件升级提示
	add("firmware_upgrade", "Firmware Upgrade Available", TypeBinarySensor, pet.FirmwareNeedUpgrade, "", CategoryDiagnostic)

	// 活动传感器
	for _, metric := range ActivityMetrics {
		add(metric.Metric, metric.Name, TypeSensor, activityValue(ts, metric.Metric), metric.Unit, CategoryNone)
	}

	// 开关
	add("live_tracking", "Live Tracking", TypeSwitch, ts.CurrentState == state.StateLive, "", CategoryNone)
	add("energy_saving", "Energy Saving", TypeSwitch, pet.EnergySaving, "", CategoryConfig)
	add("gps_on_default", "GPS On Default", TypeSwitch, boolValue(pet.GPSOnDefault), "", CategoryConfig)
	add("ignore_lbs", "Ignore LBS Location", TypeSwitch, cfg.IgnoreLBS, "", CategoryConfig)

	// 按钮，触发对应的刷新动作
	add("refresh_location", "Refresh Location", TypeButton, nil, "", CategoryNone)
	add("refresh_activities", "Refresh Activities", TypeButton, nil, "", CategoryNone)
	add("refresh_pets", "Refresh Pets", TypeButton, nil, "", CategoryConfig)

	// 数值配置
	add("update_frequency", "Update Frequency", TypeNumber, int64Value(pet.UpdateFrequency), "h", CategoryConfig)
	add("idle_refresh", "Idle Map Refresh", TypeNumber, cfg.IdleRefresh.Minutes(), "min", CategoryConfig)
	add("live_refresh", "Live Map Refresh", TypeNumber, cfg.LiveRefresh.Seconds(), "s", CategoryConfig)
	add("activity_delay", "Activity Refresh Delay", TypeNumber, cfg.ActivityDelay.Minutes(), "min", CategoryConfig)

	return entities
}

// Location 定位实体的值
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Source    string   `json:"source,omitempty"`
}

func trackerLocation(ts *state.TrackerState) Location {
	return Location{
		Latitude:  ts.Latitude,
		Longitude: ts.Longitude,
		Accuracy:  ts.Accuracy,
		Altitude:  ts.Altitude,
		Source:    ts.Technology,
	}
}

func entityName(petName, suffix string) string {
	if petName == "" {
		return suffix
	}
	return petName + " " + suffix
}

// energySavingStatus 指令已下发但设备尚未确认时带 pending 后缀
func energySavingStatus(pet *models.Pet) string {
	switch {
	case pet.EnergySaving && pet.EnergySavingPending:
		return "on_pending"
	case pet.EnergySaving:
		return "on"
	case pet.EnergySavingPending:
		return "off_pending"
	default:
		return "off"
	}
}

func expiredDaysValue(pet *models.Pet) interface{} {
	if pet.ExpiredDays == nil {
		return nil
	}
	return *pet.ExpiredDays
}

func activityValue(ts *state.TrackerState, metric string) interface{} {
	if ts.Activities == nil {
		return nil
	}
	v, ok := ts.Activities[metric]
	if !ok {
		return nil
	}
	return v
}

func floatValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func int64Value(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolValue(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func stringValue(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func timeValue(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339)
}
