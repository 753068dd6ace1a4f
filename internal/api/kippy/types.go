package kippy

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// API 路径
const (
	loginPath          = "/v2/login.php"
	getPetsPath        = "/v2/GetPetKippyList.php"
	mapActionPath      = "/v2/kippymap_action.php"
	modifySettingsPath = "/v2/kippymap_modify_settings.php"
	activityPath       = "/v2/vita/get_activities_cat.php"
)

// 登录 payload 中的固定字段
const (
	appIdentity      = "evo"
	appIdentityEvo   = "1"
	appSubIdentity   = "evo"
	platformDevice   = "10"
	appVersion       = "2.9.9"
	phoneCountryCode = "1"
	deviceName       = "petgazer"
)

// 设备工作状态码
const (
	OperatingStatusIdle         = 1
	OperatingStatusLive         = 5
	OperatingStatusEnergySaving = 18
)

// 定位技术名称
const (
	LocalizationLBS  = "LBS (Low accuracy)"
	LocalizationGPS  = "GPS"
	LocalizationWifi = "Wifi"
)

// localizationTechnologyMap 定位技术码到名称的映射
var localizationTechnologyMap = map[string]string{
	"1": LocalizationLBS,
	"2": LocalizationGPS,
	"3": LocalizationWifi,
}

// PetKindToType petKind 码到宠物类型的映射
var PetKindToType = map[string]string{
	"4": "Dog",
	"3": "Cat",
}

// FlexInt 兼容数字和字符串两种编码的整数字段
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// 部分接口返回 "5.0" 这样的小数形式
		v, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return err
		}
		*f = FlexInt(int64(v))
		return nil
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) Int64() int64 { return int64(f) }

// FlexFloat 兼容数字和字符串两种编码的浮点字段
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

func (f FlexFloat) Float64() float64 { return float64(f) }

// FlexBool 兼容 true/false、0/1 和字符串编码的布尔字段
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = n != 0
	}
	return nil
}

func (f FlexBool) Bool() bool { return bool(f) }

// Pet 宠物及其绑定的追踪器信息
type Pet struct {
	PetID               FlexInt   `json:"petID"`
	KippyID             FlexInt   `json:"kippyID"`
	KippyIDAlt          FlexInt   `json:"kippy_id"`
	PetName             string    `json:"petName"`
	PetKind             string    `json:"petKind"`
	KippyIMEI           string    `json:"kippyIMEI"`
	KippySerial         string    `json:"kippySerial"`
	KippyType           string    `json:"kippyType"`
	KippyFirmware       string    `json:"kippyFirmware"`
	ExpiredDays         *FlexInt  `json:"expired_days"`
	UpdateFrequency     *FlexInt  `json:"updateFrequency"`
	EnergySaving        FlexBool  `json:"energySavingMode"`
	GPSOnDefault        *FlexBool `json:"gpsOnDefault"`
	FirmwareNeedUpgrade FlexBool  `json:"firmware_need_upgrade"`
	// 旧版字段，归一化到 GPSOnDefault
	EnableGPSOnDefault *FlexBool `json:"enableGPSOnDefault"`
}

// TrackerID 返回追踪器 ID，兼容两种字段名
func (p *Pet) TrackerID() int64 {
	if p.KippyID != 0 {
		return int64(p.KippyID)
	}
	return int64(p.KippyIDAlt)
}

// Type 返回宠物类型名称
func (p *Pet) Type() string {
	if t, ok := PetKindToType[p.PetKind]; ok {
		return t
	}
	return p.PetKind
}

// SubscriptionExpired 订阅是否已过期
func (p *Pet) SubscriptionExpired() bool {
	return p.ExpiredDays != nil && int64(*p.ExpiredDays) >= 0
}

// MapData 追踪器定位数据，字段名已归一化
type MapData struct {
	GPSLatitude     *FlexFloat `json:"lat"`
	GPSLongitude    *FlexFloat `json:"lng"`
	GPSAccuracy     *FlexFloat `json:"radius"`
	GPSAltitude     *FlexFloat `json:"altitude"`
	Battery         *FlexFloat `json:"battery"`
	ContactTime     *FlexInt   `json:"contact_time"`
	FixTime         *FlexInt   `json:"fix_time"`
	GPSTime         *FlexInt   `json:"gps_time"`
	LBSTime         *FlexInt   `json:"lbs_time"`
	NextCallTime    *FlexInt   `json:"next_call_time"`
	OperatingStatus *FlexInt   `json:"operating_status"`
	// 接口字段本身拼写为 tecnology
	LocalizationCode json.Number `json:"localization_tecnology"`
}

// LocalizationTechnology 返回定位技术名称，未知码原样返回
func (m *MapData) LocalizationTechnology() string {
	code := m.LocalizationCode.String()
	if code == "" {
		return ""
	}
	if name, ok := localizationTechnologyMap[code]; ok {
		return name
	}
	return code
}

// OperatingStatusInt 返回工作状态码，缺失时返回 -1
func (m *MapData) OperatingStatusInt() int {
	if m.OperatingStatus == nil {
		return -1
	}
	return int(*m.OperatingStatus)
}

// ActivityEntry 单个时间段内某项活动的数值
type ActivityEntry struct {
	TimeCaption string     `json:"timeCaption"`
	Value       *FlexFloat `json:"value"`
	Minutes     *FlexFloat `json:"valueMinutes"`
	Count       *FlexFloat `json:"count"`
}

// Numeric 返回该条目的数值，按字段优先级取第一个存在的
func (e *ActivityEntry) Numeric() (float64, bool) {
	for _, v := range []*FlexFloat{e.Minutes, e.Value, e.Count} {
		if v != nil {
			return float64(*v), true
		}
	}
	return 0, false
}

// ActivityMetric 按指标分组的活动数据
type ActivityMetric struct {
	Activity string          `json:"activity"`
	Data     []ActivityEntry `json:"data"`
}

// ActivityCategories 活动统计响应
type ActivityCategories struct {
	Activities []ActivityMetric `json:"activities"`
	Avg        json.RawMessage  `json:"avg"`
	Health     json.RawMessage  `json:"health"`
}
