package models

import "time"

// Position 定位记录
type Position struct {
	ID          int64      `json:"id" db:"id"`
	PetID       int64      `json:"pet_id" db:"pet_id"`
	Latitude    float64    `json:"latitude" db:"latitude"`
	Longitude   float64    `json:"longitude" db:"longitude"`
	Accuracy    *float64   `json:"accuracy,omitempty" db:"accuracy"` // 米
	Altitude    *float64   `json:"altitude,omitempty" db:"altitude"` // 米
	Technology  string     `json:"technology" db:"technology"`       // GPS, LBS, Wifi
	Battery     *float64   `json:"battery,omitempty" db:"battery"`   // 百分比
	FixTime     *time.Time `json:"fix_time,omitempty" db:"fix_time"`
	ContactTime *time.Time `json:"contact_time,omitempty" db:"contact_time"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
