package kippy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// 活动统计的固定参数
const (
	activityIDAll    = 0
	formulaGroupSum  = "SUM"
	activityTenantID = 1
)

// timeDivisions 时间粒度码到接口参数的映射
var timeDivisions = map[int]string{
	1: "h",
	2: "d",
	3: "w",
}

// weeksParam 返回 start 到 end 之间所有 ISO 周的 JSON 列表
func weeksParam(start, end time.Time) string {
	type week struct {
		Year   string `json:"year"`
		Number string `json:"number"`
	}
	var weeks []week
	seen := make(map[week]bool)
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		year, number := cur.ISOWeek()
		w := week{Year: strconv.Itoa(year), Number: strconv.Itoa(number)}
		if !seen[w] {
			seen[w] = true
			weeks = append(weeks, w)
		}
	}
	out, _ := json.Marshal(weeks)
	return string(out)
}

// tzHours 返回 t 所在时区的小时偏移
func tzHours(t time.Time) float64 {
	_, offset := t.Zone()
	return float64(offset) / 3600
}

// GetActivityCategories 获取指定宠物在时间区间内的活动统计
func (c *Client) GetActivityCategories(ctx context.Context, petID int64, from, to time.Time, timeDivision int) (*ActivityCategories, error) {
	division, ok := timeDivisions[timeDivision]
	if !ok {
		division = "h"
	}

	payload, err := c.authenticatedPayload(ctx, map[string]any{
		"petID":         petID,
		"activityID":    activityIDAll,
		"fromDate":      from.Unix(),
		"toDate":        to.Unix(),
		"timeDivisions": division,
		"formulaGroup":  formulaGroupSum,
		"tID":           activityTenantID,
		"timezone":      tzHours(from),
		"weeks":         weeksParam(from, to),
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.postWithRefresh(ctx, activityPath, payload)
	if err != nil {
		return nil, err
	}

	// 响应可能包在 data 字段中，也可能用旧版的大写字段名
	var envelope struct {
		Data           json.RawMessage  `json:"data"`
		ActivitiesData []ActivityMetric `json:"ActivitiesData"`
		AVGData        json.RawMessage  `json:"AVGData"`
		HealthData     json.RawMessage  `json:"HealthData"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode activity response: %w", err)
	}

	if len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		var categories ActivityCategories
		if err := json.Unmarshal(envelope.Data, &categories); err != nil {
			return nil, fmt.Errorf("decode activity data: %w", err)
		}
		return &categories, nil
	}

	return &ActivityCategories{
		Activities: envelope.ActivitiesData,
		Avg:        envelope.AVGData,
		Health:     envelope.HealthData,
	}, nil
}
