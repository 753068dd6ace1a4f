package kippy

import (
	"context"
	"encoding/json"
	"fmt"
)

// 实时追踪开关动作
const (
	AppActionLiveOn  = 1
	AppActionLiveOff = 2
)

// MapActionOptions kippymap_action 的可选参数
type MapActionOptions struct {
	AppAction  *int
	GeofenceID *int64
}

// MapAction 请求追踪器的最新定位数据
func (c *Client) MapAction(ctx context.Context, kippyID int64, opts *MapActionOptions) (*MapData, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	payload := map[string]any{
		"app_code":              c.auth.AppCode,
		"app_verification_code": c.auth.AppVerificationCode,
		"app_identity":          appIdentity,
		"kippy_id":              kippyID,
		"do_sms":                1,
	}
	c.mu.Unlock()

	if opts != nil {
		if opts.AppAction != nil {
			payload["app_action"] = *opts.AppAction
		}
		if opts.GeofenceID != nil {
			payload["geofence_id"] = *opts.GeofenceID
		}
	}

	raw, err := c.postWithRefresh(ctx, mapActionPath, payload)
	if err != nil {
		return nil, err
	}

	// 定位数据可能在 data 字段中，也可能直接在顶层
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode map response: %w", err)
	}

	body := raw
	if len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		body = envelope.Data
	}

	var data MapData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode map data: %w", err)
	}
	return &data, nil
}
