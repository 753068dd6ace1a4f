package kippy

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetPetKippyList 获取账号下绑定的宠物列表
func (c *Client) GetPetKippyList(ctx context.Context) ([]Pet, error) {
	payload, err := c.authenticatedPayload(ctx, map[string]any{
		"app_sub_identity": appSubIdentity,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.postWithRefresh(ctx, getPetsPath, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []Pet `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode pet list: %w", err)
	}

	// 旧版字段 enableGPSOnDefault 归一化到 gpsOnDefault
	for i := range resp.Data {
		pet := &resp.Data[i]
		if pet.GPSOnDefault == nil && pet.EnableGPSOnDefault != nil {
			pet.GPSOnDefault = pet.EnableGPSOnDefault
		}
	}

	return resp.Data, nil
}
