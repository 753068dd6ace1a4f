package kippy

import "encoding/json"

// sensitiveLogFields 日志中需要脱敏的字段
var sensitiveLogFields = map[string]bool{
	"app_code":              true,
	"app_verification_code": true,
	"petID":                 true,
	"auth_token":            true,
}

// loginSensitiveFields 登录请求额外脱敏的字段
var loginSensitiveFields = map[string]bool{
	"login_email":             true,
	"login_password_hash":     true,
	"login_password_hash_md5": true,
}

// redactTree 递归脱敏嵌套结构中的敏感字段
func redactTree(data any, extra map[string]bool) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if sensitiveLogFields[key] || (extra != nil && extra[key]) {
				out[key] = "***"
			} else {
				out[key] = redactTree(value, extra)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactTree(item, extra)
		}
		return out
	default:
		return data
	}
}

// redact 返回脱敏后的 payload 副本
func redact(payload map[string]any) any {
	return redactTree(payloadToAny(payload), nil)
}

// redactLogin 返回登录 payload 的脱敏副本
func redactLogin(payload map[string]any) any {
	return redactTree(payloadToAny(payload), loginSensitiveFields)
}

func payloadToAny(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// redactJSON 脱敏 JSON 文本，解析失败时原样返回
func redactJSON(raw []byte) string {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(redactTree(data, nil))
	if err != nil {
		return string(raw)
	}
	return string(out)
}
