package kippy

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 错误定义
var (
	ErrNoCredentials = fmt.Errorf("no credentials available")
	ErrAuthFailed    = fmt.Errorf("authentication failed")
	ErrAPI           = fmt.Errorf("api request failed")
)

// 接口返回码
const (
	returnCodeAuthExpired        = 6
	returnCodeInvalidCredentials = 108
)

// returnCodesSuccess 视为成功的返回码
var returnCodesSuccess = map[int64]bool{0: true, 113: true}

// returnCodeErrors 已知返回码对应的错误描述
var returnCodeErrors = map[int64]string{
	returnCodeAuthExpired:        "authorization expired",
	returnCodeInvalidCredentials: "invalid credentials",
}

// authSession 登录成功后缓存的会话凭证
type authSession struct {
	AppCode             string `json:"app_code"`
	AppVerificationCode string `json:"app_verification_code"`
}

// Client Kippy API 客户端
type Client struct {
	httpClient *http.Client
	host       string
	email      string
	password   string
	logger     *zap.Logger

	// mu 保护 auth，并串行化重新登录
	mu   sync.Mutex
	auth *authSession
}

// NewClient 创建新的 Kippy API 客户端
func NewClient(host, email, password string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		host:     strings.TrimRight(host, "/"),
		email:    email,
		password: password,
		logger:   logger,
	}
}

// requestHeaders 接口要求的固定请求头
func requestHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json, */*;q=0.8")
}

// Login 登录并缓存会话，force 为 true 时强制重新登录
func (c *Client) Login(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx, force)
}

func (c *Client) loginLocked(ctx context.Context, force bool) error {
	if !force && c.auth != nil {
		return nil
	}
	if c.email == "" || c.password == "" {
		return ErrNoCredentials
	}

	payload := map[string]any{
		"login_email":             c.email,
		"login_password_hash":     fmt.Sprintf("%x", sha256.Sum256([]byte(c.password))),
		"login_password_hash_md5": fmt.Sprintf("%x", md5.Sum([]byte(c.password))),
		"app_identity":            appIdentity,
		"app_identity_evo":        appIdentityEvo,
		"platform_device":         platformDevice,
		"app_version":             appVersion,
		"timezone":                1.0,
		"phone_country_code":      phoneCountryCode,
		"token_device":            "",
		"device_name":             deviceName,
	}

	c.logger.Debug("login request", zap.Any("payload", redactLogin(payload)))

	raw, status, err := c.post(ctx, loginPath, payload)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	c.logger.Debug("login response", zap.String("body", redactJSON(raw)))

	if status == http.StatusUnauthorized {
		return fmt.Errorf("login failed: status=%d: %w", status, ErrAuthFailed)
	}
	// 非 401 的错误状态是服务端问题，不代表凭据有误
	if status != http.StatusOK {
		return fmt.Errorf("login failed: status=%d: %w", status, ErrAPI)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	rc := parseReturnCode(data)
	if !rc.success() {
		return fmt.Errorf("login failed: %s: %w", rc.errorMessage(), ErrAuthFailed)
	}

	var session authSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("decode login session: %w", err)
	}
	c.auth = &session
	return nil
}

// ensureLogin 确保存在有效会话
func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx, false)
}

// authenticatedPayload 返回携带会话凭证的 payload
func (c *Client) authenticatedPayload(ctx context.Context, extra map[string]any) (map[string]any, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	payload := map[string]any{
		"app_code":              c.auth.AppCode,
		"app_verification_code": c.auth.AppVerificationCode,
		"app_identity":          appIdentity,
	}
	c.mu.Unlock()

	for k, v := range extra {
		payload[k] = v
	}
	return payload, nil
}

// refreshLogin 强制重新登录并用新凭证更新 payload
func (c *Client) refreshLogin(ctx context.Context, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loginLocked(ctx, true); err != nil {
		return err
	}
	payload["app_code"] = c.auth.AppCode
	payload["app_verification_code"] = c.auth.AppVerificationCode
	return nil
}

// post 发送一次请求并返回原始响应体和状态码
func (c *Client) post(ctx context.Context, path string, payload map[string]any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	requestHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// postWithRefresh 发送请求，认证失效时重新登录并重试一次
func (c *Client) postWithRefresh(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c.logger.Debug("api request", zap.String("path", path), zap.Any("payload", redact(payload)))

		raw, status, err := c.post(ctx, path, payload)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", path, err)
		}

		c.logger.Debug("api response", zap.String("path", path), zap.String("body", redactJSON(raw)))

		var data map[string]any
		decoded := json.Unmarshal(raw, &data) == nil

		// 部分接口在成功时也返回 401，以返回码为准
		if status == http.StatusUnauthorized && decoded && treat401AsSuccess(data) {
			return raw, nil
		}

		if status >= 400 {
			if status == http.StatusUnauthorized {
				if attempt == 0 {
					if err := c.refreshLogin(ctx, payload); err != nil {
						return nil, fmt.Errorf("refresh login: %w", err)
					}
					continue
				}
				return nil, fmt.Errorf("%s failed: status=%d body=%s: %w", path, status, redactJSON(raw), ErrAuthFailed)
			}
			// 其余错误状态按瞬时接口故障处理，不归类为认证失败
			return nil, fmt.Errorf("%s failed: status=%d body=%s: %w", path, status, redactJSON(raw), ErrAPI)
		}

		if !decoded {
			return nil, fmt.Errorf("%s: decode response: invalid json: %w", path, ErrAPI)
		}

		rc := parseReturnCode(data)
		if rc.success() {
			return raw, nil
		}
		if rc.numeric && rc.code == returnCodeAuthExpired && attempt == 0 {
			if err := c.refreshLogin(ctx, payload); err != nil {
				return nil, fmt.Errorf("refresh login: %w", err)
			}
			continue
		}
		return nil, fmt.Errorf("%s failed: %s: %w", path, rc.errorMessage(), ErrAuthFailed)
	}

	return nil, fmt.Errorf("%s: unexpected authentication failure: %w", path, ErrAuthFailed)
}

// returnCode 接口响应中的 return/Result 字段
type returnCode struct {
	present bool
	isBool  bool
	boolVal bool
	numeric bool
	code    int64
	raw     string
}

// parseReturnCode 提取响应中的返回码，兼容 bool、数字和字符串
func parseReturnCode(data map[string]any) returnCode {
	v, ok := data["return"]
	if !ok || v == nil {
		v, ok = data["Result"]
	}
	if !ok || v == nil {
		return returnCode{}
	}

	switch val := v.(type) {
	case bool:
		return returnCode{present: true, isBool: true, boolVal: val}
	case float64:
		return returnCode{present: true, numeric: true, code: int64(val)}
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return returnCode{present: true, numeric: true, code: n}
		}
		return returnCode{present: true, raw: val}
	default:
		return returnCode{present: true, raw: fmt.Sprintf("%v", val)}
	}
}

func (rc returnCode) success() bool {
	if !rc.present {
		return false
	}
	if rc.isBool {
		return rc.boolVal
	}
	return rc.numeric && returnCodesSuccess[rc.code]
}

func (rc returnCode) errorMessage() string {
	if !rc.present {
		return "missing return code"
	}
	if rc.isBool {
		return fmt.Sprintf("return=%v", rc.boolVal)
	}
	if rc.numeric {
		if msg, ok := returnCodeErrors[rc.code]; ok {
			return fmt.Sprintf("%s (code %d)", msg, rc.code)
		}
		return fmt.Sprintf("unknown error code %d", rc.code)
	}
	return fmt.Sprintf("unknown error code %s", rc.raw)
}

// treat401AsSuccess 判断 401 响应是否按成功处理
func treat401AsSuccess(data map[string]any) bool {
	rc := parseReturnCode(data)
	return rc.success()
}
