package tesla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Token 认证令牌
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired 检查 token 是否过期（提前 5 分钟）
func (t *Token) IsExpired() bool {
	return time.Now().After(t.CreatedAt.Add(time.Duration(t.ExpiresIn-300) * time.Second))
}

// Client Tesla API 客户端
type Client struct {
	httpClient *http.Client
	authHost   string
	apiHost    string
	clientID   string

	mu    sync.RWMutex
	token *Token
}

// NewClient 创建新的 Tesla API 客户端
func NewClient(authHost, apiHost, clientID string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		authHost: authHost,
		apiHost:  apiHost,
		clientID: clientID,
	}
}

// SetToken 设置认证令牌
func (c *Client) SetToken(token *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken 获取当前令牌
func (c *Client) GetToken() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// RefreshToken 刷新访问令牌
func (c *Client) RefreshToken(ctx context.Context) error {
	current := c.GetToken()
	if current == nil || current.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.clientID)
	data.Set("refresh_token", current.RefreshToken)
	data.Set("scope", "openid email offline_access")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authHost+"/oauth2/v3/token", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("refresh token failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var tokenResp Token
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}

	tokenResp.CreatedAt = time.Now()
	c.SetToken(&tokenResp)
	return nil
}

// doRequest 执行带认证的请求
func (c *Client) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	token := c.GetToken()
	if token == nil {
		return nil, ErrUnauthorized
	}

	if token.IsExpired() {
		if err := c.RefreshToken(ctx); err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		token = c.GetToken()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiHost+path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ChargeKeeper/1.0")

	return c.httpClient.Do(req)
}

// apiResponse 通用 API 响应结构
type apiResponse struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error,omitempty"`
}

// decodeResponse 按状态码映射错误并解出 response 字段
func decodeResponse(resp *http.Response, op string, out interface{}) error {
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusRequestTimeout:
		return ErrVehicleUnavailable
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: status=%d body=%s", op, resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(apiResp.Response, out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

// ListVehicles 获取车辆列表
func (c *Client) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/1/vehicles")
	if err != nil {
		return nil, fmt.Errorf("list vehicles request failed: %w", err)
	}
	defer resp.Body.Close()

	var vehicles []Vehicle
	if err := decodeResponse(resp, "list vehicles", &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// FindVehicle 按 VIN 查找车辆，VIN 为空时返回第一辆
func (c *Client) FindVehicle(ctx context.Context, vin string) (*Vehicle, error) {
	vehicles, err := c.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range vehicles {
		if vin == "" || strings.EqualFold(vehicles[i].VIN, vin) {
			return &vehicles[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVehicleNotFound, vin)
}

// GetVehicleData 获取车辆充电、位置、里程数据
func (c *Client) GetVehicleData(ctx context.Context, id int64) (*VehicleData, error) {
	endpoints := "charge_state;drive_state;location_data;vehicle_state"
	path := fmt.Sprintf("/api/1/vehicles/%d/vehicle_data?endpoints=%s", id, url.QueryEscape(endpoints))

	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data VehicleData
	if err := decodeResponse(resp, "vehicle data", &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// 错误定义
var (
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
)
