package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	vtcfg "voltrap/internal/config"

	"github.com/tidwall/gjson"
)

// Client wraps the Bybit v5 REST endpoints required by voltrap.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	apiSecret  string
	recvWindow string
	category   string
}

// retCode 110043: leverage not modified — 目标杠杆与当前一致，视为成功。
const retCodeLeverageNotModified = 110043

// NewClient constructs a Bybit client from configuration.
func NewClient(cfg vtcfg.VenueConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("venue.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 venue.base_url 失败: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("venue api key/secret 不能为空")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	recvWindow := cfg.RecvWindowMS
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	category := strings.TrimSpace(cfg.Category)
	if category == "" {
		category = "linear"
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		recvWindow: strconv.Itoa(recvWindow),
		category:   category,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, payload, out)
}

// do 发送签名请求并解析 v5 标准响应包裹（retCode/retMsg/result）。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path

	var body []byte
	var signPayload string
	switch method {
	case http.MethodGet:
		encoded := ""
		if query != nil {
			encoded = query.Encode()
		}
		endpoint.RawQuery = encoded
		signPayload = encoded
	default:
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("编码请求体失败: %w", err)
		}
		signPayload = string(body)
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, signPayload))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("bybit %s %s: http %d: %s", method, path, resp.StatusCode, clipBody(raw, 256))
	}

	// 先用 gjson 窥探响应包裹再做强类型解码，避免把错误包裹硬塞进结果结构。
	retCode := gjson.GetBytes(raw, "retCode").Int()
	if retCode != 0 && retCode != retCodeLeverageNotModified {
		retMsg := gjson.GetBytes(raw, "retMsg").String()
		return &APIError{Code: retCode, Msg: retMsg, Path: path}
	}
	if out == nil {
		return nil
	}
	result := gjson.GetBytes(raw, "result")
	if !result.Exists() {
		return fmt.Errorf("bybit %s: 响应缺少 result 字段", path)
	}
	if err := json.Unmarshal([]byte(result.Raw), out); err != nil {
		return fmt.Errorf("解析 bybit %s result 失败: %w", path, err)
	}
	return nil
}

// clipBody 截断异常响应体，避免把整页 HTML 错误页塞进日志。
func clipBody(raw []byte, limit int) string {
	if limit <= 0 || len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}

func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIError is a structured Bybit business failure (retCode != 0).
type APIError struct {
	Code int64
	Msg  string
	Path string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: retCode=%d retMsg=%s", e.Path, e.Code, e.Msg)
}
