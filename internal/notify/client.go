// Package notify 负责监控进程到后端内部支付接口的通知
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/monitor"
)

// 内部接口路径与鉴权头
const (
	NotifyPath  = "/internal/payments/notify"
	HealthPath  = "/health"
	TokenHeader = "X-Internal-Token"
)

var (
	// ErrRejected 后端拒绝（4xx），重试无意义
	ErrRejected = monitor.ErrRejected
	// ErrUnavailable 后端暂不可用或鉴权失败，下一轮重试
	ErrUnavailable = errors.New("backend unavailable")
)

// Request POST /internal/payments/notify 请求体
type Request struct {
	TxHash        string    `json:"tx_hash"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	Amount        string    `json:"amount"`
	Token         string    `json:"token"`
	Confirmations int64     `json:"confirmations"`
	BlockNumber   int64     `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
}

// Response 后端对通知的应答
type Response struct {
	Status        string `json:"status"`
	OrderID       int64  `json:"order_id,omitempty"`
	OrderStatus   string `json:"order_status,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

// Client 后端通知客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建通知客户端，timeout <= 0 时默认 10 秒
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify 将交易推送给后端
// 4xx（鉴权、限流、超时除外）包装 ErrRejected，其余非 2xx 包装 ErrUnavailable
func (c *Client) Notify(ctx context.Context, tx monitor.ChainTransaction) (monitor.NotifyResult, error) {
	body, err := json.Marshal(Request{
		TxHash:        tx.Hash,
		FromAddress:   tx.From,
		ToAddress:     tx.To,
		Amount:        amount.Format(tx.Amount),
		Token:         tx.Token,
		Confirmations: tx.Confirmations,
		BlockNumber:   tx.BlockHeight,
		Timestamp:     tx.BlockTimestamp,
	})
	if err != nil {
		return monitor.NotifyResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+NotifyPath, bytes.NewReader(body))
	if err != nil {
		return monitor.NotifyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return monitor.NotifyResult{}, fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return monitor.NotifyResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		cause := ErrUnavailable
		if rejected(resp.StatusCode) {
			cause = ErrRejected
		}
		return monitor.NotifyResult{}, fmt.Errorf("%w: status %d: %s", cause, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return monitor.NotifyResult{}, fmt.Errorf("decode response: %w", err)
	}
	return monitor.NotifyResult{
		Status:      out.Status,
		OrderID:     out.OrderID,
		OrderStatus: out.OrderStatus,
		Duplicate:   out.Duplicate,
	}, nil
}

// Health 检查后端存活接口
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend health: status %d", resp.StatusCode)
	}
	return nil
}

// rejected 判断状态码是否为终态拒绝
func rejected(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}
