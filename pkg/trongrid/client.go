package trongrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	USDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

	// MaxLimit TronGrid 账户历史单页最大条数
	MaxLimit = 200
)

var (
	ErrUnexpectedStatus = errors.New("trongrid: unexpected status code")
	ErrUnsuccessful     = errors.New("trongrid: response reported failure")
	ErrTxNotFound       = errors.New("trongrid: transaction not found")
)

// TRC20Transaction TronGrid 返回的 TRC20 转账
type TRC20Transaction struct {
	TransactionID  string    `json:"transaction_id"`
	TokenInfo      TokenInfo `json:"token_info"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Type           string    `json:"type"`
	Value          string    `json:"value"`
	BlockTimestamp int64     `json:"block_timestamp"`
}

// TokenInfo 代币信息
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

// TRC20Response TRC20 转账列表响应
type TRC20Response struct {
	Data    []TRC20Transaction `json:"data"`
	Success bool               `json:"success"`
	Meta    Meta               `json:"meta"`
}

// Meta 分页信息
type Meta struct {
	At          int64  `json:"at"`
	Fingerprint string `json:"fingerprint"`
	PageSize    int    `json:"page_size"`
}

type nowBlockResponse struct {
	BlockHeader struct {
		RawData struct {
			Number int64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

type txInfoResponse struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
}

// TransferQuery GetTRC20Transactions 查询条件
type TransferQuery struct {
	Address         string
	ContractAddress string
	Limit           int
	OnlyTo          bool
	MinTimestamp    int64
}

// Client TronGrid API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option 客户端选项
type Option func(*Client)

// WithRateLimit 限制每秒请求数，rps <= 0 时不限流
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHTTPClient 指定 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient 创建 TronGrid 客户端
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTRC20Transactions 查询 q.Address 的 TRC20 转账，按时间倒序
func (c *Client) GetTRC20Transactions(ctx context.Context, q TransferQuery) ([]TRC20Transaction, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order_by", "block_timestamp,desc")
	if q.OnlyTo {
		params.Set("only_to", "true")
	}
	if q.ContractAddress != "" {
		params.Set("contract_address", q.ContractAddress)
	}
	if q.MinTimestamp > 0 {
		params.Set("min_timestamp", strconv.FormatInt(q.MinTimestamp, 10))
	}
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s",
		c.baseURL, url.PathEscape(q.Address), params.Encode())

	var result TRC20Response
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, ErrUnsuccessful
	}
	return result.Data, nil
}

// LatestBlockHeight 获取最新区块高度
func (c *Client) LatestBlockHeight(ctx context.Context) (int64, error) {
	var result nowBlockResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/wallet/getnowblock", nil, &result); err != nil {
		return 0, err
	}
	return result.BlockHeader.RawData.Number, nil
}

// TransactionBlockNumber 获取交易所在区块，返回为空说明节点尚未索引该交易
func (c *Client) TransactionBlockNumber(ctx context.Context, txID string) (int64, error) {
	var result txInfoResponse
	err := c.do(ctx, http.MethodPost, c.baseURL+"/wallet/gettransactioninfobyid",
		map[string]string{"value": txID}, &result)
	if err != nil {
		return 0, err
	}
	if result.BlockNumber == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
	}
	return result.BlockNumber, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request trongrid: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
