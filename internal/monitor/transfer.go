package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawTransfer 链上索引返回的原始转账记录（金额尚未解析）
type RawTransfer struct {
	Hash            string
	From            string
	To              string
	Type            string
	ContractAddress string
	Value           string // 最小单位
	Decimals        int
	BlockTimestamp  time.Time
}

// ChainTransaction 解析后的转入交易，带确认数
type ChainTransaction struct {
	Hash           string
	From           string
	To             string
	Token          string
	Amount         decimal.Decimal
	BlockHeight    int64
	Confirmations  int64
	BlockTimestamp time.Time
}

// ChainSource 链数据源
// ListTransfers 返回监听地址最新的代币转入记录
type ChainSource interface {
	LatestHeight(ctx context.Context) (int64, error)
	ListTransfers(ctx context.Context, limit int) ([]RawTransfer, error)
	TransactionHeight(ctx context.Context, hash string) (int64, error)
}

var (
	// ErrTxPending 交易已被列出但区块信息尚未索引
	ErrTxPending = errors.New("transaction not yet in a block")
	// ErrRejected 后端明确拒绝该笔通知，重试不会改变结果
	ErrRejected = errors.New("backend rejected notification")
)

// NotifyResult 后端对单笔转账的处理结果
type NotifyResult struct {
	Status      string
	OrderID     int64
	OrderStatus string
	Duplicate   bool
}

// Notifier 将确认足够的转账通知给后端
// 返回包装了 ErrRejected 的错误表示该笔不再重试
type Notifier interface {
	Notify(ctx context.Context, tx ChainTransaction) (NotifyResult, error)
}

// HealthChecker 依赖健康检查
type HealthChecker interface {
	Health(ctx context.Context) error
}

const maxDecimals = 30

// ParseAmount 将最小单位的整数字符串转换为代币金额
func ParseAmount(value string, decimals int) (decimal.Decimal, error) {
	if decimals < 0 || decimals > maxDecimals {
		return decimal.Decimal{}, fmt.Errorf("unsupported decimals %d", decimals)
	}
	raw, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse value %q: %w", value, err)
	}
	if raw.IsNegative() || !raw.Equal(raw.Truncate(0)) {
		return decimal.Decimal{}, fmt.Errorf("value %q is not a non-negative integer", value)
	}
	return raw.Shift(-int32(decimals)), nil
}

// Confirmations 计算确认数，交易所在区块记为第 1 个确认
func Confirmations(current, txHeight int64) int64 {
	return max(0, current-txHeight+1)
}
