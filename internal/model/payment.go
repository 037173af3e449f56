package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment 支付记录：已应用到订单的链上转账，TxHash 唯一，保证一笔转账不会结算两个订单
type Payment struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash        string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"tx_hash"`
	OrderID       int64           `gorm:"not null;index" json:"order_id"`
	FromAddress   string          `gorm:"type:varchar(64);not null" json:"from_address"`
	ToAddress     string          `gorm:"type:varchar(64);not null" json:"to_address"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"amount"`
	Token         string          `gorm:"type:varchar(32);not null" json:"token"`
	Confirmations int64           `gorm:"not null;default:0" json:"confirmations"`
	Status        PaymentStatus   `gorm:"type:varchar(32);not null;default:pending" json:"status"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// UnmatchedTransaction 未匹配交易：未对应任何待支付订单的转账，留待人工处理
type UnmatchedTransaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash          string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"tx_hash"`
	FromAddress     string          `gorm:"type:varchar(64);not null" json:"from_address"`
	ToAddress       string          `gorm:"type:varchar(64);not null" json:"to_address"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"amount"`
	Token           string          `gorm:"type:varchar(32);not null" json:"token"`
	Confirmations   int64           `gorm:"not null;default:0" json:"confirmations"`
	BlockTimestamp  time.Time       `json:"block_timestamp"`
	Reason          string          `gorm:"type:varchar(64);not null" json:"reason"`
	ResolvedOrderID *int64          `gorm:"index" json:"resolved_order_id,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (UnmatchedTransaction) TableName() string {
	return "unmatched_transactions"
}

// All 返回所有需要持久化的模型，按迁移顺序排列
func All() []any {
	return []any{&Product{}, &Order{}, &Payment{}, &UnmatchedTransaction{}}
}
