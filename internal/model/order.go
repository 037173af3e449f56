package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 订单
// 待支付期间 (payment_address, total_amount) 唯一；部分索引允许在前一订单离开 pending_payment 后复用金额
type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID        int64           `gorm:"not null;index" json:"buyer_id"`
	ProductID      int64           `gorm:"not null;index" json:"product_id"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(18,6);not null;uniqueIndex:idx_orders_pending_amount,where:status = 'pending_payment'" json:"total_amount"`
	PaymentAddress string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_orders_pending_amount,where:status = 'pending_payment'" json:"payment_address"`
	Status         OrderStatus     `gorm:"type:varchar(32);not null;default:pending_payment;index:idx_orders_status_expires" json:"status"`
	DownloadToken  string          `gorm:"type:varchar(64);default:''" json:"download_token,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt      time.Time       `gorm:"not null;index:idx_orders_status_expires" json:"expires_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Product 商品
type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Category    string          `gorm:"type:varchar(100);not null;index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Stock       int             `gorm:"not null;default:0" json:"stock"`
	Status      ProductStatus   `gorm:"type:varchar(32);not null;default:active" json:"status"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
