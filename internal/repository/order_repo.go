package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tron-storefront/internal/model"
)

// OrderRepository 订单仓储
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 创建订单
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID 根据 ID 查询订单
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// FindPendingByAmount 按收款地址和精确金额查找并锁定待支付订单
func (r *OrderRepository) FindPendingByAmount(ctx context.Context, amount decimal.Decimal, address string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("total_amount = ? AND payment_address = ? AND status = ?", amount, address, model.StatusPendingPayment).
		First(&order).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// Transition 仅当订单仍处于 from 状态时将其改为 to，被其他写入方抢先时返回 false
func (r *OrderRepository) Transition(ctx context.Context, id int64, from, to model.OrderStatus, extra map[string]any) (bool, error) {
	if err := model.ValidateTransition(from, to); err != nil {
		return false, err
	}
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpiredPending 查询支付窗口已在 now 之前关闭的待支付订单
func (r *OrderRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.StatusPendingPayment, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// OrderFilter 订单列表过滤条件
type OrderFilter struct {
	BuyerID        int64
	ProductID      int64
	Status         *model.OrderStatus
	PaymentAddress string
	Page           int
	PageSize       int
}

// Normalize 规范分页参数：page >= 1，1 <= page_size <= 100（默认 20）
func (f *OrderFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
}

// ListOrders 分页查询订单，按创建时间倒序
func (r *OrderRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})

	if filter.BuyerID != 0 {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentAddress != "" {
		query = query.Where("payment_address = ?", filter.PaymentAddress)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	filter.Normalize()
	offset := (filter.Page - 1) * filter.PageSize

	var orders []model.Order
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(filter.PageSize).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
