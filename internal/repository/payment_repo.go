package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tron-storefront/internal/model"
)

// PaymentRepository 支付记录仓储
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付记录仓储
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByTxHashForUpdate 按交易哈希查询支付记录并加行锁
func (r *PaymentRepository) FindByTxHashForUpdate(ctx context.Context, hash string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tx_hash = ?", hash).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Insert 插入支付记录，同一交易哈希已存在时忽略，返回本次是否新建
func (r *PaymentRepository) Insert(ctx context.Context, p *model.Payment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus 更新支付状态与确认数
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status model.PaymentStatus, confirmations int64) error {
	return r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"confirmations": confirmations,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// ListByOrder 查询订单的全部支付记录
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]model.Payment, error) {
	var out []model.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&out).Error
	return out, err
}

// Reassign 将已有支付记录改挂到 orderID，用于人工处理先前匹配失败的转账
func (r *PaymentRepository) Reassign(ctx context.Context, id, orderID int64, status model.PaymentStatus) error {
	return r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"order_id":   orderID,
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}
