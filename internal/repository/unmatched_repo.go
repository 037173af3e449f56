package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tron-storefront/internal/model"
)

// UnmatchedRepository 未匹配交易仓储
type UnmatchedRepository struct {
	db *gorm.DB
}

// NewUnmatchedRepository 创建未匹配交易仓储
func NewUnmatchedRepository(db *gorm.DB) *UnmatchedRepository {
	return &UnmatchedRepository{db: db}
}

// Record 记录未匹配交易，重复记录忽略
func (r *UnmatchedRepository) Record(ctx context.Context, u *model.UnmatchedTransaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(u).Error
}

// FindByTxHash 根据交易哈希查询
func (r *UnmatchedRepository) FindByTxHash(ctx context.Context, hash string) (*model.UnmatchedTransaction, error) {
	var u model.UnmatchedTransaction
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", hash).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListUnresolved 查询未处理的记录，按时间正序
func (r *UnmatchedRepository) ListUnresolved(ctx context.Context, limit int) ([]model.UnmatchedTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.UnmatchedTransaction
	err := r.db.WithContext(ctx).
		Where("resolved_order_id IS NULL").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkResolved 将未匹配交易关联到 orderID，已被处理过时不生效
func (r *UnmatchedRepository) MarkResolved(ctx context.Context, hash string, orderID int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.UnmatchedTransaction{}).
		Where("tx_hash = ? AND resolved_order_id IS NULL", hash).
		Updates(map[string]any{"resolved_order_id": orderID, "resolved_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
