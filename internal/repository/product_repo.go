package repository

import (
	"context"

	"gorm.io/gorm"

	"tron-storefront/internal/model"
)

// ProductRepository 商品仓储
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create 创建商品
func (r *ProductRepository) Create(ctx context.Context, p *model.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// FindByID 根据 ID 查询商品
func (r *ProductRepository) FindByID(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListActive 查询上架商品，可按分类过滤
func (r *ProductRepository) ListActive(ctx context.Context, category string) ([]model.Product, error) {
	query := r.db.WithContext(ctx).Where("status = ?", model.ProductActive)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	var products []model.Product
	err := query.Order("id ASC").Find(&products).Error
	return products, err
}

// DecrementStock 扣减库存，库存不足时返回 false，不会扣成负数
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddStock 增加库存，商品不存在时返回 false
func (r *ProductRepository) AddStock(ctx context.Context, id int64, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", id).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
