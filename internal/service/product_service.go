package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/model"
	"tron-storefront/internal/repository"
	"tron-storefront/pkg/logger"
)

// ProductService 商品服务
type ProductService struct {
	store *repository.Store
}

// NewProductService 创建商品服务
func NewProductService(store *repository.Store) *ProductService {
	return &ProductService{store: store}
}

// CreateProductInput 创建商品参数
type CreateProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// CreateProduct 创建商品
func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (*model.Product, error) {
	name := strings.TrimSpace(in.Name)
	category := strings.TrimSpace(in.Category)
	if name == "" || category == "" {
		return nil, fmt.Errorf("%w: name and category are required", ErrInvalidArgument)
	}
	// 价格最多两位小数，金额生成依赖该精度
	if !in.Price.IsPositive() || !in.Price.Equal(in.Price.Truncate(amount.BasePlaces)) {
		return nil, fmt.Errorf("%w: price must be positive with at most 2 decimals", ErrInvalidArgument)
	}
	if in.Stock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", ErrInvalidArgument)
	}

	p := &model.Product{
		Name:        name,
		Description: in.Description,
		Category:    category,
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      model.ProductActive,
	}
	if err := s.store.Products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	logger.Info(ctx, "product created", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProduct 查询商品
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.store.Products.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

// ListProducts 查询上架商品
func (s *ProductService) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	return s.store.Products.ListActive(ctx, strings.TrimSpace(category))
}

// Restock 补充库存
func (s *ProductService) Restock(ctx context.Context, id int64, qty int) (*model.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	ok, err := s.store.Products.AddStock(ctx, id, qty)
	if err != nil {
		return nil, fmt.Errorf("restock: %w", err)
	}
	if !ok {
		return nil, ErrProductNotFound
	}
	logger.Info(ctx, "product restocked", zap.Int64("product_id", id), zap.Int("added", qty))
	return s.GetProduct(ctx, id)
}
