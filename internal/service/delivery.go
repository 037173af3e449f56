package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tron-storefront/internal/metrics"
	"tron-storefront/internal/model"
	"tron-storefront/internal/repository"
	"tron-storefront/pkg/logger"
)

// DeliveryService 发货服务
type DeliveryService struct {
	newToken func() string
	now      func() time.Time
}

// NewDeliveryService 创建发货服务
func NewDeliveryService() *DeliveryService {
	return &DeliveryService{
		newToken: uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Deliver 在 tx 中将订单 paid -> delivering -> completed，扣减库存并生成下载令牌
// 调用方需在保存点中执行：ErrInsufficientStock 时回滚保存点，订单保持 paid
func (d *DeliveryService) Deliver(ctx context.Context, tx *repository.Store, orderID int64) (*model.Order, error) {
	order, err := tx.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	ok, err := tx.Orders.Transition(ctx, orderID, model.StatusPaid, model.StatusDelivering, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotPaid, orderID, order.Status)
	}

	ok, err = tx.Products.DecrementStock(ctx, order.ProductID, order.Quantity)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	if !ok {
		metrics.Deliveries.WithLabelValues("out_of_stock").Inc()
		return nil, fmt.Errorf("%w: product %d, want %d", ErrInsufficientStock, order.ProductID, order.Quantity)
	}

	ok, err = tx.Orders.Transition(ctx, orderID, model.StatusDelivering, model.StatusCompleted, map[string]any{
		"delivered_at":   d.now(),
		"download_token": d.newToken(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %d left delivering concurrently", orderID)
	}

	metrics.Deliveries.WithLabelValues("completed").Inc()
	logger.Info(ctx, "order delivered", zap.Int64("order_id", orderID), zap.Int64("product_id", order.ProductID))
	return tx.Orders.FindByID(ctx, orderID)
}
