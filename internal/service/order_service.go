package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/metrics"
	"tron-storefront/internal/model"
	"tron-storefront/internal/mq"
	"tron-storefront/internal/repository"
	"tron-storefront/pkg/logger"
)

const sweepBatch = 100

// OrderConfig 订单配置
type OrderConfig struct {
	WalletAddress string
	TTL           time.Duration
	AmountRetries int
}

// OrderService 订单服务
type OrderService struct {
	store     *repository.Store
	publisher mq.Publisher
	suffixes  amount.SuffixSource
	delivery  *DeliveryService
	cfg       OrderConfig
	now       func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(store *repository.Store, publisher mq.Publisher, suffixes amount.SuffixSource, cfg OrderConfig) *OrderService {
	if cfg.AmountRetries < 1 {
		cfg.AmountRetries = 8
	}
	if suffixes == nil {
		suffixes = amount.NewRandomSource(nil)
	}
	return &OrderService{
		store:     store,
		publisher: publisher,
		suffixes:  suffixes,
		delivery:  NewDeliveryService(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput 创建订单参数
type CreateOrderInput struct {
	BuyerID   int64 `json:"buyer_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CreateOrder 创建 USDT 支付订单
// 为订单分配收款地址下唯一的待支付金额，唯一索引冲突说明金额已被占用，重新生成
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.BuyerID <= 0 || in.ProductID <= 0 || in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: buyer_id, product_id and quantity must be positive", ErrInvalidArgument)
	}

	product, err := s.store.Products.FindByID(ctx, in.ProductID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product.Status != model.ProductActive {
		return nil, ErrProductInactive
	}
	if product.Stock < in.Quantity {
		return nil, ErrInsufficientStock
	}

	base := product.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))

	for attempt := 1; attempt <= s.cfg.AmountRetries; attempt++ {
		total, err := amount.Generate(base, s.suffixes.Next())
		if err != nil {
			return nil, err
		}
		now := s.now()
		order := &model.Order{
			BuyerID:        in.BuyerID,
			ProductID:      product.ID,
			Quantity:       in.Quantity,
			UnitPrice:      product.Price,
			TotalAmount:    total,
			PaymentAddress: s.cfg.WalletAddress,
			Status:         model.StatusPendingPayment,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.TTL),
		}
		err = s.store.Orders.Create(ctx, order)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.AmountCollisions.Inc()
			logger.Debug(ctx, "payment amount taken, drawing again",
				zap.String("amount", amount.Format(total)),
				zap.Int("suffix", amount.Suffix(total)),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}

		metrics.OrdersCreated.Inc()
		logger.Info(ctx, "order created",
			zap.Int64("order_id", order.ID),
			zap.Int64("buyer_id", order.BuyerID),
			zap.String("total_amount", amount.Format(order.TotalAmount)),
			zap.Int("suffix", amount.Suffix(order.TotalAmount)),
			zap.Time("expires_at", order.ExpiresAt))

		if err := s.publisher.PublishDelay(ctx, order.ID); err != nil {
			// 过期扫描仍会关闭该订单
			logger.Warn(ctx, "publish expiry delay failed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
		return order, nil
	}
	return nil, ErrAmountExhausted
}

// GetOrder 查询订单
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := s.store.Orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

// ListPayments 查询订单的链上支付记录
func (s *OrderService) ListPayments(ctx context.Context, id int64) ([]model.Payment, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Payments.ListByOrder(ctx, id)
}

// ListOrders 分页查询订单
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]model.Order, int64, error) {
	return s.store.Orders.ListOrders(ctx, filter)
}

// CancelOrder 取消尚未支付的订单
func (s *OrderService) CancelOrder(ctx context.Context, id, buyerID int64) (*model.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrNotOrderOwner
	}
	if order.Status != model.StatusPendingPayment {
		return nil, ErrOrderNotPending
	}
	ok, err := s.store.Orders.Transition(ctx, id, model.StatusPendingPayment, model.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		return nil, ErrOrderNotPending
	}
	return s.afterTransition(ctx, id, model.StatusCancelled)
}

// ExpireOrder 关闭支付窗口已过的待支付订单
// 订单已离开待支付状态或窗口未到期时返回 false
func (s *OrderService) ExpireOrder(ctx context.Context, id int64) (bool, error) {
	order, err := s.GetOrder(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Warn(ctx, "expiry for unknown order", zap.Int64("order_id", id))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if order.Status != model.StatusPendingPayment || s.now().Before(order.ExpiresAt) {
		return false, nil
	}

	ok, err := s.store.Orders.Transition(ctx, id, model.StatusPendingPayment, model.StatusExpired, nil)
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.afterTransition(ctx, id, model.StatusExpired); err != nil {
		return true, err
	}
	return true, nil
}

// SweepExpired 关闭所有在 now 之前到期的待支付订单，作为延迟队列丢消息时的兜底
func (s *OrderService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	orders, err := s.store.Orders.ListExpiredPending(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	n := 0
	for _, o := range orders {
		expired, err := s.ExpireOrder(ctx, o.ID)
		if err != nil {
			logger.Error(ctx, "expire order failed", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		if expired {
			n++
		}
	}
	return n, nil
}

// Deliver 对停留在 paid 的订单重新发货，通常在库存不足、补货之后由运营触发
func (s *OrderService) Deliver(ctx context.Context, id int64) (*model.Order, error) {
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Orders.FindByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		_, err := s.delivery.Deliver(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, id, model.StatusCompleted)
}

// RunSweeper 每隔 interval 执行一次 SweepExpired，直到 ctx 结束
func (s *OrderService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx, s.now())
			if err != nil {
				logger.Error(ctx, "expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info(ctx, "expiry sweep", zap.Int("expired", n))
			}
		}
	}
}

func (s *OrderService) afterTransition(ctx context.Context, id int64, status model.OrderStatus) (*model.Order, error) {
	metrics.OrderTransitions.WithLabelValues(string(status)).Inc()
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "order status changed", zap.Int64("order_id", id), zap.String("status", string(status)))
	if err := s.publisher.PublishEvent(ctx, mq.NewOrderEvent(order, "")); err != nil {
		logger.Warn(ctx, "publish order event failed", zap.Int64("order_id", id), zap.Error(err))
	}
	return order, nil
}

// ExpireSource 过期消息来源
type ExpireSource interface {
	IsConnected() bool
	ConsumeExpire() (<-chan amqp.Delivery, error)
}

// StartExpireConsumer 消费过期队列直到 ctx 结束，连接重建后重新订阅
func (s *OrderService) StartExpireConsumer(ctx context.Context, src ExpireSource) {
	logger.Info(ctx, "expire consumer started")
	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "expire consumer stopped")
			return
		}
		if !src.IsConnected() {
			sleep(ctx, time.Second)
			continue
		}
		msgs, err := src.ConsumeExpire()
		if err != nil {
			logger.Warn(ctx, "subscribe expire queue failed", zap.Error(err))
			sleep(ctx, 2*time.Second)
			continue
		}
		s.consumeExpire(ctx, msgs)
		sleep(ctx, 2*time.Second)
	}
}

func (s *OrderService) consumeExpire(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn(ctx, "expire channel closed, re-subscribing")
				return
			}
			orderID, err := mq.ParseExpireMessage(msg.Body)
			if err != nil {
				logger.Warn(ctx, "drop malformed expire message", zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			if _, err := s.ExpireOrder(ctx, orderID); err != nil {
				logger.Error(ctx, "expire order failed", zap.Int64("order_id", orderID), zap.Error(err))
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
