package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/metrics"
	"tron-storefront/internal/model"
	"tron-storefront/internal/mq"
	"tron-storefront/internal/repository"
	"tron-storefront/pkg/logger"
)

// PaymentNotification 监控进程上报的已达确认数的转账
type PaymentNotification struct {
	TxHash        string
	FromAddress   string
	ToAddress     string
	Token         string
	Amount        decimal.Decimal
	Confirmations int64
	BlockNumber   int64
	Timestamp     time.Time
}

// ReconcileStatus 对账结果状态
type ReconcileStatus string

const (
	ReconcileSuccess ReconcileStatus = "success"
	ReconcileNoMatch ReconcileStatus = "no_match"
)

// ReconcileResult 的原因
const (
	ReasonNoPendingOrder  = "no_pending_order"
	ReasonOrderNotPending = "order_not_pending"
	ReasonAwaitingConfirm = "awaiting_confirmations"
)

// ReconcileResult 对账结果
type ReconcileResult struct {
	Status        ReconcileStatus
	OrderID       int64
	OrderStatus   model.OrderStatus
	Duplicate     bool
	Reason        string
	DeliveryError string
}

// ReconcileConfig 对账配置
type ReconcileConfig struct {
	AcceptedToken    string
	MinConfirmations int64
}

// ReconcileService 对账服务，将链上转账应用到订单
type ReconcileService struct {
	store     *repository.Store
	delivery  *DeliveryService
	publisher mq.Publisher
	cfg       ReconcileConfig
	now       func() time.Time
}

// NewReconcileService 创建对账服务
func NewReconcileService(store *repository.Store, delivery *DeliveryService, publisher mq.Publisher, cfg ReconcileConfig) *ReconcileService {
	if cfg.MinConfirmations < 1 {
		cfg.MinConfirmations = 1
	}
	return &ReconcileService{
		store:     store,
		delivery:  delivery,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReconcileService) validate(n *PaymentNotification) error {
	if !strings.EqualFold(n.Token, s.cfg.AcceptedToken) {
		return fmt.Errorf("%w: %q", ErrUnsupportedToken, n.Token)
	}
	if n.TxHash == "" || n.ToAddress == "" {
		return fmt.Errorf("%w: tx_hash and to_address are required", ErrInvalidPayment)
	}
	if !n.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if n.Confirmations < 0 {
		return fmt.Errorf("%w: negative confirmations", ErrInvalidPayment)
	}
	return nil
}

// Reconcile 处理支付通知，结算金额与收款地址一致的待支付订单
// 全部在一个事务内完成，按交易哈希幂等，重复通知不会重复结算
func (s *ReconcileService) Reconcile(ctx context.Context, n PaymentNotification) (*ReconcileResult, error) {
	if err := s.validate(&n); err != nil {
		return nil, err
	}
	ctx = logger.WithTraceID(ctx, n.TxHash)

	var (
		res    *ReconcileResult
		events []*mq.OrderEvent
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		res, events = nil, nil

		payment, err := tx.Payments.FindByTxHashForUpdate(ctx, n.TxHash)
		switch {
		case err == nil:
			if payment.Status != model.PaymentPending {
				res, err = s.duplicate(ctx, tx, payment)
				return err
			}
			if n.Confirmations > payment.Confirmations {
				payment.Confirmations = n.Confirmations
				if err := tx.Payments.UpdateStatus(ctx, payment.ID, model.PaymentPending, n.Confirmations); err != nil {
					return err
				}
			}
		case errors.Is(err, repository.ErrNotFound):
			order, err := tx.Orders.FindPendingByAmount(ctx, n.Amount, n.ToAddress)
			if errors.Is(err, repository.ErrNotFound) {
				// 等待订单行锁期间，同一哈希的并发通知可能已完成结算
				settled, perr := tx.Payments.FindByTxHashForUpdate(ctx, n.TxHash)
				if perr == nil {
					res, err = s.duplicate(ctx, tx, settled)
					return err
				}
				if !errors.Is(perr, repository.ErrNotFound) {
					return fmt.Errorf("recheck payment: %w", perr)
				}
				if err := s.recordUnmatched(ctx, tx, &n, ReasonNoPendingOrder); err != nil {
					return err
				}
				res = &ReconcileResult{Status: ReconcileNoMatch, Reason: ReasonNoPendingOrder}
				return nil
			}
			if err != nil {
				return fmt.Errorf("match order: %w", err)
			}

			payment = &model.Payment{
				TxHash:        n.TxHash,
				OrderID:       order.ID,
				FromAddress:   n.FromAddress,
				ToAddress:     n.ToAddress,
				Amount:        n.Amount,
				Token:         n.Token,
				Confirmations: n.Confirmations,
				Status:        model.PaymentPending,
			}
			created, err := tx.Payments.Insert(ctx, payment)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
			if !created {
				// 同一哈希的并发通知已抢先处理
				res = &ReconcileResult{Status: ReconcileSuccess, OrderID: order.ID, OrderStatus: order.Status, Duplicate: true}
				return nil
			}
		default:
			return fmt.Errorf("load payment: %w", err)
		}

		if payment.Confirmations < s.cfg.MinConfirmations {
			res = &ReconcileResult{
				Status:      ReconcileSuccess,
				OrderID:     payment.OrderID,
				OrderStatus: model.StatusPendingPayment,
				Reason:      ReasonAwaitingConfirm,
			}
			return nil
		}

		res, events, err = s.settle(ctx, tx, payment, n.TxHash)
		if err != nil {
			return err
		}
		if res.Status == ReconcileNoMatch {
			return s.recordUnmatched(ctx, tx, &n, ReasonOrderNotPending)
		}
		return nil
	})
	if err != nil {
		metrics.ReconcileOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ReconcileOutcomes.WithLabelValues(outcomeLabel(res)).Inc()
	logger.Info(ctx, "payment reconciled",
		zap.String("status", string(res.Status)),
		zap.Int64("order_id", res.OrderID),
		zap.String("order_status", string(res.OrderStatus)),
		zap.Bool("duplicate", res.Duplicate),
		zap.String("reason", res.Reason),
		zap.String("amount", amount.Format(n.Amount)))
	s.publish(ctx, events)
	return res, nil
}

// settle 确认支付并将订单置为已支付，再在保存点中发货
// 订单已离开 pending_payment 时支付记录置为 failed，结果为 no_match
func (s *ReconcileService) settle(ctx context.Context, tx *repository.Store, payment *model.Payment, txHash string) (*ReconcileResult, []*mq.OrderEvent, error) {
	ok, err := tx.Orders.Transition(ctx, payment.OrderID, model.StatusPendingPayment, model.StatusPaid,
		map[string]any{"paid_at": s.now()})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		if err := tx.Payments.UpdateStatus(ctx, payment.ID, model.PaymentFailed, payment.Confirmations); err != nil {
			return nil, nil, err
		}
		order, err := tx.Orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn(ctx, "payment arrived after order left pending",
			zap.Int64("order_id", order.ID), zap.String("order_status", string(order.Status)))
		return &ReconcileResult{
			Status:      ReconcileNoMatch,
			OrderID:     order.ID,
			OrderStatus: order.Status,
			Reason:      ReasonOrderNotPending,
		}, nil, nil
	}
	if err := tx.Payments.UpdateStatus(ctx, payment.ID, model.PaymentConfirmed, payment.Confirmations); err != nil {
		return nil, nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(model.StatusPaid)).Inc()

	paid, err := tx.Orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, nil, err
	}
	res := &ReconcileResult{Status: ReconcileSuccess, OrderID: paid.ID, OrderStatus: paid.Status}
	events := []*mq.OrderEvent{mq.NewOrderEvent(paid, txHash)}

	var delivered *model.Order
	derr := tx.Transaction(ctx, func(inner *repository.Store) error {
		var err error
		delivered, err = s.delivery.Deliver(ctx, inner, paid.ID)
		return err
	})
	switch {
	case derr == nil:
		metrics.OrderTransitions.WithLabelValues(string(model.StatusCompleted)).Inc()
		res.OrderStatus = delivered.Status
		events = append(events, mq.NewOrderEvent(delivered, txHash))
	case errors.Is(derr, ErrInsufficientStock):
		logger.Error(ctx, "paid order left undelivered", zap.Int64("order_id", paid.ID), zap.Error(derr))
		res.DeliveryError = derr.Error()
	default:
		return nil, nil, fmt.Errorf("deliver order %d: %w", paid.ID, derr)
	}
	return res, events, nil
}

func (s *ReconcileService) duplicate(ctx context.Context, tx *repository.Store, payment *model.Payment) (*ReconcileResult, error) {
	order, err := tx.Orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{Status: ReconcileSuccess, OrderID: order.ID, OrderStatus: order.Status, Duplicate: true}
	if payment.Status == model.PaymentFailed {
		res.Status = ReconcileNoMatch
		res.Reason = ReasonOrderNotPending
	}
	return res, nil
}

func (s *ReconcileService) recordUnmatched(ctx context.Context, tx *repository.Store, n *PaymentNotification, reason string) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	err := tx.Unmatched.Record(ctx, &model.UnmatchedTransaction{
		TxHash:         n.TxHash,
		FromAddress:    n.FromAddress,
		ToAddress:      n.ToAddress,
		Amount:         n.Amount,
		Token:          n.Token,
		Confirmations:  n.Confirmations,
		BlockTimestamp: ts.UTC(),
		Reason:         reason,
	})
	if err != nil {
		return fmt.Errorf("record unmatched: %w", err)
	}
	logger.Warn(ctx, "transfer matched no pending order",
		zap.String("amount", amount.Format(n.Amount)),
		zap.Int("suffix", amount.Suffix(n.Amount)),
		zap.String("to", n.ToAddress),
		zap.String("reason", reason))
	return nil
}

// ResolveUnmatched 人工将未匹配交易应用到待支付订单，不校验金额（如买家支付了取整金额）
func (s *ReconcileService) ResolveUnmatched(ctx context.Context, txHash string, orderID int64) (*ReconcileResult, error) {
	ctx = logger.WithTraceID(ctx, txHash)

	var (
		res    *ReconcileResult
		events []*mq.OrderEvent
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		u, err := tx.Unmatched.FindByTxHash(ctx, txHash)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnmatchedNotFound
		}
		if err != nil {
			return err
		}
		if u.ResolvedOrderID != nil {
			return ErrAlreadyResolved
		}

		order, err := tx.Orders.FindByID(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.Status != model.StatusPendingPayment {
			return ErrOrderNotPending
		}

		payment, err := tx.Payments.FindByTxHashForUpdate(ctx, txHash)
		switch {
		case err == nil:
			if payment.Status == model.PaymentConfirmed {
				return ErrAlreadyResolved
			}
			// 迟到转账留下的失败支付记录改挂到新订单
			if err := tx.Payments.Reassign(ctx, payment.ID, orderID, model.PaymentPending); err != nil {
				return err
			}
			payment.OrderID = orderID
		case errors.Is(err, repository.ErrNotFound):
			payment = &model.Payment{
				TxHash:        u.TxHash,
				OrderID:       orderID,
				FromAddress:   u.FromAddress,
				ToAddress:     u.ToAddress,
				Amount:        u.Amount,
				Token:         u.Token,
				Confirmations: u.Confirmations,
				Status:        model.PaymentPending,
			}
			if _, err := tx.Payments.Insert(ctx, payment); err != nil {
				return err
			}
		default:
			return err
		}

		res, events, err = s.settle(ctx, tx, payment, txHash)
		if err != nil {
			return err
		}
		if res.Status != ReconcileSuccess {
			return ErrOrderNotPending
		}
		ok, err := tx.Unmatched.MarkResolved(ctx, txHash, orderID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "unmatched transfer resolved", zap.Int64("order_id", orderID),
		zap.String("order_status", string(res.OrderStatus)))
	s.publish(ctx, events)
	return res, nil
}

func (s *ReconcileService) publish(ctx context.Context, events []*mq.OrderEvent) {
	for _, ev := range events {
		if err := s.publisher.PublishEvent(ctx, ev); err != nil {
			logger.Warn(ctx, "publish order event failed", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		}
	}
}

func outcomeLabel(res *ReconcileResult) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case res.Status == ReconcileNoMatch:
		return "no_match"
	case res.Reason == ReasonAwaitingConfirm:
		return "pending"
	default:
		return "paid"
	}
}

// ListUnmatched 查询待人工处理的未匹配交易，按时间正序
func (s *ReconcileService) ListUnmatched(ctx context.Context, limit int) ([]model.UnmatchedTransaction, error) {
	return s.store.Unmatched.ListUnresolved(ctx, limit)
}
