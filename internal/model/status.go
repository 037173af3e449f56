package model

import (
	"errors"
	"fmt"
)

// OrderStatus 订单生命周期状态，状态只能单向流转，任何状态都不会回到 StatusPendingPayment
type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusDelivering     OrderStatus = "delivering"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
	StatusExpired        OrderStatus = "expired"
)

// ErrInvalidTransition 非法的订单状态流转
var ErrInvalidTransition = errors.New("invalid order status transition")

var transitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment: {StatusPaid, StatusExpired, StatusCancelled},
	StatusPaid:           {StatusDelivering},
	StatusDelivering:     {StatusCompleted},
}

// Valid 是否为已知状态
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusDelivering,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal 是否为终态（不再允许任何流转）
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransitionTo 是否允许流转到 next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition 校验 from -> to 是否为合法流转，不合法时返回包装了两个状态的 ErrInvalidTransition
func ValidateTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseOrderStatus 解析订单状态字符串
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// PaymentStatus 支付记录状态
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// ProductStatus 商品状态
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)
