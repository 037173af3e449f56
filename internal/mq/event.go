package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/model"
)

// OrderEvent 订单状态变更事件，发布到通知交换机
type OrderEvent struct {
	OrderID        int64             `json:"order_id"`
	BuyerID        int64             `json:"buyer_id"`
	Status         model.OrderStatus `json:"status"`
	TotalAmount    string            `json:"total_amount"`
	PaymentAddress string            `json:"payment_address"`
	TxHash         string            `json:"tx_hash,omitempty"`
	DownloadToken  string            `json:"download_token,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

// NewOrderEvent 根据订单当前状态生成事件
func NewOrderEvent(o *model.Order, txHash string) *OrderEvent {
	return &OrderEvent{
		OrderID:        o.ID,
		BuyerID:        o.BuyerID,
		Status:         o.Status,
		TotalAmount:    amount.Format(o.TotalAmount),
		PaymentAddress: o.PaymentAddress,
		TxHash:         txHash,
		DownloadToken:  o.DownloadToken,
		Timestamp:      time.Now().Unix(),
	}
}

// Publisher 业务层依赖的消息发布接口
type Publisher interface {
	PublishDelay(ctx context.Context, orderID int64) error
	PublishEvent(ctx context.Context, ev *OrderEvent) error
}

// Recorder 内存版 Publisher，用于测试及无消息队列运行
type Recorder struct {
	mu     sync.Mutex
	Delays []int64
	Events []OrderEvent
}

func (r *Recorder) PublishDelay(_ context.Context, orderID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Delays = append(r.Delays, orderID)
	return nil
}

func (r *Recorder) PublishEvent(_ context.Context, ev *OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, *ev)
	return nil
}

// Statuses 按顺序返回 orderID 已记录事件的状态
func (r *Recorder) Statuses(orderID int64) []model.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OrderStatus
	for _, ev := range r.Events {
		if ev.OrderID == orderID {
			out = append(out, ev.Status)
		}
	}
	return out
}

// ParseExpireMessage 解析延迟队列消息体
func ParseExpireMessage(body []byte) (int64, error) {
	var msg ExpireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, fmt.Errorf("decode expire message: %w", err)
	}
	if msg.OrderID <= 0 {
		return 0, fmt.Errorf("expire message without order id")
	}
	return msg.OrderID, nil
}
