package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"tron-storefront/pkg/logger"
	"tron-storefront/pkg/safe"
)

const (
	DelayExchange  = "storefront.order.delay"
	ExpireExchange = "storefront.order.expire"
	NotifyExchange = "storefront.order.notify"

	DelayQueue  = "storefront.order.delay.queue"
	ExpireQueue = "storefront.order.expire.queue"
	NotifyQueue = "storefront.order.notify.queue"

	DelayRoutingKey  = "order.delay"
	ExpireRoutingKey = "order.expire"
	NotifyRoutingKey = "order.notify"

	reconnectDelay = 3 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrNotConnected 未连接到 RabbitMQ
var ErrNotConnected = errors.New("rabbitmq not connected")

// ExpireMessage 延迟队列消息体
type ExpireMessage struct {
	OrderID int64 `json:"order_id"`
}

// RabbitMQ 连接管理，断线后自动重连
type RabbitMQ struct {
	url string
	ttl time.Duration

	conn    *amqp.Connection
	channel *amqp.Channel

	mu          sync.RWMutex
	isConnected bool
	done        chan struct{}
	closeOnce   sync.Once
}

// NewRabbitMQ 连接 RabbitMQ 并声明拓扑，延迟队列中的消息在 ttl 后死信转入过期队列
func NewRabbitMQ(url string, ttl time.Duration) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:  url,
		ttl:  ttl,
		done: make(chan struct{}),
	}
	if err := r.connect(); err != nil {
		return nil, err
	}
	safe.Go(context.Background(), func(context.Context) { r.monitorConnection() })
	return r, nil
}

func (r *RabbitMQ) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, r.ttl); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	r.conn = conn
	r.channel = ch
	r.isConnected = true
	logger.Info(context.Background(), "rabbitmq connected")
	return nil
}

func (r *RabbitMQ) monitorConnection() {
	for {
		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-r.done:
			return
		case err := <-notifyClose:
			if err != nil {
				logger.Warn(context.Background(), "rabbitmq connection lost", zap.String("reason", err.Reason))
			}
			r.mu.Lock()
			r.isConnected = false
			r.mu.Unlock()
			if !r.reconnect() {
				return
			}
		}
	}
}

// reconnect 重连直到成功或调用 Close
func (r *RabbitMQ) reconnect() bool {
	for attempt := 1; ; attempt++ {
		select {
		case <-r.done:
			return false
		case <-time.After(reconnectDelay):
		}
		if err := r.connect(); err != nil {
			logger.Warn(context.Background(), "rabbitmq reconnect failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return true
	}
}

func declareTopology(ch *amqp.Channel, ttl time.Duration) error {
	for _, ex := range []string{ExpireExchange, NotifyExchange, DelayExchange} {
		if err := ch.ExchangeDeclare(ex, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	_, err := ch.QueueDeclare(DelayQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(ttl / time.Millisecond),
		"x-dead-letter-exchange":    ExpireExchange,
		"x-dead-letter-routing-key": ExpireRoutingKey,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", DelayQueue, err)
	}

	bindings := []struct{ queue, key, exchange string }{
		{DelayQueue, DelayRoutingKey, DelayExchange},
		{ExpireQueue, ExpireRoutingKey, ExpireExchange},
		{NotifyQueue, NotifyRoutingKey, NotifyExchange},
	}
	for _, b := range bindings {
		if b.queue != DelayQueue {
			if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare %s: %w", b.queue, err)
			}
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", b.queue, err)
		}
	}
	return nil
}

// IsConnected 是否已连接
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConnected
}

func (r *RabbitMQ) activeChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isConnected {
		return nil, ErrNotConnected
	}
	return r.channel, nil
}

func (r *RabbitMQ) publish(ctx context.Context, exchange, key string, v any) error {
	ch, err := r.activeChannel()
	if err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	})
}

// PublishDelay 发布延迟消息，队列 TTL 到期后检查订单是否过期
func (r *RabbitMQ) PublishDelay(ctx context.Context, orderID int64) error {
	return r.publish(ctx, DelayExchange, DelayRoutingKey, ExpireMessage{OrderID: orderID})
}

// PublishEvent 发布订单状态变更事件
func (r *RabbitMQ) PublishEvent(ctx context.Context, ev *OrderEvent) error {
	return r.publish(ctx, NotifyExchange, NotifyRoutingKey, ev)
}

// ConsumeExpire 消费过期队列
func (r *RabbitMQ) ConsumeExpire() (<-chan amqp.Delivery, error) {
	return r.consume(ExpireQueue, "expire")
}

// SubscribeEvents 声明独占、自动删除的临时队列并绑定通知交换机
// 每个订阅者拿到全部事件的副本，不会与机器人争抢共享的通知队列
func (r *RabbitMQ) SubscribeEvents() (<-chan amqp.Delivery, error) {
	ch, err := r.activeChannel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare event tap queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, NotifyRoutingKey, NotifyExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", q.Name, err)
	}
	return ch.Consume(q.Name, "tap-"+uuid.NewString(), true, true, false, false, nil)
}

func (r *RabbitMQ) consume(queue, prefix string) (<-chan amqp.Delivery, error) {
	ch, err := r.activeChannel()
	if err != nil {
		return nil, err
	}
	// 消费者标签唯一，重连后重新订阅不会冲突
	return ch.Consume(queue, prefix+"-"+uuid.NewString(), false, false, false, false, nil)
}

// Close 关闭连接，不再重连
func (r *RabbitMQ) Close() {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.channel != nil {
			if err := r.channel.Close(); err != nil {
				logger.Warn(context.Background(), "close rabbitmq channel", zap.Error(err))
			}
		}
		if r.conn != nil {
			if err := r.conn.Close(); err != nil {
				logger.Warn(context.Background(), "close rabbitmq connection", zap.Error(err))
			}
		}
		r.isConnected = false
	})
}
