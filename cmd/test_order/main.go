// test_order 通过 gRPC 下一笔测试订单，并持续打印后端为该订单发布的事件，直到中断
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tron-storefront/internal/config"
	"tron-storefront/internal/mq"
	"tron-storefront/pkg/logger"
	pb "tron-storefront/proto/order"
)

func main() {
	buyerID := flag.Int64("buyer", 1, "buyer id")
	productID := flag.Int64("product", 1, "product id")
	quantity := flag.Int("quantity", 1, "quantity")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	logger.Init("storefront-test-order", "debug")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("localhost:%d", cfg.GRPCPort)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), pb.WithJSON())
	if err != nil {
		logger.Fatal(ctx, "dial grpc", zap.String("addr", addr), zap.Error(err))
	}
	defer conn.Close()

	broker, err := mq.NewRabbitMQ(cfg.RabbitMQURL, cfg.OrderTTL())
	if err != nil {
		logger.Fatal(ctx, "connect rabbitmq", zap.Error(err))
	}
	defer broker.Close()

	events, err := broker.SubscribeEvents()
	if err != nil {
		logger.Fatal(ctx, "subscribe order events", zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	order, err := pb.NewOrderServiceClient(conn).CreateOrder(callCtx, &pb.CreateOrderRequest{
		BuyerID:   *buyerID,
		ProductID: *productID,
		Quantity:  int32(*quantity),
	})
	cancel()
	if err != nil {
		logger.Fatal(ctx, "create order", zap.Error(err))
	}

	logger.Info(ctx, "order created, send the exact amount to pay",
		zap.Int64("order_id", order.OrderID),
		zap.String("total_amount", order.TotalAmount),
		zap.String("payment_address", order.PaymentAddress),
		zap.Time("expires_at", time.Unix(order.ExpiresAt, 0)))

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "stopped")
			return
		case msg, ok := <-events:
			if !ok {
				logger.Warn(ctx, "event channel closed")
				return
			}
			var ev mq.OrderEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				logger.Warn(ctx, "drop malformed event", zap.Error(err))
				continue
			}
			// 临时队列收到全部订单的事件，只关注本次创建的订单
			if ev.OrderID != order.OrderID {
				continue
			}
			logger.Info(ctx, "order event",
				zap.Int64("order_id", ev.OrderID),
				zap.String("status", string(ev.Status)),
				zap.String("tx_hash", ev.TxHash),
				zap.String("download_token", ev.DownloadToken),
				zap.Time("at", time.Unix(ev.Timestamp, 0)))
		}
	}
}
