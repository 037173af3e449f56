package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"

	"tron-storefront/internal/amount"
	"tron-storefront/internal/config"
	"tron-storefront/internal/metrics"
	"tron-storefront/internal/mq"
	"tron-storefront/internal/repository"
	"tron-storefront/internal/server"
	"tron-storefront/internal/service"
	"tron-storefront/pkg/logger"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	logger.Init("storefront-server", cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(postgres.Open(cfg.DSN()))
	if err != nil {
		logger.Fatal(ctx, "connect database", zap.Error(err))
	}
	if err := repository.Migrate(db); err != nil {
		logger.Fatal(ctx, "migrate database", zap.Error(err))
	}
	store := repository.NewStore(db)

	broker, err := mq.NewRabbitMQ(cfg.RabbitMQURL, cfg.OrderTTL())
	if err != nil {
		logger.Fatal(ctx, "connect rabbitmq", zap.Error(err))
	}
	defer broker.Close()

	metrics.MustRegisterServer(prometheus.DefaultRegisterer)

	orders := service.NewOrderService(store, broker, amount.NewRandomSource(nil), service.OrderConfig{
		WalletAddress: cfg.Chain.WalletAddress,
		TTL:           cfg.OrderTTL(),
		AmountRetries: cfg.Orders.AmountRetries,
	})
	products := service.NewProductService(store)
	reconcile := service.NewReconcileService(store, service.NewDeliveryService(), broker, service.ReconcileConfig{
		AcceptedToken:    cfg.Chain.AcceptedToken,
		MinConfirmations: cfg.Chain.MinConfirm,
	})

	httpServer := server.NewHTTPServer(server.NewHTTPHandler(orders, products, reconcile, store, cfg.Internal.Token), cfg.HTTPPort)
	grpcServer := server.NewGRPCServer(orders)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		logger.Fatal(ctx, "listen grpc", zap.Int("port", cfg.GRPCPort), zap.Error(err))
	}

	logger.Info(ctx, "server starting",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("wallet", cfg.Chain.WalletAddress),
		zap.Int64("min_confirmations", cfg.Chain.MinConfirm))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		orders.StartExpireConsumer(gctx, broker)
		return nil
	})
	g.Go(func() error {
		orders.RunSweeper(gctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server exited", zap.Error(err))
		return
	}
	logger.Info(ctx, "server stopped")
}
