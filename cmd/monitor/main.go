package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tron-storefront/internal/config"
	"tron-storefront/internal/dedup"
	"tron-storefront/internal/metrics"
	"tron-storefront/internal/monitor"
	"tron-storefront/internal/notify"
	"tron-storefront/pkg/logger"
	"tron-storefront/pkg/trongrid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	logger.Init("storefront-monitor", cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegisterMonitor(prometheus.DefaultRegisterer)

	chain := monitor.NewTronGridSource(
		trongrid.NewClient(cfg.Chain.TronGridAPIURL, cfg.Chain.TronGridAPIKey, trongrid.WithRateLimit(cfg.Chain.TronGridRPS)),
		cfg.Chain.WalletAddress,
		cfg.Chain.TokenContract,
	)
	backend := notify.NewClient(cfg.Monitor.BackendAPIURL, cfg.Internal.Token, 10*time.Second)

	poller := monitor.NewPoller(monitor.Config{
		Address:          cfg.Chain.WalletAddress,
		Contract:         cfg.Chain.TokenContract,
		Token:            cfg.Chain.AcceptedToken,
		MinConfirmations: cfg.Chain.MinConfirm,
		FetchLimit:       cfg.Monitor.FetchLimit,
		BackfillBlocks:   cfg.Monitor.BackfillBlocks,
		PollInterval:     cfg.PollInterval(),
		HealthInterval:   cfg.Monitor.HealthInterval,
	}, chain, backend, backend, dedup.New(cfg.Monitor.DedupCapacity, nil))

	if problems := poller.CheckHealth(ctx); len(problems) > 0 {
		logger.Warn(ctx, "starting with failing dependencies", zap.Errors("problems", problems))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		poller.HealthLoop(gctx)
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "monitor exited", zap.Error(err))
		return
	}
	logger.Info(ctx, "monitor stopped", zap.Int64("cursor", poller.Cursor()))
}
