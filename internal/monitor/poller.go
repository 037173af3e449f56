// Package monitor 监听链上收款地址，并将转入交易通知给商城后端
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tron-storefront/internal/dedup"
	"tron-storefront/internal/metrics"
	"tron-storefront/pkg/logger"
)

// Config 轮询配置
type Config struct {
	Address          string
	Contract         string
	Token            string
	MinConfirmations int64
	FetchLimit       int
	BackfillBlocks   int64
	PollInterval     time.Duration
	HealthInterval   time.Duration
	CleanupInterval  time.Duration
	// DedupRetention 已通知哈希的保留时长（容量上限之外的时间上限）
	DedupRetention time.Duration
}

func (c *Config) defaults() {
	if c.MinConfirmations < 1 {
		c.MinConfirmations = 1
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 50
	}
	if c.BackfillBlocks < 0 {
		c.BackfillBlocks = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = 24 * time.Hour
	}
}

// Poller 轮询器，每个收款地址一个实例，Cycle 不可并发执行
type Poller struct {
	cfg      Config
	chain    ChainSource
	notifier Notifier
	backend  HealthChecker
	seen     *dedup.Set
	now      func() time.Time

	mu      sync.Mutex
	cursor  int64
	started bool
}

// NewPoller 创建轮询器，seen 为 nil 时使用默认容量的去重集合
func NewPoller(cfg Config, chain ChainSource, notifier Notifier, backend HealthChecker, seen *dedup.Set) *Poller {
	cfg.defaults()
	if seen == nil {
		seen = dedup.New(dedup.DefaultCapacity, nil)
	}
	return &Poller{
		cfg:      cfg,
		chain:    chain,
		notifier: notifier,
		backend:  backend,
		seen:     seen,
		now:      time.Now,
	}
}

// Cursor 返回已完整处理的最高区块高度
func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Run 立即轮询一次，之后每隔 PollInterval 轮询，直到 ctx 结束
// 单次失败只记录日志，下一轮照常执行
func (p *Poller) Run(ctx context.Context) {
	logger.Info(ctx, "poller started",
		zap.String("address", p.cfg.Address),
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Int64("min_confirmations", p.cfg.MinConfirmations))

	p.runCycle(ctx)

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "poller stopped", zap.Int64("cursor", p.Cursor()))
			return
		case <-poll.C:
			p.runCycle(ctx)
		case <-cleanup.C:
			n := p.seen.PruneBefore(p.now().Add(-p.cfg.DedupRetention))
			metrics.DedupSize.Set(float64(p.seen.Len()))
			logger.Debug(ctx, "dedup cleanup", zap.Int("pruned", n), zap.Int("remaining", p.seen.Len()))
		}
	}
}

// runCycle 执行一轮并记录结果指标
func (p *Poller) runCycle(ctx context.Context) {
	if err := p.Cycle(ctx); err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		logger.Error(ctx, "poll cycle failed", zap.Error(err))
		return
	}
	metrics.PollCycles.WithLabelValues("ok").Inc()
}

// Cycle 执行一次轮询：拉取最新转账，将确认数足够的新交易通知后端
// 游标只在拉取成功后前进，且不会越过通知失败或区块未索引的交易
func (p *Poller) Cycle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.chain.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("latest height: %w", err)
	}
	if !p.started {
		p.cursor = max(0, current-p.cfg.BackfillBlocks)
		p.started = true
		logger.Info(ctx, "cursor initialised", zap.Int64("height", current), zap.Int64("cursor", p.cursor))
	}

	raws, err := p.chain.ListTransfers(ctx, p.cfg.FetchLimit)
	if err != nil {
		return fmt.Errorf("list transfers: %w", err)
	}
	sort.SliceStable(raws, func(i, j int) bool {
		if !raws[i].BlockTimestamp.Equal(raws[j].BlockTimestamp) {
			return raws[i].BlockTimestamp.Before(raws[j].BlockTimestamp)
		}
		return raws[i].Hash < raws[j].Hash
	})

	// safe 及以下的区块都已满足最小确认数
	safe := current - p.cfg.MinConfirmations + 1
	hold := safe
	var failed []error

	for _, raw := range raws {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reason := p.reject(raw); reason != "" {
			metrics.TransfersSkipped.WithLabelValues(reason).Inc()
			continue
		}
		if p.seen.Contains(raw.Hash) {
			continue
		}
		amt, err := ParseAmount(raw.Value, raw.Decimals)
		if err != nil {
			metrics.TransfersSkipped.WithLabelValues("bad_amount").Inc()
			logger.Warn(ctx, "skip transfer with unparsable amount", zap.String("tx_hash", raw.Hash), zap.Error(err))
			continue
		}
		// 零金额转账多为地址投毒，直接忽略
		if !amt.IsPositive() {
			metrics.TransfersSkipped.WithLabelValues("zero_amount").Inc()
			p.seen.Seen(raw.Hash)
			continue
		}

		height, err := p.chain.TransactionHeight(ctx, raw.Hash)
		if errors.Is(err, ErrTxPending) {
			// 已列出但未索引，区块一定不高于 current，游标停在原处等下一轮
			metrics.TransfersSkipped.WithLabelValues("unindexed").Inc()
			hold = min(hold, p.cursor)
			continue
		}
		if err != nil {
			// 高度未知，游标停在原处，下一轮重新检查
			hold = min(hold, p.cursor)
			failed = append(failed, fmt.Errorf("height of %s: %w", raw.Hash, err))
			continue
		}
		if height <= p.cursor {
			metrics.TransfersSkipped.WithLabelValues("behind_cursor").Inc()
			continue
		}

		conf := Confirmations(current, height)
		if conf < p.cfg.MinConfirmations {
			metrics.TransfersSkipped.WithLabelValues("unconfirmed").Inc()
			continue
		}

		tx := ChainTransaction{
			Hash:           raw.Hash,
			From:           raw.From,
			To:             raw.To,
			Token:          p.cfg.Token,
			Amount:         amt,
			BlockHeight:    height,
			Confirmations:  conf,
			BlockTimestamp: raw.BlockTimestamp,
		}
		res, err := p.notifier.Notify(ctx, tx)
		if errors.Is(err, ErrRejected) {
			// 后端拒绝属于终态，记录后不再重试，也不阻塞游标
			p.seen.Seen(raw.Hash)
			metrics.TransfersNotified.WithLabelValues("rejected").Inc()
			logger.Warn(ctx, "backend rejected transfer", zap.String("tx_hash", raw.Hash), zap.Error(err))
			continue
		}
		if err != nil {
			metrics.TransfersNotified.WithLabelValues("error").Inc()
			hold = min(hold, height-1)
			failed = append(failed, fmt.Errorf("notify %s: %w", raw.Hash, err))
			continue
		}
		p.seen.Seen(raw.Hash)
		metrics.TransfersNotified.WithLabelValues(res.Status).Inc()
		logger.Info(ctx, "transfer notified",
			zap.String("tx_hash", tx.Hash),
			zap.String("amount", tx.Amount.StringFixed(6)),
			zap.Int64("confirmations", conf),
			zap.String("status", res.Status),
			zap.Int64("order_id", res.OrderID),
			zap.Bool("duplicate", res.Duplicate))
	}

	if hold > p.cursor {
		p.cursor = hold
	}
	metrics.CursorHeight.Set(float64(p.cursor))
	metrics.DedupSize.Set(float64(p.seen.Len()))
	return errors.Join(failed...)
}

// reject 返回跳过原因，空字符串表示接受
func (p *Poller) reject(raw RawTransfer) string {
	if raw.Hash == "" {
		return "no_hash"
	}
	if raw.ContractAddress != p.cfg.Contract {
		return "wrong_token"
	}
	if !strings.EqualFold(raw.To, p.cfg.Address) {
		return "wrong_receiver"
	}
	if raw.Type != "" && raw.Type != "Transfer" {
		return "not_transfer"
	}
	return ""
}

// HealthLoop 每隔 HealthInterval 检查链 API 和后端，不可用时记录告警
func (p *Poller) HealthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckHealth(ctx)
		}
	}
}

// CheckHealth 执行一轮健康检查，返回失败项
func (p *Poller) CheckHealth(ctx context.Context) []error {
	var problems []error
	if _, err := p.chain.LatestHeight(ctx); err != nil {
		problems = append(problems, fmt.Errorf("chain api: %w", err))
	}
	if p.backend != nil {
		if err := p.backend.Health(ctx); err != nil {
			problems = append(problems, fmt.Errorf("backend: %w", err))
		}
	}
	for _, err := range problems {
		logger.Warn(ctx, "health check failed", zap.Error(err))
	}
	if len(problems) == 0 {
		logger.Debug(ctx, "health check ok", zap.Int64("cursor", p.Cursor()), zap.Int("dedup", p.seen.Len()))
	}
	return problems
}
