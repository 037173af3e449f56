package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tron-storefront/internal/dedup"
)

const (
	deposit  = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"
	contract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

type fakeChain struct {
	mu        sync.Mutex
	height    int64
	transfers []RawTransfer
	heights   map[string]int64
	listErr   error
	heightErr error
}

func (c *fakeChain) LatestHeight(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heightErr != nil {
		return 0, c.heightErr
	}
	return c.height, nil
}

func (c *fakeChain) ListTransfers(_ context.Context, limit int) ([]RawTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := append([]RawTransfer(nil), c.transfers...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *fakeChain) TransactionHeight(_ context.Context, hash string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.heights[hash]
	if !ok {
		return 0, ErrTxPending
	}
	return h, nil
}

// add registers a transfer of value (smallest unit) included at height.
func (c *fakeChain) add(hash, value string, height int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heights == nil {
		c.heights = map[string]int64{}
	}
	c.heights[hash] = height
	// newest first, like the indexer
	c.transfers = append([]RawTransfer{{
		Hash:            hash,
		From:            "TBuyer",
		To:              deposit,
		Type:            "Transfer",
		ContractAddress: contract,
		Value:           value,
		Decimals:        6,
		BlockTimestamp:  time.Unix(1_700_000_000+height*3, 0).UTC(),
	}}, c.transfers...)
}

func (c *fakeChain) setHeight(h int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []ChainTransaction
	fail     map[string]bool
	rejected map[string]bool
	calls    int
}

func (n *fakeNotifier) Notify(_ context.Context, tx ChainTransaction) (NotifyResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail[tx.Hash] {
		return NotifyResult{}, errors.New("backend down")
	}
	if n.rejected[tx.Hash] {
		return NotifyResult{}, fmt.Errorf("%w: status 400", ErrRejected)
	}
	n.sent = append(n.sent, tx)
	return NotifyResult{Status: "success"}, nil
}

func (n *fakeNotifier) hashes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, tx := range n.sent {
		out = append(out, tx.Hash)
	}
	return out
}

func (n *fakeNotifier) setFail(hash string, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail == nil {
		n.fail = map[string]bool{}
	}
	n.fail[hash] = fail
}

func newPoller(chain *fakeChain, n *fakeNotifier, minConfirm int64) *Poller {
	return NewPoller(Config{
		Address:          deposit,
		Contract:         contract,
		Token:            "USDT-TRC20",
		MinConfirmations: minConfirm,
		FetchLimit:       50,
		BackfillBlocks:   100,
	}, chain, n, nil, dedup.New(100, nil))
}

func TestColdStartCursorAndOrder(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("old", "1000000", 4800) // before the backfill window
	chain.add("a", "9990423", 4950)
	chain.add("b", "5000001", 4960)
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)

	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"a", "b"}, n.hashes())
	assert.Equal(t, int64(5000), p.Cursor())

	first := n.sent[0]
	assert.True(t, decimal.RequireFromString("9.990423").Equal(first.Amount))
	assert.Equal(t, int64(51), first.Confirmations)
	assert.Equal(t, int64(4950), first.BlockHeight)
	assert.Equal(t, "USDT-TRC20", first.Token)
}

func TestCycleDoesNotRenotify(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("a", "9990423", 4990)
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)

	require.NoError(t, p.Cycle(context.Background()))
	chain.setHeight(5010)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"a"}, n.hashes())
}

func TestBelowMinimumIsRedelivered(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("a", "9990423", 4999) // 2 confirmations
	n := &fakeNotifier{}
	p := newPoller(chain, n, 19)

	require.NoError(t, p.Cycle(context.Background()))
	assert.Empty(t, n.hashes())
	assert.Less(t, p.Cursor(), int64(4999))

	chain.setHeight(5017) // 19 confirmations
	require.NoError(t, p.Cycle(context.Background()))
	require.Equal(t, []string{"a"}, n.hashes())
	assert.Equal(t, int64(19), n.sent[0].Confirmations)
}

func TestNotifyFailureHoldsCursor(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("a", "1000000", 4950)
	chain.add("b", "2000000", 4960)
	n := &fakeNotifier{}
	n.setFail("a", true)
	p := newPoller(chain, n, 1)

	err := p.Cycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"b"}, n.hashes())
	assert.Equal(t, int64(4949), p.Cursor())

	n.setFail("a", false)
	chain.setHeight(5005)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"b", "a"}, n.hashes())
	assert.Equal(t, int64(5005), p.Cursor())
}

func TestFetchFailureKeepsCursor(t *testing.T) {
	chain := &fakeChain{height: 5000}
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)
	require.NoError(t, p.Cycle(context.Background()))
	require.Equal(t, int64(5000), p.Cursor())

	chain.setHeight(5100)
	chain.listErr = errors.New("429 too many requests")
	assert.Error(t, p.Cycle(context.Background()))
	assert.Equal(t, int64(5000), p.Cursor())

	chain.listErr = nil
	chain.add("late", "1000000", 5050)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"late"}, n.hashes())
}

func TestSkipsForeignAndMalformed(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("good", "1000000", 4990)
	chain.add("bad-amount", "12.5", 4991)
	chain.add("other-token", "1000000", 4992)
	chain.transfers[0].ContractAddress = "TOtherToken"
	chain.add("other-receiver", "1000000", 4993)
	chain.transfers[0].To = "TSomeoneElse"
	chain.add("approval", "1000000", 4994)
	chain.transfers[0].Type = "Approval"
	chain.add("unindexed", "1000000", 4995)
	delete(chain.heights, "unindexed")

	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"good"}, n.hashes())
	// 未索引的交易让游标停留在冷启动位置
	assert.Equal(t, int64(4900), p.Cursor())
}

func TestUnindexedTransferIsNotifiedOnceIndexed(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("x", "9990423", 5000)
	delete(chain.heights, "x")
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)

	require.NoError(t, p.Cycle(context.Background()))
	assert.Empty(t, n.hashes())
	assert.Equal(t, int64(4900), p.Cursor())

	chain.mu.Lock()
	chain.heights["x"] = 5000
	chain.mu.Unlock()
	chain.setHeight(5001)

	require.NoError(t, p.Cycle(context.Background()))
	require.Equal(t, []string{"x"}, n.hashes())
	assert.Equal(t, int64(2), n.sent[0].Confirmations)
	assert.Equal(t, int64(5001), p.Cursor())
}

func TestZeroAmountTransferIsSkipped(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("dust", "0", 4990)
	chain.add("pay", "1000000", 4991)
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)

	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, []string{"pay"}, n.hashes())
	assert.Equal(t, int64(5000), p.Cursor())
}

func TestRejectedNotificationDoesNotHoldCursor(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("bad", "1000000", 4950)
	n := &fakeNotifier{rejected: map[string]bool{"bad": true}}
	p := newPoller(chain, n, 1)

	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, int64(5000), p.Cursor())

	chain.setHeight(5100)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, int64(5100), p.Cursor())
	assert.Equal(t, 1, n.calls)
	assert.Empty(t, n.hashes())
}

func TestSkipsAtOrBelowCursor(t *testing.T) {
	chain := &fakeChain{height: 5000}
	n := &fakeNotifier{}
	p := newPoller(chain, n, 1)
	require.NoError(t, p.Cycle(context.Background()))

	// a transfer the indexer surfaces late, below the processed window
	chain.add("stale", "1000000", 4990)
	require.NoError(t, p.Cycle(context.Background()))
	assert.Empty(t, n.hashes())
}

func TestRunStopsOnCancel(t *testing.T) {
	chain := &fakeChain{height: 5000}
	chain.add("a", "1000000", 4990)
	n := &fakeNotifier{}
	p := NewPoller(Config{
		Address: deposit, Contract: contract, Token: "USDT-TRC20",
		BackfillBlocks: 100,
		PollInterval:   10 * time.Millisecond,
	}, chain, n, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return len(n.hashes()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"a"}, n.hashes())
}

type fakeBackend struct{ err error }

func (b fakeBackend) Health(context.Context) error { return b.err }

func TestCheckHealth(t *testing.T) {
	chain := &fakeChain{height: 5000}
	p := NewPoller(Config{Address: deposit, Contract: contract}, chain, &fakeNotifier{}, fakeBackend{}, nil)
	assert.Empty(t, p.CheckHealth(context.Background()))

	chain.heightErr = errors.New("timeout")
	p.backend = fakeBackend{err: errors.New("503")}
	assert.Len(t, p.CheckHealth(context.Background()), 2)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("9990423", 6)
	require.NoError(t, err)
	assert.Equal(t, "9.990423", d.StringFixed(6))

	d, err = ParseAmount("1", 0)
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(1)))

	for _, v := range []string{"", "abc", "-5", "1.5"} {
		_, err := ParseAmount(v, 6)
		assert.Error(t, err, v)
	}
	_, err = ParseAmount("1", -1)
	assert.Error(t, err)
}

func TestConfirmations(t *testing.T) {
	assert.Equal(t, int64(1), Confirmations(100, 100))
	assert.Equal(t, int64(11), Confirmations(110, 100))
	assert.Equal(t, int64(0), Confirmations(99, 100))
}
