package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/adapters/paper"
	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/application/lifecycle"
	"github.com/alejandrodnm/copybot/internal/domain"
)

type fakeMarket struct {
	mu        sync.Mutex
	prices    map[string]float64
	liquidity map[string]float64
	fail      map[string]bool
}

func (f *fakeMarket) set(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

func (f *fakeMarket) FetchMarketData(_ context.Context, asset string) (domain.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[asset] {
		return domain.MarketData{}, fmt.Errorf("fake: %w", domain.ErrDataUnavailable)
	}
	liq, ok := f.liquidity[asset]
	if !ok {
		liq = 100_000
	}
	return domain.MarketData{Asset: asset, PriceUSD: f.prices[asset], LiquidityUSD: liq}, nil
}

type fakeExec struct {
	market *fakeMarket
	calls  atomic.Int32
	fail   atomic.Bool
}

func (f *fakeExec) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Fill, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return domain.Fill{}, fmt.Errorf("fake: %w", domain.ErrExecutionFailed)
	}
	md, _ := f.market.FetchMarketData(ctx, req.Asset)
	return domain.Fill{Signature: "sig", Price: md.PriceUSD, AmountUSD: req.AmountUSD, FilledAt: t0}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	closed  []domain.Position
	ctxErrs []error
}

func (f *fakeNotifier) OnSignalApproved(context.Context, domain.Position) error { return nil }

func (f *fakeNotifier) OnPositionClosed(ctx context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, pos)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return nil
}

type harness struct {
	ledger   *ledger.Ledger
	market   *fakeMarket
	exec     *fakeExec
	notifier *fakeNotifier
	mgr      *lifecycle.Manager
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		market:   &fakeMarket{prices: map[string]float64{}, liquidity: map[string]float64{}, fail: map[string]bool{}},
		notifier: &fakeNotifier{},
		now:      t0,
	}
	clock := func() time.Time { return h.now }
	h.exec = &fakeExec{market: h.market}
	h.ledger = ledger.New(ledger.Config{Capital: 1000, DailyLossLimit: 500, Now: clock})
	h.mgr = lifecycle.NewManager(lifecycle.Config{Now: clock}, h.ledger, h.market, h.exec, h.notifier, nil)
	return h
}

func (h *harness) open(t *testing.T, asset string, size, entry float64) domain.Position {
	t.Helper()
	res, ok, err := h.ledger.Reserve(asset, func(ledger.View) float64 { return size })
	require.NoError(t, err)
	require.True(t, ok)
	sl, tp := h.mgr.Rules().Levels(entry)
	pos, err := h.ledger.Commit(res, domain.Position{EntryPrice: entry, StopLoss: sl, TakeProfit: tp})
	require.NoError(t, err)
	h.market.set(asset, entry)
	return pos
}

func TestManager_TrailingStopScenario(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, "X", 100, 1.00)

	h.market.set("X", 1.35)
	res := h.mgr.Sweep(context.Background())
	assert.Empty(t, res.Closed)
	p, ok := h.ledger.Position(pos.ID)
	require.True(t, ok)
	assert.Equal(t, 1.35, p.PeakPrice)

	h.market.set("X", 1.14)
	res = h.mgr.Sweep(context.Background())
	require.Len(t, res.Closed, 1)
	closed := res.Closed[0]
	assert.Equal(t, domain.TriggerTrailingStop, closed.ExitTrigger)
	assert.InDelta(t, 14.0, closed.RealizedPnL, 1e-9)
	assert.Equal(t, "sig", closed.ExitSignature)

	_, ok = h.ledger.Position(pos.ID)
	assert.False(t, ok)
	require.Len(t, h.notifier.closed, 1)
	assert.InDelta(t, 1014.0, h.ledger.Snapshot().Capital, 1e-9)
}

func TestManager_SellFailureKeepsPositionOpen(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, "X", 100, 1.00)
	h.market.set("X", 0.80)
	h.exec.fail.Store(true)

	res := h.mgr.Sweep(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.Closed)
	_, ok := h.ledger.Position(pos.ID)
	assert.True(t, ok)

	h.exec.fail.Store(false)
	res = h.mgr.Sweep(context.Background())
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.TriggerStopLoss, res.Closed[0].ExitTrigger)
	assert.InDelta(t, -20.0, res.Closed[0].RealizedPnL, 1e-9)
}

func TestManager_SkipsAssetWithoutMarketData(t *testing.T) {
	h := newHarness(t)
	h.open(t, "X", 100, 1.00)
	h.open(t, "Y", 100, 1.00)
	h.market.set("Y", 0.5)
	h.market.fail["X"] = true

	res := h.mgr.Sweep(context.Background())
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, "Y", res.Closed[0].Asset)
}

func TestManager_StaleAfterADay(t *testing.T) {
	h := newHarness(t)
	h.open(t, "X", 100, 1.00)
	h.market.set("X", 1.02)

	assert.Empty(t, h.mgr.Sweep(context.Background()).Closed)

	h.now = h.now.Add(25 * time.Hour)
	res := h.mgr.Sweep(context.Background())
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.TriggerStale, res.Closed[0].ExitTrigger)
}

func TestManager_ConcurrentSweepsCloseOnce(t *testing.T) {
	h := newHarness(t)
	h.open(t, "X", 100, 1.00)
	h.market.set("X", 0.5)

	var wg sync.WaitGroup
	var closed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.mgr.Sweep(context.Background())
			closed.Add(int32(len(res.Closed)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), closed.Load())
	assert.Equal(t, int32(1), h.exec.calls.Load())
	assert.Len(t, h.ledger.ClosedPositions(), 1)
	assert.InDelta(t, -50.0, h.ledger.Snapshot().DailyPnL, 1e-9)
}

func TestManager_CloseClosedPosition(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, "X", 100, 1.00)

	_, err := h.mgr.Close(context.Background(), pos.ID, domain.TriggerStale)
	require.NoError(t, err)
	_, err = h.mgr.Close(context.Background(), pos.ID, domain.TriggerStale)
	assert.True(t, errors.Is(err, domain.ErrPositionNotOpen))
	assert.Equal(t, int32(1), h.exec.calls.Load())
}

func TestManager_ExitsIgnoreBreaker(t *testing.T) {
	h := newHarness(t)
	h.open(t, "X", 100, 1.00)
	h.ledger.EmergencyStop(domain.ReasonManualStop)
	h.market.set("X", 0.5)

	res := h.mgr.Sweep(context.Background())
	assert.Len(t, res.Closed, 1)
}

// withPaperExecutor swaps the fake executor for the paper one, which refuses
// orders over the slippage cap.
func (h *harness) withPaperExecutor() {
	clock := func() time.Time { return h.now }
	exec := paper.NewExecutor(paper.Config{Now: clock}, h.market)
	h.mgr = lifecycle.NewManager(lifecycle.Config{Now: clock}, h.ledger, h.market, exec, h.notifier, nil)
}

func TestManager_StopLossClosesOnThinPool(t *testing.T) {
	h := newHarness(t)
	h.withPaperExecutor()
	pos := h.open(t, "X", 100, 2.0)
	require.InDelta(t, 1.7, pos.StopLoss, 1e-9)

	// $50 sell against $1000 of liquidity: 510 bps, far above the 100 bps cap
	h.market.set("X", 1.0)
	h.market.liquidity["X"] = 1_000

	res := h.mgr.Sweep(context.Background())
	assert.Zero(t, res.Failed)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.TriggerStopLoss, res.Closed[0].ExitTrigger)
	assert.InDelta(t, 0.949, res.Closed[0].ExitPrice, 1e-9)
	_, ok := h.ledger.Position(pos.ID)
	assert.False(t, ok)
}

func TestManager_TakeProfitKeepsSlippageCap(t *testing.T) {
	h := newHarness(t)
	h.withPaperExecutor()
	pos := h.open(t, "X", 100, 1.0)
	h.market.set("X", 1.6)
	h.market.liquidity["X"] = 1_000

	res := h.mgr.Sweep(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.Closed)
	_, ok := h.ledger.Position(pos.ID)
	assert.True(t, ok)

	h.market.liquidity["X"] = 1_000_000
	res = h.mgr.Sweep(context.Background())
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.TriggerTakeProfit, res.Closed[0].ExitTrigger)
}

func TestManager_CloseNotifiesAfterCancel(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, "X", 100, 1.00)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.mgr.Close(ctx, pos.ID, domain.TriggerStale)
	require.NoError(t, err)

	require.Len(t, h.notifier.ctxErrs, 1)
	assert.NoError(t, h.notifier.ctxErrs[0])
}
