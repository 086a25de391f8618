package ledger_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newLedger(capital float64) (*ledger.Ledger, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := ledger.New(ledger.Config{
		Capital:         capital,
		DailyLossLimit:  50,
		BreakerCooldown: 30 * time.Minute,
		Now:             c.Now,
	})
	return l, c
}

func fixed(size float64) func(ledger.View) float64 {
	return func(ledger.View) float64 { return size }
}

func open(t *testing.T, l *ledger.Ledger, asset string, size, entry float64) domain.Position {
	t.Helper()
	res, ok, err := l.Reserve(asset, fixed(size))
	require.NoError(t, err)
	require.True(t, ok)
	pos, err := l.Commit(res, domain.Position{EntryPrice: entry, Kind: domain.KindWalletConvergence, Wallets: []string{"w1"}})
	require.NoError(t, err)
	return pos
}

func TestLedger_ReserveCommitClose(t *testing.T) {
	l, _ := newLedger(1000)

	pos := open(t, l, "X", 100, 2.0)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, 100.0, pos.SizeUSD)
	assert.Equal(t, 2.0, pos.PeakPrice)

	snap := l.Snapshot()
	assert.Equal(t, 900.0, snap.Available)
	assert.Equal(t, 100.0, snap.Exposure)
	assert.Len(t, snap.OpenPositions, 1)

	closed, err := l.Close(pos.ID, 2.5, domain.TriggerTakeProfit, "sig-exit")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, closed.Status)
	assert.InDelta(t, 25.0, closed.RealizedPnL, 1e-9)

	snap = l.Snapshot()
	assert.InDelta(t, 1025.0, snap.Capital, 1e-9)
	assert.InDelta(t, 1025.0, snap.Available, 1e-9)
	assert.InDelta(t, 25.0, snap.DailyPnL, 1e-9)
	assert.Empty(t, snap.OpenPositions)
	assert.Equal(t, 1, snap.ClosedCount)

	outcomes := l.Outcomes()
	require.Len(t, outcomes, 1)
	assert.InDelta(t, 0.25, outcomes[0].ReturnPct, 1e-9)
}

func TestLedger_CloseIsIdempotent(t *testing.T) {
	l, _ := newLedger(1000)
	pos := open(t, l, "X", 100, 1.0)

	_, err := l.Close(pos.ID, 0.5, domain.TriggerStopLoss, "")
	require.NoError(t, err)
	_, err = l.Close(pos.ID, 0.1, domain.TriggerStopLoss, "")
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)

	snap := l.Snapshot()
	assert.InDelta(t, -50.0, snap.DailyPnL, 1e-9)
	assert.Len(t, l.ClosedPositions(), 1)
}

func TestLedger_RollbackReleasesSlotAndCapital(t *testing.T) {
	l, _ := newLedger(1000)
	res, ok, err := l.Reserve("X", fixed(200))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 800.0, l.Snapshot().Available)

	var seen ledger.View
	_, ok, _ = l.Reserve("X", func(v ledger.View) float64 { seen = v; return 0 })
	assert.False(t, ok)
	assert.True(t, seen.AssetOccupied)
	assert.Equal(t, 200.0, seen.AssetExposure)

	l.Rollback(res)
	assert.Equal(t, 1000.0, l.Snapshot().Available)

	_, ok, err = l.Reserve("X", fixed(200))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_ReserveRoundsDownToCents(t *testing.T) {
	l, _ := newLedger(1000)
	res, ok, err := l.Reserve("X", fixed(12.349))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.34, res.Size)

	_, ok, err = l.Reserve("Y", fixed(0.004))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_InvariantViolationHaltsTrading(t *testing.T) {
	l, _ := newLedger(1000)
	open(t, l, "X", 100, 1)

	// A decision that ignores the occupied slot is a programming fault.
	_, ok, err := l.Reserve("X", fixed(50))
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	cb := l.Breaker()
	assert.Equal(t, domain.BreakerTripped, cb.Status)
	assert.True(t, cb.Manual)

	_, _, err = l.Reserve("Y", fixed(5000))
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestLedger_DailyLossTripsBreaker(t *testing.T) {
	l, c := newLedger(1000)
	pos := open(t, l, "X", 100, 1.0)

	_, err := l.Close(pos.ID, 0.4, domain.TriggerStopLoss, "")
	require.NoError(t, err)

	cb := l.Breaker()
	assert.Equal(t, domain.BreakerTripped, cb.Status)
	assert.Equal(t, domain.ReasonDailyLoss, cb.Reason)
	assert.False(t, cb.Manual)

	var view ledger.View
	l.Reserve("Y", func(v ledger.View) float64 { view = v; return 0 })
	assert.False(t, view.BreakerOpen)
	assert.InDelta(t, -60.0, view.DailyPnL, 1e-9)

	c.Advance(31 * time.Minute)
	assert.Equal(t, domain.BreakerArmed, l.Breaker().Status)
}

func TestLedger_DailyRollover(t *testing.T) {
	l, c := newLedger(1000)
	pos := open(t, l, "X", 100, 1.0)
	_, err := l.Close(pos.ID, 0.8, domain.TriggerStopLoss, "")
	require.NoError(t, err)
	assert.InDelta(t, -20.0, l.Snapshot().DailyPnL, 1e-9)

	c.Advance(24 * time.Hour)
	snap := l.Snapshot()
	assert.Equal(t, 0.0, snap.DailyPnL)
	assert.Equal(t, "2026-03-02", snap.DailyDate)
	assert.InDelta(t, 980.0, snap.Capital, 1e-9)
}

func TestLedger_EmergencyStopAndRearm(t *testing.T) {
	l, c := newLedger(1000)
	l.EmergencyStop(domain.ReasonManualStop)
	c.Advance(48 * time.Hour)
	assert.Equal(t, domain.BreakerTripped, l.Breaker().Status)

	l.Rearm()
	assert.Equal(t, domain.BreakerArmed, l.Breaker().Status)

	l.TripBreaker(domain.ReasonEmergency)
	assert.Equal(t, domain.BreakerTripped, l.Breaker().Status)
	c.Advance(30 * time.Minute)
	assert.Equal(t, domain.BreakerArmed, l.Breaker().Status)
}

func TestLedger_MarkPriceTracksPeak(t *testing.T) {
	l, _ := newLedger(1000)
	pos := open(t, l, "X", 100, 1.0)

	_, err := l.MarkPrice(pos.ID, 1.35)
	require.NoError(t, err)
	p, err := l.MarkPrice(pos.ID, 1.14)
	require.NoError(t, err)
	assert.Equal(t, 1.35, p.PeakPrice)
	assert.Equal(t, 1.14, p.CurrentPrice)

	_, err = l.MarkPrice("missing", 1)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
}

func TestLedger_ClaimExitSingleWinner(t *testing.T) {
	l, _ := newLedger(1000)
	pos := open(t, l, "X", 100, 1.0)

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ClaimExit(pos.ID); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)

	l.ReleaseExit(pos.ID)
	_, err := l.ClaimExit(pos.ID)
	assert.NoError(t, err)
}

func TestLedger_ConcurrentReservesNeverExceedCapital(t *testing.T) {
	l, _ := newLedger(1000)

	var wg sync.WaitGroup
	var granted int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := l.Reserve(fmt.Sprintf("A%03d", i), func(v ledger.View) float64 {
				if v.AssetOccupied {
					return 0
				}
				return min(30, v.Available)
			})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&granted, 1)
			}
		}(i)
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.LessOrEqual(t, snap.Reserved+snap.Exposure, snap.Capital)
	assert.InDelta(t, 1000.0, snap.Reserved, 1e-9)
	assert.Equal(t, int32(34), granted) // 33 × $30 + one $10 remainder
}

func TestLedger_ConcurrentReservesOneSlotPerAsset(t *testing.T) {
	l, _ := newLedger(1000)

	var wg sync.WaitGroup
	var granted int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := l.Reserve("X", func(v ledger.View) float64 {
				if v.AssetOccupied {
					return 0
				}
				return 10
			})
			if ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted)
	assert.Equal(t, domain.BreakerArmed, l.Breaker().Status)
}

func TestLedger_CopyStats(t *testing.T) {
	l, _ := newLedger(1000)
	p1 := open(t, l, "X", 100, 1.0)
	_, err := l.Close(p1.ID, 1.2, domain.TriggerTakeProfit, "")
	require.NoError(t, err)
	p2 := open(t, l, "Y", 100, 1.0)
	_, err = l.Close(p2.ID, 0.9, domain.TriggerStopLoss, "")
	require.NoError(t, err)

	stats := l.CopyStats()
	assert.Equal(t, domain.CopyStats{Wins: 1, Losses: 1}, stats["w1"])
}

func TestLedger_Restore(t *testing.T) {
	l, c := newLedger(1000)
	today := c.Now().Add(-time.Hour)
	yesterday := c.Now().Add(-30 * time.Hour)

	openPos := []domain.Position{{ID: "p1", Asset: "X", SizeUSD: 100, EntryPrice: 1, PeakPrice: 1.2, EntryTime: yesterday}}
	outcomes := []domain.Outcome{
		{PositionID: "old", PnL: 40, ClosedAt: yesterday},
		{PositionID: "new", PnL: -10, ClosedAt: today},
	}
	cb := domain.CircuitBreaker{Status: domain.BreakerTripped, Manual: true, Reason: domain.ReasonManualStop}

	require.NoError(t, l.Restore(openPos, outcomes, cb))

	snap := l.Snapshot()
	assert.InDelta(t, 1030.0, snap.Capital, 1e-9)
	assert.InDelta(t, -10.0, snap.DailyPnL, 1e-9)
	assert.InDelta(t, 930.0, snap.Available, 1e-9)
	assert.Equal(t, domain.BreakerTripped, snap.Breaker.Status)
	p, ok := l.Position("p1")
	require.True(t, ok)
	assert.Equal(t, 1.2, p.PeakPrice)

	assert.ErrorIs(t, l.Restore(nil, nil, domain.CircuitBreaker{}), domain.ErrInvariantViolation)
}
