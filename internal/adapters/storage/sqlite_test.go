package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/copybot/internal/adapters/storage"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_TradesRoundTrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	trades := []domain.Trade{
		{ID: "t2", Wallet: "w1", Asset: "X", Side: domain.SideSell, Amount: 10, Price: 1.5, Timestamp: now.Add(-time.Hour)},
		{ID: "t1", Wallet: "w1", Asset: "X", Side: domain.SideBuy, Amount: 10, Price: 1.0, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "t3", Wallet: "w2", Asset: "Y", Side: domain.SideBuy, Amount: 1, Price: 3.0, Timestamp: now},
	}
	require.NoError(t, db.SaveTrades(ctx, trades))
	// Re-fetch solapado: no duplica
	require.NoError(t, db.SaveTrades(ctx, trades[:1]))

	got, err := db.LoadTrades(ctx, "w1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, domain.SideBuy, got[0].Side)
	assert.True(t, got[0].Timestamp.Equal(now.Add(-2*time.Hour)))
	assert.Equal(t, "t2", got[1].ID)

	got, err = db.LoadTrades(ctx, "w1", now.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)
}

func TestSQLiteStorage_SaveEmptyTrades(t *testing.T) {
	db := openDB(t)
	assert.NoError(t, db.SaveTrades(context.Background(), nil))
}

func TestSQLiteStorage_PositionLifecycle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	entry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pos := domain.Position{
		ID:             "p1",
		Asset:          "X",
		Kind:           domain.KindHotWalletActivity,
		Confidence:     0.82,
		Wallets:        []string{"w1", "w2"},
		SizeUSD:        25,
		EntryPrice:     2,
		EntryTime:      entry,
		StopLoss:       1.7,
		TakeProfit:     3,
		PeakPrice:      2,
		Status:         domain.PositionOpen,
		EntrySignature: "paper-1",
	}
	require.NoError(t, db.SavePosition(ctx, pos))

	open, err := db.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos, open[0])

	outcomes, err := db.LoadOutcomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	pos.Status = domain.PositionClosed
	pos.ExitPrice = 2.4
	pos.ExitTime = entry.Add(3 * time.Hour)
	pos.ExitTrigger = domain.TriggerTrailingStop
	pos.RealizedPnL = 5
	pos.ExitSignature = "paper-2"
	require.NoError(t, db.SavePosition(ctx, pos))

	open, err = db.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	outcomes, err = db.LoadOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, "p1", o.PositionID)
	assert.Equal(t, domain.KindHotWalletActivity, o.Kind)
	assert.Equal(t, domain.TriggerTrailingStop, o.Trigger)
	assert.Equal(t, []string{"w1", "w2"}, o.Wallets)
	assert.InDelta(t, 0.2, o.ReturnPct, 1e-9)
	assert.True(t, o.ClosedAt.Equal(entry.Add(3*time.Hour)))
}

func TestSQLiteStorage_OutcomesOrderedByExit(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"late", "early"} {
		require.NoError(t, db.SavePosition(ctx, domain.Position{
			ID:        id,
			Asset:     id,
			SizeUSD:   10,
			EntryTime: base,
			Status:    domain.PositionClosed,
			ExitTime:  base.Add(time.Duration(2-i) * time.Hour),
		}))
	}
	outcomes, err := db.LoadOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "early", outcomes[0].PositionID)
	assert.Equal(t, "late", outcomes[1].PositionID)
}

func TestSQLiteStorage_CircuitBreaker(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	cb, err := db.LoadCircuitBreaker(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BreakerArmed, cb.Status)

	tripped := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveCircuitBreaker(ctx, domain.CircuitBreaker{
		Status:        domain.BreakerTripped,
		Reason:        domain.ReasonDailyLoss,
		TrippedAt:     tripped,
		CooldownUntil: tripped.Add(time.Hour),
	}))
	require.NoError(t, db.SaveCircuitBreaker(ctx, domain.CircuitBreaker{
		Status:    domain.BreakerTripped,
		Reason:    domain.ReasonManualStop,
		TrippedAt: tripped,
		Manual:    true,
	}))

	cb, err = db.LoadCircuitBreaker(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BreakerTripped, cb.Status)
	assert.Equal(t, domain.ReasonManualStop, cb.Reason)
	assert.True(t, cb.Manual)
	assert.True(t, cb.TrippedAt.Equal(tripped))
	assert.True(t, cb.CooldownUntil.IsZero())
}

func TestSQLiteStorage_DailyPnL(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveDailyPnL(ctx, "2026-03-01", -12.5, 2))
	require.NoError(t, db.SaveDailyPnL(ctx, "2026-03-02", 4, 1))
	require.NoError(t, db.SaveDailyPnL(ctx, "2026-03-02", 9, 3))

	days, err := db.LoadDailyPnL(ctx, 10)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, storage.DailyPnL{Date: "2026-03-02", PnL: 9, Closed: 3}, days[0])
	assert.Equal(t, "2026-03-01", days[1].Date)
}
