package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCircuitBreaker_AutoResetAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(30*time.Minute, 0)
	require.True(t, cb.IsOpen(t0))

	cb.Trip(ReasonDailyLoss, t0)
	assert.False(t, cb.IsOpen(t0.Add(29*time.Minute)))
	assert.Equal(t, BreakerTripped, cb.Status)

	assert.True(t, cb.IsOpen(t0.Add(30*time.Minute)))
	assert.Equal(t, BreakerArmed, cb.Status)
	assert.Empty(t, cb.Reason)
}

func TestCircuitBreaker_ManualStopOverridesCooldown(t *testing.T) {
	cb := NewCircuitBreaker(time.Minute, 0)
	cb.Stop(ReasonManualStop, t0)

	assert.False(t, cb.IsOpen(t0.Add(24*time.Hour)))

	// An automatic trip must not downgrade the manual stop.
	cb.Trip(ReasonDailyLoss, t0.Add(time.Hour))
	assert.True(t, cb.Manual)
	assert.Equal(t, ReasonManualStop, cb.Reason)
	assert.False(t, cb.IsOpen(t0.Add(48*time.Hour)))

	cb.Rearm()
	assert.True(t, cb.IsOpen(t0.Add(48*time.Hour)))
}

func TestCircuitBreaker_ConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(time.Hour, 3)
	cb.RecordLoss(t0)
	cb.RecordLoss(t0)
	cb.RecordWin()
	cb.RecordLoss(t0)
	cb.RecordLoss(t0)
	assert.True(t, cb.IsOpen(t0))

	cb.RecordLoss(t0)
	assert.False(t, cb.IsOpen(t0))
	assert.Equal(t, ReasonConsecutiveLosses, cb.Reason)
}

func TestNewSignal_RejectsEmptyAndDuplicateWallets(t *testing.T) {
	_, err := NewSignal(KindWalletConvergence, DirectionEnter, "X", nil, 0.8, t0)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	_, err = NewSignal(KindWalletConvergence, DirectionEnter, "X", []string{"a", "b", "a"}, 0.8, t0)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	s, err := NewSignal(KindWalletConvergence, DirectionEnter, "X", []string{"c", "a", "b"}, 1.4, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, s.Wallets)
	assert.Equal(t, 1.0, s.Strength)
}

func TestPosition_Math(t *testing.T) {
	p := Position{EntryPrice: 2, SizeUSD: 100, PeakPrice: 3, CurrentPrice: 2.4}
	assert.InDelta(t, 20.0, p.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 0.2, p.ReturnPct(), 1e-9)
	assert.InDelta(t, 0.5, p.PeakGain(), 1e-9)
	assert.InDelta(t, 0.2, p.DrawdownFromPeak(), 1e-9)
	assert.InDelta(t, -50.0, p.PnLAt(1), 1e-9)
}

func TestOutcomeOf(t *testing.T) {
	p := Position{ID: "p1", SizeUSD: 50, RealizedPnL: -5, ExitTrigger: TriggerStopLoss, ExitTime: t0}
	o := OutcomeOf(p)
	assert.InDelta(t, -0.1, o.ReturnPct, 1e-9)
	assert.False(t, o.Win())
	assert.Equal(t, TriggerStopLoss, ParseExitTrigger(o.Trigger.String()))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(2))
	assert.Equal(t, 0.0, Clamp01(nan()))
	assert.Equal(t, 0.3, Clamp01(0.3))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
