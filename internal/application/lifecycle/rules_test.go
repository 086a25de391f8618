package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/copybot/internal/application/lifecycle"
	"github.com/alejandrodnm/copybot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openAt(entry, peak, current float64, age time.Duration) domain.Position {
	return domain.Position{
		ID:           "p1",
		Asset:        "X",
		SizeUSD:      100,
		EntryPrice:   entry,
		EntryTime:    t0.Add(-age),
		PeakPrice:    peak,
		CurrentPrice: current,
		Status:       domain.PositionOpen,
	}
}

func TestRules_Evaluate(t *testing.T) {
	rules := lifecycle.DefaultRules()
	dump := &domain.MarketData{Change5m: -8, Change1h: -15, Change24h: -25}
	calm := &domain.MarketData{Change5m: 0.5, Change1h: 1, Change24h: 3}

	tests := []struct {
		name   string
		pos    domain.Position
		market *domain.MarketData
		want   domain.ExitTrigger
	}{
		{"stop loss", openAt(1, 1, 0.84, time.Hour), calm, domain.TriggerStopLoss},
		{"take profit", openAt(1, 1.5, 1.5, time.Hour), calm, domain.TriggerTakeProfit},
		{"chart reversal", openAt(1, 1.1, 1.05, time.Hour), dump, domain.TriggerChartReversal},
		{"stale and flat", openAt(1, 1.03, 1.02, 25*time.Hour), calm, domain.TriggerStale},
		{"trailing stop fires above entry", openAt(1, 1.35, 1.14, time.Hour), calm, domain.TriggerTrailingStop},
		{"stop loss beats trailing stop", openAt(1, 1.35, 0.80, time.Hour), calm, domain.TriggerStopLoss},
		{"stop loss beats chart reversal", openAt(1, 1, 0.80, time.Hour), dump, domain.TriggerStopLoss},
		{"take profit beats chart reversal", openAt(1, 1.6, 1.6, 30*time.Hour), dump, domain.TriggerTakeProfit},
		{"chart reversal beats stale", openAt(1, 1, 1, 30*time.Hour), dump, domain.TriggerChartReversal},
		{"stale beats trailing stop", openAt(1, 1.40, 1.0, 30*time.Hour), calm, domain.TriggerStale},
		{"stale needs age", openAt(1, 1, 1, 23*time.Hour), calm, domain.TriggerNone},
		{"old but profitable is not stale", openAt(1, 1.1, 1.06, 48*time.Hour), calm, domain.TriggerNone},
		{"trailing not armed below 30%", openAt(1, 1.25, 1.0, time.Hour), calm, domain.TriggerNone},
		{"armed but drop under 15%", openAt(1, 1.40, 1.30, time.Hour), calm, domain.TriggerNone},
		{"no market skips chart check", openAt(1, 1.1, 1.05, time.Hour), nil, domain.TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fire := rules.Evaluate(tt.pos, tt.market, t0)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != domain.TriggerNone, fire)
		})
	}
}

func TestRules_ClosedPositionIsNoOp(t *testing.T) {
	pos := openAt(1, 1, 0.5, time.Hour)
	pos.Status = domain.PositionClosed
	got, fire := lifecycle.DefaultRules().Evaluate(pos, nil, t0)
	assert.False(t, fire)
	assert.Equal(t, domain.TriggerNone, got)
}

func TestRules_ExplicitLevelsWin(t *testing.T) {
	pos := openAt(1, 1, 0.9, time.Hour)
	pos.StopLoss, pos.TakeProfit = 0.95, 1.2
	got, _ := lifecycle.DefaultRules().Evaluate(pos, nil, t0)
	assert.Equal(t, domain.TriggerStopLoss, got)
}

func TestRules_Levels(t *testing.T) {
	sl, tp := lifecycle.DefaultRules().Levels(2.0)
	assert.InDelta(t, 1.70, sl, 1e-9)
	assert.InDelta(t, 3.00, tp, 1e-9)
}
