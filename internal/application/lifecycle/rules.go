package lifecycle

import (
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Rules are the exit thresholds. Percentages are fractions (0.15 = 15%).
type Rules struct {
	StopLossPct    float64       `yaml:"stop_loss_pct"`
	TakeProfitPct  float64       `yaml:"take_profit_pct"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	StaleMinReturn float64       `yaml:"stale_min_return"`
	TrailingArm    float64       `yaml:"trailing_arm"`  // peak gain that arms the trailing stop
	TrailingDrop   float64       `yaml:"trailing_drop"` // drop from peak that fires it
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{
		StopLossPct:    0.15,
		TakeProfitPct:  0.50,
		StaleAfter:     24 * time.Hour,
		StaleMinReturn: 0.05,
		TrailingArm:    0.30,
		TrailingDrop:   0.15,
	}
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if r.StopLossPct <= 0 {
		r.StopLossPct = def.StopLossPct
	}
	if r.TakeProfitPct <= 0 {
		r.TakeProfitPct = def.TakeProfitPct
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = def.StaleAfter
	}
	if r.StaleMinReturn <= 0 {
		r.StaleMinReturn = def.StaleMinReturn
	}
	if r.TrailingArm <= 0 {
		r.TrailingArm = def.TrailingArm
	}
	if r.TrailingDrop <= 0 {
		r.TrailingDrop = def.TrailingDrop
	}
	return r
}

// Levels returns the stop-loss and take-profit prices for an entry.
func (r Rules) Levels(entry float64) (stopLoss, takeProfit float64) {
	return entry * (1 - r.StopLossPct), entry * (1 + r.TakeProfitPct)
}

// Evaluate checks the exit conditions of an open position in priority order
// and returns the first that holds. pos must already be marked at the latest
// price. market may be nil, in which case the chart reversal check is skipped.
func (r Rules) Evaluate(pos domain.Position, market *domain.MarketData, now time.Time) (domain.ExitTrigger, bool) {
	if pos.Status != domain.PositionOpen || pos.EntryPrice <= 0 {
		return domain.TriggerNone, false
	}
	price := pos.CurrentPrice
	sl, tp := pos.StopLoss, pos.TakeProfit
	if sl <= 0 || tp <= 0 {
		sl, tp = r.Levels(pos.EntryPrice)
	}

	if price <= sl {
		return domain.TriggerStopLoss, true
	}
	if price >= tp {
		return domain.TriggerTakeProfit, true
	}
	if market != nil {
		if action, _ := domain.ClassifyChart(*market); action == domain.ChartStrongSell {
			return domain.TriggerChartReversal, true
		}
	}
	if pos.Age(now) > r.StaleAfter && pos.ReturnPct() < r.StaleMinReturn {
		return domain.TriggerStale, true
	}
	if pos.PeakGain() >= r.TrailingArm && pos.DrawdownFromPeak() >= r.TrailingDrop {
		return domain.TriggerTrailingStop, true
	}
	return domain.TriggerNone, false
}
