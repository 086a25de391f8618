package domain

import "math"

// ChartAction is the outcome of the chart-pattern classifier.
type ChartAction int

const (
	ChartHold ChartAction = iota
	ChartStrongBuy
	ChartBuy
	ChartSell
	ChartStrongSell
)

func (a ChartAction) String() string {
	switch a {
	case ChartStrongBuy:
		return "STRONG_BUY"
	case ChartBuy:
		return "BUY"
	case ChartSell:
		return "SELL"
	case ChartStrongSell:
		return "STRONG_SELL"
	default:
		return "HOLD"
	}
}

// Bullish reports Buy or StrongBuy.
func (a ChartAction) Bullish() bool { return a == ChartBuy || a == ChartStrongBuy }

// Bearish reports Sell or StrongSell.
func (a ChartAction) Bearish() bool { return a == ChartSell || a == ChartStrongSell }

// ChartPattern names the rule that matched, for logs.
type ChartPattern string

const (
	PatternMomentum    ChartPattern = "momentum"
	PatternEarlyPump   ChartPattern = "early_pump"
	PatternPullback    ChartPattern = "pullback"
	PatternBreakout    ChartPattern = "breakout"
	PatternVolumeSpike ChartPattern = "volume_spike"
	PatternExhaustion  ChartPattern = "exhaustion"
	PatternBreakdown   ChartPattern = "breakdown"
	PatternNoPattern   ChartPattern = "none"
)

// ClassifyChart runs the chart decision tree over the price changes (percent)
// and the volume/liquidity ratio. Rules are evaluated top to bottom; the first
// match wins and Hold is the default.
func ClassifyChart(m MarketData) (ChartAction, ChartPattern) {
	c5, c1h, c24 := m.Change5m, m.Change1h, m.Change24h
	ratio := m.VolumeLiquidityRatio()

	switch {
	case c5 > 5 && c1h > 10 && c24 > 20 && ratio >= 2:
		return ChartStrongBuy, PatternMomentum
	case c5 > 8 && c1h > 15 && c24 < 30 && ratio >= 1:
		return ChartStrongBuy, PatternEarlyPump
	case c5 > -5 && c5 < -2 && c24 > 10:
		return ChartBuy, PatternPullback
	case math.Abs(c5) < 1 && math.Abs(c1h) < 2 && ratio >= 1.5:
		return ChartBuy, PatternBreakout
	case ratio >= 3 && c5 > 3:
		return ChartBuy, PatternVolumeSpike
	case c5 > 20 && c1h > 50:
		return ChartSell, PatternExhaustion
	case c5 < -5 && c1h < -10 && c24 < -15:
		return ChartStrongSell, PatternBreakdown
	default:
		return ChartHold, PatternNoPattern
	}
}
