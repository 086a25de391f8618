package domain

import "time"

// MarketData is a point-in-time view of an asset's market. Price changes are percent.
type MarketData struct {
	Asset        string
	PriceUSD     float64
	Volume24h    float64
	LiquidityUSD float64
	Change5m     float64
	Change1h     float64
	Change24h    float64
	FetchedAt    time.Time
}

// VolumeLiquidityRatio returns 24h volume over liquidity, 0 when liquidity is unknown.
func (m MarketData) VolumeLiquidityRatio() float64 {
	if m.LiquidityUSD <= 0 {
		return 0
	}
	return m.Volume24h / m.LiquidityUSD
}

// MarketTrend is the coarse direction of an asset over the longer horizons.
type MarketTrend int

const (
	TrendNeutral MarketTrend = iota
	TrendBullish
	TrendBearish
)

func (t MarketTrend) String() string {
	switch t {
	case TrendBullish:
		return "BULLISH"
	case TrendBearish:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

// Trend derives the trend from the 1h and 24h changes: both up is bullish,
// both down is bearish, anything else neutral.
func (m MarketData) Trend() MarketTrend {
	switch {
	case m.Change1h > 0 && m.Change24h > 0:
		return TrendBullish
	case m.Change1h < 0 && m.Change24h < 0:
		return TrendBearish
	default:
		return TrendNeutral
	}
}
