package domain

import "time"

// WalletMetrics are the statistics derived from a wallet's trade history.
type WalletMetrics struct {
	TradeCount     int
	RoundTrips     int
	Wins           int
	WinRate        float64
	TotalReturn    float64 // sum of per-round-trip returns
	MaxDrawdown    float64 // peak-to-trough on the cumulative return curve
	Sharpe         float64 // mean/stddev of round-trip returns
	AvgHold        time.Duration
	Trades24h      int
	Trades7d       int
	DistinctAssets int
	Insider        bool
}

// Overtrading reports a wallet that trades too often for its hit rate.
func (m WalletMetrics) Overtrading(maxTrades24h int, minWinRate float64) bool {
	return m.Trades24h > maxTrades24h && m.WinRate < minWinRate
}

// RoundTrip is one matched buy→sell on the same asset.
type RoundTrip struct {
	Asset      string
	EntryPrice float64
	ExitPrice  float64
	Amount     float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Return is the fractional return of the round trip.
func (r RoundTrip) Return() float64 {
	if r.EntryPrice <= 0 {
		return 0
	}
	return (r.ExitPrice - r.EntryPrice) / r.EntryPrice
}

// CopyStats counts outcomes of positions the engine opened by copying a wallet.
type CopyStats struct {
	Wins   int
	Losses int
}

// Total returns the number of copied outcomes.
func (c CopyStats) Total() int { return c.Wins + c.Losses }

// WinRate returns the copied win rate, 0 without samples.
func (c CopyStats) WinRate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Wins) / float64(c.Total())
}

// WalletRecord is everything the engine knows about a tracked wallet.
// Records are never deleted; stale wallets are marked inactive.
type WalletRecord struct {
	Address     string
	Trades      []Trade // ordered by timestamp
	Metrics     WalletMetrics
	Score       float64
	Scored      bool // false while the history is empty
	Active      bool
	Copied      CopyStats
	LastTradeAt time.Time
	UpdatedAt   time.Time
}

// Eligible reports whether the wallet may contribute to signals with the given floor.
func (w WalletRecord) Eligible(floor float64) bool {
	return w.Active && w.Scored && w.Score > floor
}
