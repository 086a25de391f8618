package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// openLot is the unmatched remainder of a buy.
type openLot struct {
	amount float64
	price  float64
	at     time.Time
}

// MatchRoundTrips pairs sells with earlier buys of the same asset, first in
// first out. Sells with nothing to match are ignored; unmatched buys stay open.
func MatchRoundTrips(trades []domain.Trade) []domain.RoundTrip {
	sorted := sortedByTime(trades)
	lots := make(map[string][]openLot)
	var trips []domain.RoundTrip

	for _, t := range sorted {
		if t.Amount <= 0 || t.Price <= 0 {
			continue
		}
		switch t.Side {
		case domain.SideBuy:
			lots[t.Asset] = append(lots[t.Asset], openLot{amount: t.Amount, price: t.Price, at: t.Timestamp})
		case domain.SideSell:
			remaining := t.Amount
			queue := lots[t.Asset]
			for remaining > 0 && len(queue) > 0 {
				lot := &queue[0]
				matched := math.Min(lot.amount, remaining)
				trips = append(trips, domain.RoundTrip{
					Asset:      t.Asset,
					EntryPrice: lot.price,
					ExitPrice:  t.Price,
					Amount:     matched,
					OpenedAt:   lot.at,
					ClosedAt:   t.Timestamp,
				})
				lot.amount -= matched
				remaining -= matched
				if lot.amount <= 1e-12 {
					queue = queue[1:]
				}
			}
			lots[t.Asset] = queue
		}
	}
	return trips
}

// ComputeMetrics derives the wallet statistics from its trade history.
func ComputeMetrics(trades []domain.Trade, trips []domain.RoundTrip, now time.Time, insider InsiderRule) domain.WalletMetrics {
	m := domain.WalletMetrics{
		TradeCount: len(trades),
		RoundTrips: len(trips),
	}

	assets := make(map[string]struct{})
	for _, t := range trades {
		assets[t.Asset] = struct{}{}
		age := now.Sub(t.Timestamp)
		if age <= 24*time.Hour {
			m.Trades24h++
		}
		if age <= 7*24*time.Hour {
			m.Trades7d++
		}
	}
	m.DistinctAssets = len(assets)

	if len(trips) == 0 {
		return m
	}

	returns := make([]float64, len(trips))
	var hold time.Duration
	for i, rt := range trips {
		returns[i] = rt.Return()
		if returns[i] > 0 {
			m.Wins++
		}
		hold += rt.ClosedAt.Sub(rt.OpenedAt)
	}
	m.WinRate = float64(m.Wins) / float64(len(trips))
	m.AvgHold = hold / time.Duration(len(trips))
	m.TotalReturn = sum(returns)
	m.MaxDrawdown = maxDrawdown(returns)

	if sd := math.Sqrt(variance(returns)); sd > 0 {
		m.Sharpe = mean(returns) / sd
	}
	m.Insider = insider.matches(m)
	return m
}

// InsiderRule flags wallets whose hit rate is too good to be luck.
type InsiderRule struct {
	MinWinRate    float64
	MinRoundTrips int
}

func (r InsiderRule) matches(m domain.WalletMetrics) bool {
	return r.MinRoundTrips > 0 && m.RoundTrips >= r.MinRoundTrips && m.WinRate > r.MinWinRate
}

func sortedByTime(trades []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// maxDrawdown is the largest peak-to-trough fall of the cumulative return curve,
// starting from zero.
func maxDrawdown(returns []float64) float64 {
	var cum, peak, dd float64
	for _, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		if peak-cum > dd {
			dd = peak - cum
		}
	}
	return dd
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	v := 0.0
	for _, x := range xs {
		v += (x - mu) * (x - mu)
	}
	return v / float64(len(xs))
}
