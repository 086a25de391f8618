package httpapi

import (
	"sort"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

type positionView struct {
	ID            string    `json:"id"`
	Asset         string    `json:"asset"`
	Kind          string    `json:"kind"`
	Confidence    float64   `json:"confidence"`
	Wallets       []string  `json:"wallets"`
	SizeUSD       float64   `json:"size_usd"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	PeakPrice     float64   `json:"peak_price"`
	CurrentPrice  float64   `json:"current_price"`
	Status        string    `json:"status"`
	UnrealizedPnL float64   `json:"unrealized_pnl,omitempty"`
	ExitPrice     float64   `json:"exit_price,omitempty"`
	ExitTime      time.Time `json:"exit_time,omitzero"`
	ExitTrigger   string    `json:"exit_trigger,omitempty"`
	RealizedPnL   float64   `json:"realized_pnl,omitempty"`
}

func toPositionView(p domain.Position) positionView {
	v := positionView{
		ID:           p.ID,
		Asset:        p.Asset,
		Kind:         p.Kind.String(),
		Confidence:   p.Confidence,
		Wallets:      p.Wallets,
		SizeUSD:      p.SizeUSD,
		EntryPrice:   p.EntryPrice,
		EntryTime:    p.EntryTime,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		PeakPrice:    p.PeakPrice,
		CurrentPrice: p.CurrentPrice,
		Status:       string(p.Status),
	}
	if p.Status == domain.PositionOpen {
		v.UnrealizedPnL = p.UnrealizedPnL()
		return v
	}
	v.ExitPrice = p.ExitPrice
	v.ExitTime = p.ExitTime
	v.ExitTrigger = p.ExitTrigger.String()
	v.RealizedPnL = p.RealizedPnL
	return v
}

type breakerView struct {
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Manual        bool      `json:"manual"`
	TrippedAt     time.Time `json:"tripped_at,omitzero"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
}

func toBreakerView(cb domain.CircuitBreaker) breakerView {
	return breakerView{
		Status:        string(cb.Status),
		Reason:        cb.Reason,
		Manual:        cb.Manual,
		TrippedAt:     cb.TrippedAt,
		CooldownUntil: cb.CooldownUntil,
	}
}

type portfolioView struct {
	Capital       float64        `json:"capital"`
	Available     float64        `json:"available"`
	Exposure      float64        `json:"exposure"`
	Reserved      float64        `json:"reserved"`
	DailyPnL      float64        `json:"daily_pnl"`
	DailyDate     string         `json:"daily_date"`
	TotalPnL      float64        `json:"total_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	ClosedCount   int            `json:"closed_count"`
	Breaker       breakerView    `json:"breaker"`
	OpenPositions []positionView `json:"open_positions"`
	TakenAt       time.Time      `json:"taken_at"`
}

func toPortfolioView(s domain.PortfolioState) portfolioView {
	open := make([]positionView, 0, len(s.OpenPositions))
	for _, p := range s.OpenPositions {
		open = append(open, toPositionView(p))
	}
	sort.Slice(open, func(i, j int) bool { return open[i].EntryTime.Before(open[j].EntryTime) })
	return portfolioView{
		Capital:       s.Capital,
		Available:     s.Available,
		Exposure:      s.Exposure,
		Reserved:      s.Reserved,
		DailyPnL:      s.DailyPnL,
		DailyDate:     s.DailyDate,
		TotalPnL:      s.TotalPnL,
		UnrealizedPnL: s.UnrealizedPnL(),
		ClosedCount:   s.ClosedCount,
		Breaker:       toBreakerView(s.Breaker),
		OpenPositions: open,
		TakenAt:       s.TakenAt,
	}
}

type walletView struct {
	Address     string    `json:"address"`
	Score       float64   `json:"score"`
	Scored      bool      `json:"scored"`
	Active      bool      `json:"active"`
	Trades      int       `json:"trades"`
	RoundTrips  int       `json:"round_trips"`
	WinRate     float64   `json:"win_rate"`
	Trades24h   int       `json:"trades_24h"`
	Insider     bool      `json:"insider"`
	CopiedWins  int       `json:"copied_wins"`
	CopiedTotal int       `json:"copied_total"`
	LastTradeAt time.Time `json:"last_trade_at,omitzero"`
}

func toWalletView(r domain.WalletRecord) walletView {
	return walletView{
		Address:     r.Address,
		Score:       r.Score,
		Scored:      r.Scored,
		Active:      r.Active,
		Trades:      r.Metrics.TradeCount,
		RoundTrips:  r.Metrics.RoundTrips,
		WinRate:     r.Metrics.WinRate,
		Trades24h:   r.Metrics.Trades24h,
		Insider:     r.Metrics.Insider,
		CopiedWins:  r.Copied.Wins,
		CopiedTotal: r.Copied.Total(),
		LastTradeAt: r.LastTradeAt,
	}
}
