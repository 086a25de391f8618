package domain

import "time"

// PositionStatus is Open until an exit trigger fires; Closed is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitTrigger is the condition that closed a position. The numeric order is the
// evaluation priority.
type ExitTrigger int

const (
	TriggerNone ExitTrigger = iota
	TriggerStopLoss
	TriggerTakeProfit
	TriggerChartReversal
	TriggerStale
	TriggerTrailingStop
)

func (t ExitTrigger) String() string {
	switch t {
	case TriggerStopLoss:
		return "STOP_LOSS"
	case TriggerTakeProfit:
		return "TAKE_PROFIT"
	case TriggerChartReversal:
		return "CHART_REVERSAL"
	case TriggerStale:
		return "STALE"
	case TriggerTrailingStop:
		return "TRAILING_STOP"
	default:
		return "NONE"
	}
}

// ParseExitTrigger is the inverse of String, used when loading from storage.
func ParseExitTrigger(s string) ExitTrigger {
	for t := TriggerStopLoss; t <= TriggerTrailingStop; t++ {
		if t.String() == s {
			return t
		}
	}
	return TriggerNone
}

// Position is one copied trade, from approval to close.
type Position struct {
	ID             string
	Asset          string
	Kind           SignalKind
	Confidence     float64
	Wallets        []string
	SizeUSD        float64
	EntryPrice     float64
	EntryTime      time.Time
	StopLoss       float64
	TakeProfit     float64
	PeakPrice      float64
	CurrentPrice   float64
	Status         PositionStatus
	ExitPrice      float64
	ExitTime       time.Time
	ExitTrigger    ExitTrigger
	RealizedPnL    float64
	EntrySignature string
	ExitSignature  string
}

// PnLAt returns the PnL in USD if the position were closed at price.
func (p Position) PnLAt(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) * p.SizeUSD / p.EntryPrice
}

// UnrealizedPnL is PnLAt the last marked price.
func (p Position) UnrealizedPnL() float64 {
	return p.PnLAt(p.CurrentPrice)
}

// ReturnPct is the fractional return at the last marked price (0.05 = 5%).
func (p Position) ReturnPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// PeakGain is the best fractional return seen while open.
func (p Position) PeakGain() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.PeakPrice - p.EntryPrice) / p.EntryPrice
}

// DrawdownFromPeak is the fractional drop from the peak to the last marked price.
func (p Position) DrawdownFromPeak() float64 {
	if p.PeakPrice <= 0 {
		return 0
	}
	return (p.PeakPrice - p.CurrentPrice) / p.PeakPrice
}

// Age returns how long the position has been open at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Outcome is the archived result of a closed position. It feeds Kelly sizing,
// the historical confidence component and per-wallet copy stats.
type Outcome struct {
	PositionID string
	Asset      string
	Kind       SignalKind
	Confidence float64
	Wallets    []string
	SizeUSD    float64
	PnL        float64
	ReturnPct  float64
	Trigger    ExitTrigger
	ClosedAt   time.Time
}

// Win reports a strictly positive realized PnL.
func (o Outcome) Win() bool { return o.PnL > 0 }

// OutcomeOf builds the archived record for a closed position.
func OutcomeOf(p Position) Outcome {
	ret := 0.0
	if p.SizeUSD > 0 {
		ret = p.RealizedPnL / p.SizeUSD
	}
	return Outcome{
		PositionID: p.ID,
		Asset:      p.Asset,
		Kind:       p.Kind,
		Confidence: p.Confidence,
		Wallets:    p.Wallets,
		SizeUSD:    p.SizeUSD,
		PnL:        p.RealizedPnL,
		ReturnPct:  ret,
		Trigger:    p.ExitTrigger,
		ClosedAt:   p.ExitTime,
	}
}
