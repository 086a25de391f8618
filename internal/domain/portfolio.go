package domain

import "time"

// BreakerStatus is the state of the global kill-switch.
type BreakerStatus string

const (
	BreakerArmed   BreakerStatus = "ARMED"
	BreakerTripped BreakerStatus = "TRIPPED"
)

// Trip reasons.
const (
	ReasonDailyLoss         = "daily loss limit"
	ReasonConsecutiveLosses = "consecutive losses"
	ReasonEmergency         = "external emergency"
	ReasonManualStop        = "manual emergency stop"
	ReasonInvariant         = "invariant violation"
)

// CircuitBreaker halts new positions. An automatic trip resets itself once
// CooldownUntil passes; a manual trip holds until Rearm.
type CircuitBreaker struct {
	Status            BreakerStatus
	Reason            string
	TrippedAt         time.Time
	CooldownUntil     time.Time
	CooldownDuration  time.Duration
	Manual            bool
	ConsecutiveLosses int
	MaxLosses         int // 0 disables the consecutive-loss trip
}

// NewCircuitBreaker returns an armed breaker.
func NewCircuitBreaker(cooldown time.Duration, maxLosses int) CircuitBreaker {
	return CircuitBreaker{
		Status:           BreakerArmed,
		CooldownDuration: cooldown,
		MaxLosses:        maxLosses,
	}
}

// IsOpen returns true if new positions are allowed at now. An expired automatic
// trip is rearmed as a side effect.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	if cb.Status != BreakerTripped {
		return true
	}
	if cb.Manual || now.Before(cb.CooldownUntil) {
		return false
	}
	cb.Rearm()
	return true
}

// Trip trips the breaker with an automatic cooldown. It never downgrades a
// manual stop.
func (cb *CircuitBreaker) Trip(reason string, now time.Time) {
	if cb.Status == BreakerTripped && cb.Manual {
		return
	}
	cb.Status = BreakerTripped
	cb.Reason = reason
	cb.TrippedAt = now
	cb.CooldownUntil = now.Add(cb.CooldownDuration)
}

// Stop trips the breaker until Rearm is called.
func (cb *CircuitBreaker) Stop(reason string, now time.Time) {
	cb.Status = BreakerTripped
	cb.Reason = reason
	cb.TrippedAt = now
	cb.CooldownUntil = time.Time{}
	cb.Manual = true
}

// Rearm clears any trip, manual or not.
func (cb *CircuitBreaker) Rearm() {
	cb.Status = BreakerArmed
	cb.Reason = ""
	cb.TrippedAt = time.Time{}
	cb.CooldownUntil = time.Time{}
	cb.Manual = false
	cb.ConsecutiveLosses = 0
}

// RecordLoss counts a losing close and may trip the breaker.
func (cb *CircuitBreaker) RecordLoss(now time.Time) {
	cb.ConsecutiveLosses++
	if cb.MaxLosses > 0 && cb.ConsecutiveLosses >= cb.MaxLosses {
		cb.ConsecutiveLosses = 0
		cb.Trip(ReasonConsecutiveLosses, now)
	}
}

// RecordWin resets the consecutive loss counter.
func (cb *CircuitBreaker) RecordWin() {
	cb.ConsecutiveLosses = 0
}

// PortfolioState is a read-only snapshot of the ledger.
type PortfolioState struct {
	Capital       float64 // starting capital plus realized PnL
	Available     float64 // capital not committed to open positions or reservations
	Exposure      float64 // sum of open position sizes
	Reserved      float64 // sum of pending reservations
	OpenPositions map[string]Position
	DailyPnL      float64
	DailyDate     string // UTC, 2006-01-02
	TotalPnL      float64
	ClosedCount   int
	Breaker       CircuitBreaker
	TakenAt       time.Time
}

// UnrealizedPnL sums marked-to-market PnL over open positions.
func (s PortfolioState) UnrealizedPnL() float64 {
	total := 0.0
	for _, p := range s.OpenPositions {
		total += p.UnrealizedPnL()
	}
	return total
}
