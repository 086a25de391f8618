package domain

import (
	"errors"
	"math"
)

var (
	// ErrDataUnavailable: a wallet, market or security fetch failed. The caller
	// skips the affected wallet or asset for the current cycle.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientHistory: a wallet has no trades to score.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrRiskLimitExceeded wraps a gate rejection when it has to travel as an error.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	// ErrExecutionFailed: the executor did not fill an approved trade.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrCircuitBreakerTripped: new positions are refused.
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")
	// ErrInvariantViolation is a programming fault; trading halts when observed.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrPositionNotOpen: the position is closed or has an exit in flight.
	ErrPositionNotOpen = errors.New("position not open")
	// ErrSlippageExceeded: the quoted price moved past the allowed slippage.
	ErrSlippageExceeded = errors.New("slippage exceeded")
)

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp bounds v to [lo,hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
