package domain

import "time"

// Side is the direction of an observed wallet trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a swap executed by a tracked wallet, as reported by the trade indexer.
// Amount is the token quantity, Price is USD per token.
type Trade struct {
	ID        string // tx signature
	Wallet    string
	Asset     string // token mint
	Side      Side
	Amount    float64
	Price     float64
	Timestamp time.Time
}

// ValueUSD returns the notional of the trade in USD.
func (t Trade) ValueUSD() float64 {
	return t.Amount * t.Price
}

// TradeRequest is what the engine asks the executor to fill.
type TradeRequest struct {
	Asset          string
	Side           Side
	AmountUSD      float64
	MaxSlippageBps int // 0 = sin límite
}

// Fill is a confirmed execution returned by the executor.
type Fill struct {
	Signature string
	Price     float64
	AmountUSD float64
	FilledAt  time.Time
}
