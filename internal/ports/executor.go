package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Executor submits swaps. It is called only after approval and a filled
// trade is never retried.
type Executor interface {
	// ExecuteTrade fills the request or returns an error wrapping
	// domain.ErrExecutionFailed.
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Fill, error)
}
