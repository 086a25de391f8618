package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// TradeProvider obtiene el historial de swaps de una wallet.
type TradeProvider interface {
	// FetchTrades devuelve los trades de la wallet posteriores a since,
	// ordenados por timestamp ascendente.
	FetchTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error)
}
