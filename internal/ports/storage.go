package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Storage persiste el estado que tiene que sobrevivir a un reinicio.
type Storage interface {
	// SaveTrades hace upsert de los trades de wallets (clave: wallet + id).
	SaveTrades(ctx context.Context, trades []domain.Trade) error

	// LoadTrades devuelve los trades de la wallet desde since, ordenados por tiempo.
	LoadTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error)

	// SavePosition guarda una posición abierta o cerrada (upsert por ID).
	SavePosition(ctx context.Context, pos domain.Position) error

	// LoadOpenPositions devuelve las posiciones que seguían abiertas.
	LoadOpenPositions(ctx context.Context) ([]domain.Position, error)

	// LoadOutcomes devuelve el histórico de posiciones cerradas.
	LoadOutcomes(ctx context.Context) ([]domain.Outcome, error)

	SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error
	LoadCircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error)

	// SaveDailyPnL hace upsert del PnL realizado del día (UTC).
	SaveDailyPnL(ctx context.Context, date string, pnl float64, closed int) error

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
