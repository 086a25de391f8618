package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Notifier presenta al usuario las posiciones abiertas y cerradas.
type Notifier interface {
	// OnSignalApproved se llama cuando una señal aprobada abre una posición.
	OnSignalApproved(ctx context.Context, pos domain.Position) error

	// OnPositionClosed se llama con el PnL realizado y el trigger de salida.
	OnPositionClosed(ctx context.Context, pos domain.Position) error
}
