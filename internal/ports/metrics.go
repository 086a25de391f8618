package ports

import (
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Metrics receives engine events for observability.
type Metrics interface {
	CycleCompleted(d time.Duration)
	SignalDetected(kind domain.SignalKind)
	SignalRejected(reason string)
	PositionOpened(kind domain.SignalKind)
	PositionClosed(trigger domain.ExitTrigger, pnl float64)
	CollaboratorError(source string)
	PortfolioUpdated(state domain.PortfolioState)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) CycleCompleted(time.Duration) {}
func (NopMetrics) SignalDetected(domain.SignalKind) {}
func (NopMetrics) SignalRejected(string) {}
func (NopMetrics) PositionOpened(domain.SignalKind) {}
func (NopMetrics) PositionClosed(domain.ExitTrigger, float64) {}
func (NopMetrics) CollaboratorError(string) {}
func (NopMetrics) PortfolioUpdated(domain.PortfolioState) {}
