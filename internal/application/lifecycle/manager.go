package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/ports"
)

// Config holds the exit rules and execution limits for sells.
// MaxSlippageBps only bounds take-profit sells; every other exit sells at
// any slippage.
type Config struct {
	Rules          Rules
	MaxSlippageBps int
	Now            func() time.Time
}

// Manager re-evaluates open positions against live prices and closes them
// when an exit trigger fires.
type Manager struct {
	cfg      Config
	ledger   *ledger.Ledger
	market   ports.MarketProvider
	exec     ports.Executor
	notifier ports.Notifier
	metrics  ports.Metrics
}

// NewManager creates a Manager. A nil metrics collector discards events.
func NewManager(
	cfg Config,
	l *ledger.Ledger,
	market ports.MarketProvider,
	exec ports.Executor,
	notifier ports.Notifier,
	metrics ports.Metrics,
) *Manager {
	cfg.Rules = cfg.Rules.withDefaults()
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Manager{cfg: cfg, ledger: l, market: market, exec: exec, notifier: notifier, metrics: metrics}
}

// Rules returns the effective exit rules.
func (m *Manager) Rules() Rules {
	return m.cfg.Rules
}

// SweepResult summarizes one pass over the open positions.
type SweepResult struct {
	Checked int
	Closed  []domain.Position
	Raised  []domain.Position // still open with a new peak price
	Skipped int               // market data unavailable
	Failed  int               // sell failed, position stays open
}

// Sweep marks every open position at the latest price and closes those whose
// exit trigger fires. It is safe to run concurrently with itself: the ledger
// exit claim lets only one caller close a given position.
func (m *Manager) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	for _, pos := range m.ledger.OpenPositions() {
		if ctx.Err() != nil {
			break
		}
		res.Checked++

		md, err := m.market.FetchMarketData(ctx, pos.Asset)
		if err != nil {
			m.metrics.CollaboratorError("market")
			slog.Warn("lifecycle: market data unavailable, skipping", "asset", pos.Asset, "err", err)
			res.Skipped++
			continue
		}

		marked, err := m.ledger.MarkPrice(pos.ID, md.PriceUSD)
		if err != nil {
			// closed by a concurrent sweep
			continue
		}

		raised := marked.PeakPrice > pos.PeakPrice

		trigger, fire := m.cfg.Rules.Evaluate(marked, &md, m.cfg.Now())
		if !fire {
			if raised {
				res.Raised = append(res.Raised, marked)
			}
			continue
		}

		closed, err := m.Close(ctx, marked.ID, trigger)
		switch {
		case err == nil:
			res.Closed = append(res.Closed, closed)
		case errors.Is(err, domain.ErrPositionNotOpen):
		default:
			res.Failed++
			if raised {
				res.Raised = append(res.Raised, marked)
			}
		}
	}
	return res
}

// Close sells an open position and books the result. Only one caller can
// close a position; the others get ErrPositionNotOpen. If the sell fails the
// position stays open and a later sweep retries.
func (m *Manager) Close(ctx context.Context, id string, trigger domain.ExitTrigger) (domain.Position, error) {
	pos, err := m.ledger.ClaimExit(id)
	if err != nil {
		return domain.Position{}, err
	}

	value := pos.SizeUSD
	if pos.EntryPrice > 0 && pos.CurrentPrice > 0 {
		value = pos.SizeUSD * pos.CurrentPrice / pos.EntryPrice
	}

	// Exits run on a context that outlives shutdown so a started sell is
	// always booked and notified.
	detached := context.WithoutCancel(ctx)
	fill, err := m.exec.ExecuteTrade(detached, domain.TradeRequest{
		Asset:          pos.Asset,
		Side:           domain.SideSell,
		AmountUSD:      value,
		MaxSlippageBps: m.exitSlippageBps(trigger),
	})
	if err != nil {
		m.ledger.ReleaseExit(id)
		m.metrics.CollaboratorError("executor")
		slog.Error("lifecycle: sell failed, position stays open",
			"asset", pos.Asset,
			"trigger", trigger,
			"err", err,
		)
		return domain.Position{}, fmt.Errorf("lifecycle.Close %s: %w", pos.Asset, err)
	}

	exitPrice := fill.Price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	closed, err := m.ledger.Close(id, exitPrice, trigger, fill.Signature)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle.Close %s: %w", pos.Asset, err)
	}

	m.metrics.PositionClosed(trigger, closed.RealizedPnL)
	slog.Info("lifecycle: POSITION CLOSED",
		"asset", closed.Asset,
		"trigger", trigger,
		"entry", fmt.Sprintf("%.8f", closed.EntryPrice),
		"exit", fmt.Sprintf("%.8f", closed.ExitPrice),
		"size", fmt.Sprintf("$%.2f", closed.SizeUSD),
		"pnl", fmt.Sprintf("$%.2f", closed.RealizedPnL),
	)
	if m.notifier != nil {
		if err := m.notifier.OnPositionClosed(detached, closed); err != nil {
			slog.Warn("lifecycle: notify failed", "asset", closed.Asset, "err", err)
		}
	}
	return closed, nil
}

// exitSlippageBps returns the slippage cap for a sell. A take-profit can wait
// for a better pool; a protective exit must go through even on a thin one.
func (m *Manager) exitSlippageBps(trigger domain.ExitTrigger) int {
	if trigger == domain.TriggerTakeProfit {
		return m.cfg.MaxSlippageBps
	}
	return 0
}
