package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/application/confidence"
	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/application/lifecycle"
	"github.com/alejandrodnm/copybot/internal/application/risk"
	"github.com/alejandrodnm/copybot/internal/application/scorer"
	"github.com/alejandrodnm/copybot/internal/application/signals"
	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/ports"
)

// Config contiene la configuración del engine.
type Config struct {
	Wallets         []string      // tracked wallet addresses
	CycleInterval   time.Duration // evaluation cycle
	MonitorInterval time.Duration // position sweep
	HistoryWindow   time.Duration // trade history kept in memory and loaded on restore
	FetchWorkers    int           // goroutines for trade and market fetches (0 = NumCPU*2)
	MaxSlippageBps  int
	Now             func() time.Time
}

// Deps are the collaborators and decision components the engine drives.
type Deps struct {
	Trades   ports.TradeProvider
	Market   ports.MarketProvider
	Security ports.SecurityChecker
	Executor ports.Executor
	Notifier ports.Notifier
	Storage  ports.Storage // optional
	Metrics  ports.Metrics // optional

	Scorer     *scorer.Scorer
	Detector   *signals.Detector
	Aggregator *confidence.Aggregator
	Gate       *risk.Gate
	Ledger     *ledger.Ledger
	Lifecycle  *lifecycle.Manager
}

// Engine orquesta el ciclo de evaluación y el monitor de posiciones.
type Engine struct {
	cfg Config
	Deps

	mu      sync.Mutex
	records map[string]domain.WalletRecord
	cursor  map[string]time.Time // latest trade timestamp seen per wallet
}

// New crea un Engine con todas las dependencias inyectadas.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 3 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 15 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30 * 24 * time.Hour
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = runtime.NumCPU() * 2
	}
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}

	records := make(map[string]domain.WalletRecord, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		records[w] = domain.WalletRecord{Address: w}
	}
	return &Engine{
		cfg:     cfg,
		Deps:    deps,
		records: records,
		cursor:  make(map[string]time.Time),
	}
}

// Run ejecuta el ciclo de evaluación y el monitor de posiciones hasta que el
// contexto se cancele. El primer ciclo corre inmediatamente.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"wallets", len(e.cfg.Wallets),
		"cycle", e.cfg.CycleInterval,
		"monitor", e.cfg.MonitorInterval,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.monitorLoop(ctx)
	}()

	e.runCycle(ctx)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Monitor(ctx)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	if _, err := e.RunCycle(ctx); err != nil {
		slog.Error("engine: cycle failed", "err", err)
	}
}

// Monitor runs one position sweep and persists whatever closed, plus the
// new peak of open positions so the trailing stop survives a restart.
func (e *Engine) Monitor(ctx context.Context) lifecycle.SweepResult {
	res := e.Lifecycle.Sweep(ctx)
	// Closed positions are booked even if shutdown started mid-sweep.
	pctx := context.WithoutCancel(ctx)
	if e.Storage != nil {
		for _, p := range res.Raised {
			if err := e.Storage.SavePosition(pctx, p); err != nil {
				slog.Warn("engine: save peak", "asset", p.Asset, "err", err)
			}
		}
	}
	if len(res.Closed) == 0 {
		return res
	}
	if e.Storage != nil {
		for _, p := range res.Closed {
			if err := e.Storage.SavePosition(pctx, p); err != nil {
				slog.Warn("engine: save closed position", "asset", p.Asset, "err", err)
			}
		}
	}
	e.persistPortfolio(pctx)
	return res
}

// Snapshot returns a read-only copy of the portfolio.
func (e *Engine) Snapshot() domain.PortfolioState {
	return e.Ledger.Snapshot()
}

// ClosedPositions returns the archived positions, oldest first.
func (e *Engine) ClosedPositions() []domain.Position {
	return e.Ledger.ClosedPositions()
}

// Wallets returns the current wallet records ordered by score, best first.
func (e *Engine) Wallets() []domain.WalletRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.WalletRecord, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// EmergencyStop halts new positions until Rearm. Open positions keep being
// monitored and can still close.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	if reason == "" {
		reason = domain.ReasonManualStop
	}
	e.Ledger.EmergencyStop(reason)
	e.persistBreaker(ctx)
}

// TripBreaker signals an external emergency; the breaker resets after its
// cooldown.
func (e *Engine) TripBreaker(ctx context.Context, reason string) {
	if reason == "" {
		reason = domain.ReasonEmergency
	}
	e.Ledger.TripBreaker(reason)
	e.persistBreaker(ctx)
}

// Rearm clears the breaker, including a manual stop.
func (e *Engine) Rearm(ctx context.Context) {
	e.Ledger.Rearm()
	e.persistBreaker(ctx)
}

// Restore reloads open positions, outcome history, breaker state and wallet
// trades from storage. It must run before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.Storage == nil {
		return nil
	}
	open, err := e.Storage.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: load positions: %w", err)
	}
	outcomes, err := e.Storage.LoadOutcomes(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: load outcomes: %w", err)
	}
	cb, err := e.Storage.LoadCircuitBreaker(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: load breaker: %w", err)
	}
	if err := e.Ledger.Restore(open, outcomes, cb); err != nil {
		return fmt.Errorf("engine.Restore: %w", err)
	}

	since := e.cfg.Now().Add(-e.cfg.HistoryWindow)
	loaded := 0
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.cfg.Wallets {
		trades, err := e.Storage.LoadTrades(ctx, w, since)
		if err != nil {
			return fmt.Errorf("engine.Restore: load trades %s: %w", w, err)
		}
		rec := e.records[w]
		rec.Trades = trades
		e.records[w] = rec
		if n := len(trades); n > 0 {
			e.cursor[w] = trades[n-1].Timestamp
		}
		loaded += len(trades)
	}

	snap := e.Ledger.Snapshot()
	slog.Info("engine: state restored",
		"open_positions", len(open),
		"outcomes", len(outcomes),
		"trades", loaded,
		"capital", fmt.Sprintf("$%.2f", snap.Capital),
		"breaker", snap.Breaker.Status,
	)
	return nil
}

func (e *Engine) persistBreaker(ctx context.Context) {
	if e.Storage == nil {
		return
	}
	if err := e.Storage.SaveCircuitBreaker(ctx, e.Ledger.Breaker()); err != nil {
		slog.Warn("engine: save breaker", "err", err)
	}
}

// persistPortfolio stores the breaker and today's realized PnL and publishes
// the snapshot to metrics.
func (e *Engine) persistPortfolio(ctx context.Context) {
	snap := e.Ledger.Snapshot()
	e.Metrics.PortfolioUpdated(snap)
	if e.Storage == nil {
		return
	}
	e.persistBreaker(ctx)

	closedToday := 0
	for _, o := range e.Ledger.Outcomes() {
		if o.ClosedAt.UTC().Format("2006-01-02") == snap.DailyDate {
			closedToday++
		}
	}
	if err := e.Storage.SaveDailyPnL(ctx, snap.DailyDate, snap.DailyPnL, closedToday); err != nil {
		slog.Warn("engine: save daily pnl", "err", err)
	}
}
