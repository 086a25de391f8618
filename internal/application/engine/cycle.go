package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/copybot/internal/application/confidence"
	"github.com/alejandrodnm/copybot/internal/application/risk"
	"github.com/alejandrodnm/copybot/internal/application/signals"
	"github.com/alejandrodnm/copybot/internal/domain"
)

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	Wallets  int
	Active   int
	NewTrade int
	Signals  []domain.Signal
	Opened   []domain.Position
	Rejected map[risk.RejectReason]int
	Vetoed   int
	Skipped  int // assets without market or security data
	Duration time.Duration
}

// RunCycle refreshes wallet trades and scores, detects signals, scores and
// gates them, and opens the approved positions.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	now := e.cfg.Now()
	res := &CycleResult{Rejected: make(map[risk.RejectReason]int)}

	res.NewTrade = e.refreshTrades(ctx, now)

	records, err := e.rescore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: %w", err)
	}
	res.Wallets = len(records)
	for _, r := range records {
		if r.Active {
			res.Active++
		}
	}

	conv := e.Detector.DetectConvergence(records, now)
	covered := make(map[string]bool, len(conv))
	for _, s := range conv {
		covered[s.Asset] = true
	}
	hot := e.Detector.DetectHotWallets(records, covered, now)

	buyers := e.Detector.RecentBuyers(records, now)
	assets := make([]string, 0, len(buyers))
	for a := range buyers {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	markets := fetchMarketsConcurrent(ctx, e.Market, assets, e.cfg.FetchWorkers, func(asset string, err error) {
		e.Metrics.CollaboratorError("market")
		slog.Warn("engine: market data unavailable", "asset", asset, "err", err)
	})

	all := append(conv, hot...)
	for _, a := range assets {
		md, ok := markets[a]
		if !ok {
			continue
		}
		if sig, ok := e.Detector.DetectChart(md, buyers[a], now); ok {
			all = append(all, sig)
		}
	}
	for _, s := range all {
		e.Metrics.SignalDetected(s.Kind)
	}
	res.Signals = all

	byAddr := make(map[string]domain.WalletRecord, len(records))
	for _, r := range records {
		byAddr[r.Address] = r
	}

	for _, g := range signals.GroupByAsset(all) {
		if ctx.Err() != nil {
			break
		}
		if g.Direction() != domain.DirectionEnter {
			slog.Debug("engine: exit-leaning chart signal, left to the monitor", "asset", g.Asset)
			continue
		}
		md, ok := markets[g.Asset]
		if !ok {
			res.Skipped++
			continue
		}
		e.evaluate(ctx, g, md, byAddr, res)
	}

	e.Gate.Stats().Log()
	e.persistPortfolio(ctx)
	res.Duration = time.Since(start)
	e.Metrics.CycleCompleted(res.Duration)

	slog.Info("engine: cycle complete",
		"wallets", res.Wallets,
		"active", res.Active,
		"new_trades", res.NewTrade,
		"signals", len(res.Signals),
		"opened", len(res.Opened),
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

// evaluate runs one asset group through confidence, the risk gate and
// execution.
func (e *Engine) evaluate(ctx context.Context, g signals.Group, md domain.MarketData, byAddr map[string]domain.WalletRecord, res *CycleResult) {
	sec, err := e.Security.CheckSecurity(ctx, g.Asset)
	if err != nil {
		e.Metrics.CollaboratorError("security")
		slog.Warn("engine: security data unavailable, skipping", "asset", g.Asset, "err", err)
		res.Skipped++
		return
	}

	primary := g.Primary()
	contributors := contributorsOf(g, byAddr)

	conf := e.Aggregator.Aggregate(confidence.Input{
		Direction:    g.Direction(),
		Wallet:       g.Wallet,
		Chart:        g.Chart,
		Security:     &sec,
		Market:       &md,
		History:      e.Ledger.Outcomes(),
		Contributors: contributors,
	})
	if conf.Vetoed {
		res.Vetoed++
		e.Metrics.SignalRejected("scam")
		slog.Warn("engine: scam veto", "asset", g.Asset, "risks", sec.Risks)
		return
	}
	slog.Debug("engine: confidence", "asset", g.Asset, "kind", primary.Kind, "breakdown", conf.String())

	dec, err := e.Gate.Evaluate(primary, conf.Confidence)
	if err != nil {
		e.Metrics.SignalRejected("invariant")
		slog.Error("engine: risk gate invariant violation", "asset", g.Asset, "err", err)
		e.persistBreaker(ctx)
		return
	}
	if !dec.Approved {
		res.Rejected[dec.Reason]++
		e.Metrics.SignalRejected(dec.Reason.String())
		return
	}

	pos, err := e.open(ctx, primary, conf.Confidence, contributors, dec, md)
	if err != nil {
		slog.Warn("engine: position not opened", "asset", g.Asset, "err", err)
		return
	}
	res.Opened = append(res.Opened, pos)
}

// open executes the buy for an approved decision and commits the position.
// A failed execution rolls the reservation back.
func (e *Engine) open(ctx context.Context, sig domain.Signal, conf float64, contributors []domain.WalletRecord, dec risk.Decision, md domain.MarketData) (domain.Position, error) {
	// A submitted buy has to be booked or rolled back, even during shutdown.
	xctx := context.WithoutCancel(ctx)
	fill, err := e.Executor.ExecuteTrade(xctx, domain.TradeRequest{
		Asset:          sig.Asset,
		Side:           domain.SideBuy,
		AmountUSD:      dec.Size,
		MaxSlippageBps: e.cfg.MaxSlippageBps,
	})
	if err != nil {
		e.Ledger.Rollback(dec.Reservation)
		e.Metrics.CollaboratorError("executor")
		if !errors.Is(err, domain.ErrExecutionFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err)
		}
		return domain.Position{}, fmt.Errorf("engine.open %s: %w", sig.Asset, err)
	}

	entry := fill.Price
	if entry <= 0 {
		entry = md.PriceUSD
	}
	size := fill.AmountUSD
	if size <= 0 || size > dec.Size {
		size = dec.Size
	}
	sl, tp := e.Lifecycle.Rules().Levels(entry)

	wallets := make([]string, 0, len(contributors))
	for _, c := range contributors {
		wallets = append(wallets, c.Address)
	}

	pos, err := e.Ledger.Commit(dec.Reservation, domain.Position{
		Kind:           sig.Kind,
		Confidence:     conf,
		Wallets:        wallets,
		SizeUSD:        size,
		EntryPrice:     entry,
		StopLoss:       sl,
		TakeProfit:     tp,
		EntrySignature: fill.Signature,
	})
	if err != nil {
		e.persistBreaker(xctx)
		return domain.Position{}, fmt.Errorf("engine.open %s: commit: %w", sig.Asset, err)
	}

	e.Metrics.PositionOpened(sig.Kind)
	slog.Info("engine: POSITION OPENED",
		"asset", pos.Asset,
		"kind", pos.Kind,
		"confidence", fmt.Sprintf("%.3f", conf),
		"size", fmt.Sprintf("$%.2f", pos.SizeUSD),
		"entry", fmt.Sprintf("%.8f", pos.EntryPrice),
		"stop_loss", fmt.Sprintf("%.8f", pos.StopLoss),
		"take_profit", fmt.Sprintf("%.8f", pos.TakeProfit),
		"wallets", len(pos.Wallets),
	)
	if e.Storage != nil {
		if err := e.Storage.SavePosition(xctx, pos); err != nil {
			slog.Warn("engine: save position", "asset", pos.Asset, "err", err)
		}
	}
	if e.Notifier != nil {
		if err := e.Notifier.OnSignalApproved(xctx, pos); err != nil {
			slog.Warn("engine: notify failed", "asset", pos.Asset, "err", err)
		}
	}
	return pos, nil
}

// refreshTrades fetches trades newer than each wallet's cursor, merges them
// into the records and persists them. It returns how many trades were new.
func (e *Engine) refreshTrades(ctx context.Context, now time.Time) int {
	floor := now.Add(-e.cfg.HistoryWindow)

	e.mu.Lock()
	since := make(map[string]time.Time, len(e.records))
	for w := range e.records {
		s := e.cursor[w]
		if s.Before(floor) {
			s = floor
		}
		since[w] = s
	}
	e.mu.Unlock()

	fetched := fetchTradesConcurrent(ctx, e.Trades, since, e.cfg.FetchWorkers, func(wallet string, err error) {
		e.Metrics.CollaboratorError("trades")
		slog.Warn("engine: trades unavailable, skipping wallet", "wallet", wallet, "err", err)
	})

	var fresh []domain.Trade
	e.mu.Lock()
	for w, trades := range fetched {
		rec := e.records[w]
		merged, added := mergeTrades(rec.Trades, trades, w, floor)
		rec.Trades = merged
		e.records[w] = rec
		if n := len(merged); n > 0 && merged[n-1].Timestamp.After(e.cursor[w]) {
			e.cursor[w] = merged[n-1].Timestamp
		}
		fresh = append(fresh, added...)
	}
	e.mu.Unlock()

	if len(fresh) > 0 && e.Storage != nil {
		if err := e.Storage.SaveTrades(ctx, fresh); err != nil {
			slog.Warn("engine: save trades", "err", err)
		}
	}
	return len(fresh)
}

// rescore recomputes every wallet's score with the latest copy outcomes.
func (e *Engine) rescore(ctx context.Context, now time.Time) ([]domain.WalletRecord, error) {
	copied := e.Ledger.CopyStats()

	e.mu.Lock()
	records := make([]domain.WalletRecord, 0, len(e.records))
	for _, addr := range sortedKeys(e.records) {
		rec := e.records[addr]
		rec.Copied = copied[addr]
		records = append(records, rec)
	}
	e.mu.Unlock()

	scored, err := e.Scorer.Refresh(ctx, records, now)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for _, r := range scored {
		e.records[r.Address] = r
	}
	e.mu.Unlock()
	return scored, nil
}

// mergeTrades adds incoming trades not already present, drops trades older
// than floor and keeps the result ordered by time.
func mergeTrades(existing, incoming []domain.Trade, wallet string, floor time.Time) (merged, added []domain.Trade) {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.ID] = true
	}
	merged = make([]domain.Trade, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !t.Timestamp.Before(floor) {
			merged = append(merged, t)
		}
	}
	for _, t := range incoming {
		if seen[t.ID] || t.Timestamp.Before(floor) {
			continue
		}
		seen[t.ID] = true
		t.Wallet = wallet
		merged = append(merged, t)
		added = append(added, t)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return merged, added
}

func contributorsOf(g signals.Group, byAddr map[string]domain.WalletRecord) []domain.WalletRecord {
	set := make(map[string]bool)
	for _, s := range []*domain.Signal{g.Wallet, g.Chart} {
		if s == nil {
			continue
		}
		for _, w := range s.Wallets {
			set[w] = true
		}
	}
	out := make([]domain.WalletRecord, 0, len(set))
	for _, w := range sortedKeys(set) {
		if rec, ok := byAddr[w]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
