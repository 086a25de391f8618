package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Config controls the ledger.
type Config struct {
	Capital              float64       // starting capital in USD
	DailyLossLimit       float64       // positive USD; a realized daily loss at or beyond it trips the breaker
	BreakerCooldown      time.Duration // automatic trips reset after this
	MaxConsecutiveLosses int           // 0 disables
	Now                  func() time.Time
}

// View is what a reservation decision sees. It is only valid inside the
// decide callback.
type View struct {
	Now           time.Time
	Capital       float64
	Available     float64
	DailyPnL      float64
	BreakerOpen   bool
	Breaker       domain.CircuitBreaker
	AssetExposure float64 // open size plus pending reservations on the asset
	AssetOccupied bool    // the asset already has an open position or reservation
	Outcomes      []domain.Outcome
}

// Reservation holds capital and the asset slot between approval and fill.
type Reservation struct {
	ID    string
	Asset string
	Size  float64
}

type reservation struct {
	id   string
	size decimal.Decimal
}

// Ledger is the single consistency boundary for portfolio state. Every
// read-modify-write runs under mu.
type Ledger struct {
	mu  sync.Mutex
	cfg Config

	initial   decimal.Decimal
	capital   decimal.Decimal // initial + realized
	dailyPnL  decimal.Decimal
	dailyDate string

	open     map[string]*domain.Position // asset → position
	assetOf  map[string]string           // position id → asset
	exiting  map[string]bool             // position id → exit claimed
	reserved map[string]reservation      // asset → pending reservation

	closed   []domain.Position
	outcomes []domain.Outcome
	breaker  domain.CircuitBreaker
}

// New creates an empty ledger with the configured capital and an armed breaker.
func New(cfg Config) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Minute
	}
	initial := decimal.NewFromFloat(cfg.Capital)
	return &Ledger{
		cfg:       cfg,
		initial:   initial,
		capital:   initial,
		dailyDate: dayKey(cfg.Now()),
		open:      make(map[string]*domain.Position),
		assetOf:   make(map[string]string),
		exiting:   make(map[string]bool),
		reserved:  make(map[string]reservation),
		breaker:   domain.NewCircuitBreaker(cfg.BreakerCooldown, cfg.MaxConsecutiveLosses),
	}
}

// Reserve evaluates decide and, if it returns a positive size, reserves that
// much capital and the asset slot in the same critical section. No other
// mutation can interleave between the check and the reservation.
func (l *Ledger) Reserve(asset string, decide func(View) float64) (Reservation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	l.rollover(now)

	// Sizes are booked in whole cents, rounded down.
	sz := decimal.NewFromFloat(decide(l.view(asset, now))).RoundFloor(2)
	if !sz.IsPositive() {
		return Reservation{}, false, nil
	}
	if l.occupied(asset) {
		return Reservation{}, false, l.violation(now, "reserve on occupied asset %s", asset)
	}
	if sz.GreaterThan(l.available()) {
		return Reservation{}, false, l.violation(now, "reserve %s exceeds available %s", sz.StringFixed(2), l.available().StringFixed(2))
	}

	res := reservation{id: uuid.NewString(), size: sz}
	l.reserved[asset] = res
	return Reservation{ID: res.id, Asset: asset, Size: sz.InexactFloat64()}, true, nil
}

// Commit turns a reservation into an open position. pos.SizeUSD must not
// exceed the reserved size; a zero size takes the reserved amount.
func (l *Ledger) Commit(r Reservation, pos domain.Position) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	res, ok := l.reserved[r.Asset]
	if !ok || res.id != r.ID {
		return domain.Position{}, l.violation(now, "commit of unknown reservation %s on %s", r.ID, r.Asset)
	}
	delete(l.reserved, r.Asset)

	if _, exists := l.open[r.Asset]; exists {
		return domain.Position{}, l.violation(now, "second open position on %s", r.Asset)
	}

	if pos.SizeUSD <= 0 {
		pos.SizeUSD = r.Size
	}
	if decimal.NewFromFloat(pos.SizeUSD).GreaterThan(res.size) {
		return domain.Position{}, l.violation(now, "fill %.2f exceeds reservation %.2f on %s", pos.SizeUSD, r.Size, r.Asset)
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.Asset = r.Asset
	pos.Status = domain.PositionOpen
	if pos.EntryTime.IsZero() {
		pos.EntryTime = now
	}
	pos.PeakPrice = pos.EntryPrice
	pos.CurrentPrice = pos.EntryPrice

	p := pos
	l.open[r.Asset] = &p
	l.assetOf[p.ID] = r.Asset
	return p, nil
}

// Rollback releases a reservation whose execution failed. Unknown
// reservations are ignored.
func (l *Ledger) Rollback(r Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res, ok := l.reserved[r.Asset]; ok && res.id == r.ID {
		delete(l.reserved, r.Asset)
	}
}

// MarkPrice refreshes the current and peak price of an open position.
func (l *Ledger) MarkPrice(id string, price float64) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.lookup(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.MarkPrice %s: %w", id, domain.ErrPositionNotOpen)
	}
	if price > 0 {
		p.CurrentPrice = price
		if price > p.PeakPrice {
			p.PeakPrice = price
		}
	}
	return *p, nil
}

// ClaimExit marks an open position as exiting. Only one caller can hold the
// claim; the others get ErrPositionNotOpen.
func (l *Ledger) ClaimExit(id string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.lookup(id)
	if !ok || l.exiting[id] {
		return domain.Position{}, fmt.Errorf("ledger.ClaimExit %s: %w", id, domain.ErrPositionNotOpen)
	}
	l.exiting[id] = true
	return *p, nil
}

// ReleaseExit drops a claim after a failed sell so the next sweep can retry.
func (l *Ledger) ReleaseExit(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.exiting, id)
}

// Close moves an open position to Closed and books the realized PnL.
// Closing a position that is already closed returns ErrPositionNotOpen and
// changes nothing.
func (l *Ledger) Close(id string, exitPrice float64, trigger domain.ExitTrigger, signature string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.lookup(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger.Close %s: %w", id, domain.ErrPositionNotOpen)
	}
	now := l.cfg.Now()
	l.rollover(now)

	pnl := realizedPnL(p.EntryPrice, exitPrice, p.SizeUSD)

	closed := *p
	closed.Status = domain.PositionClosed
	closed.ExitPrice = exitPrice
	closed.CurrentPrice = exitPrice
	closed.ExitTime = now
	closed.ExitTrigger = trigger
	closed.ExitSignature = signature
	closed.RealizedPnL = pnl.InexactFloat64()

	delete(l.open, closed.Asset)
	delete(l.assetOf, id)
	delete(l.exiting, id)
	l.closed = append(l.closed, closed)
	l.outcomes = append(l.outcomes, domain.OutcomeOf(closed))

	l.capital = l.capital.Add(pnl)
	l.dailyPnL = l.dailyPnL.Add(pnl)

	wasArmed := l.breaker.Status == domain.BreakerArmed
	if pnl.IsNegative() {
		l.breaker.RecordLoss(now)
	} else {
		l.breaker.RecordWin()
	}
	if wasArmed && l.breaker.Status == domain.BreakerTripped {
		slog.Error("ledger: CIRCUIT BREAKER TRIPPED", "reason", l.breaker.Reason, "until", l.breaker.CooldownUntil)
	}
	l.checkDailyLoss(now)
	return closed, nil
}

// TripBreaker trips the breaker for an externally signaled emergency. It
// resets after the cooldown.
func (l *Ledger) TripBreaker(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breaker.Trip(reason, l.cfg.Now())
	slog.Error("ledger: CIRCUIT BREAKER TRIPPED", "reason", reason, "until", l.breaker.CooldownUntil)
}

// EmergencyStop halts new positions until Rearm.
func (l *Ledger) EmergencyStop(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breaker.Stop(reason, l.cfg.Now())
	slog.Error("ledger: EMERGENCY STOP", "reason", reason)
}

// Rearm clears any breaker trip, including a manual stop.
func (l *Ledger) Rearm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breaker.Rearm()
	slog.Warn("ledger: circuit breaker rearmed")
}

// Breaker returns the breaker state, refreshing an expired cooldown.
func (l *Ledger) Breaker() domain.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breaker.IsOpen(l.cfg.Now())
	return l.breaker
}

// OpenPositions returns copies of every open position ordered by entry time.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Position returns a copy of an open position.
func (l *Ledger) Position(id string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.lookup(id)
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// ClosedPositions returns the archived positions, oldest first.
func (l *Ledger) ClosedPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, len(l.closed))
	copy(out, l.closed)
	return out
}

// Outcomes returns the archived outcomes, oldest first.
func (l *Ledger) Outcomes() []domain.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Outcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

// CopyStats counts wins and losses per copied wallet.
func (l *Ledger) CopyStats() map[string]domain.CopyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := make(map[string]domain.CopyStats)
	for _, o := range l.outcomes {
		for _, w := range o.Wallets {
			s := stats[w]
			if o.Win() {
				s.Wins++
			} else {
				s.Losses++
			}
			stats[w] = s
		}
	}
	return stats
}

// Snapshot returns a read-only copy of the portfolio.
func (l *Ledger) Snapshot() domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	l.rollover(now)
	l.breaker.IsOpen(now)

	open := make(map[string]domain.Position, len(l.open))
	for asset, p := range l.open {
		open[asset] = *p
	}
	return domain.PortfolioState{
		Capital:       l.capital.InexactFloat64(),
		Available:     l.available().InexactFloat64(),
		Exposure:      l.exposure().InexactFloat64(),
		Reserved:      l.reservedTotal().InexactFloat64(),
		OpenPositions: open,
		DailyPnL:      l.dailyPnL.InexactFloat64(),
		DailyDate:     l.dailyDate,
		TotalPnL:      l.capital.Sub(l.initial).InexactFloat64(),
		ClosedCount:   len(l.closed),
		Breaker:       l.breaker,
		TakenAt:       now,
	}
}

// Restore loads persisted state into an empty ledger: open positions, the
// outcome history (credited to capital) and the breaker.
func (l *Ledger) Restore(open []domain.Position, outcomes []domain.Outcome, cb domain.CircuitBreaker) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.open) > 0 || len(l.outcomes) > 0 {
		return fmt.Errorf("ledger.Restore: ledger not empty: %w", domain.ErrInvariantViolation)
	}
	now := l.cfg.Now()
	today := dayKey(now)

	sorted := make([]domain.Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })
	for _, o := range sorted {
		pnl := decimal.NewFromFloat(o.PnL)
		l.capital = l.capital.Add(pnl)
		if dayKey(o.ClosedAt) == today {
			l.dailyPnL = l.dailyPnL.Add(pnl)
		}
		l.outcomes = append(l.outcomes, o)
	}
	l.dailyDate = today

	for _, p := range open {
		if _, dup := l.open[p.Asset]; dup {
			return fmt.Errorf("ledger.Restore: two open positions on %s: %w", p.Asset, domain.ErrInvariantViolation)
		}
		p := p
		p.Status = domain.PositionOpen
		if p.PeakPrice < p.EntryPrice {
			p.PeakPrice = p.EntryPrice
		}
		l.open[p.Asset] = &p
		l.assetOf[p.ID] = p.Asset
	}

	if cb.Status == domain.BreakerTripped {
		cb.CooldownDuration = l.cfg.BreakerCooldown
		cb.MaxLosses = l.cfg.MaxConsecutiveLosses
		l.breaker = cb
	}
	l.checkDailyLoss(now)
	return nil
}

// ─── internals (mu held) ─────────────────────────────────────────────────────

func (l *Ledger) view(asset string, now time.Time) View {
	exp := decimal.Zero
	if p, ok := l.open[asset]; ok {
		exp = exp.Add(decimal.NewFromFloat(p.SizeUSD))
	}
	if r, ok := l.reserved[asset]; ok {
		exp = exp.Add(r.size)
	}
	open := l.breaker.IsOpen(now)
	return View{
		Now:           now,
		Capital:       l.capital.InexactFloat64(),
		Available:     l.available().InexactFloat64(),
		DailyPnL:      l.dailyPnL.InexactFloat64(),
		BreakerOpen:   open,
		Breaker:       l.breaker,
		AssetExposure: exp.InexactFloat64(),
		AssetOccupied: l.occupied(asset),
		Outcomes:      l.outcomes,
	}
}

func (l *Ledger) lookup(id string) (*domain.Position, bool) {
	asset, ok := l.assetOf[id]
	if !ok {
		return nil, false
	}
	p, ok := l.open[asset]
	return p, ok
}

func (l *Ledger) occupied(asset string) bool {
	_, open := l.open[asset]
	_, res := l.reserved[asset]
	return open || res
}

func (l *Ledger) exposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.open {
		total = total.Add(decimal.NewFromFloat(p.SizeUSD))
	}
	return total
}

func (l *Ledger) reservedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.reserved {
		total = total.Add(r.size)
	}
	return total
}

// available is capital minus open exposure and reservations, floored at zero.
func (l *Ledger) available() decimal.Decimal {
	a := l.capital.Sub(l.exposure()).Sub(l.reservedTotal())
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

func (l *Ledger) rollover(now time.Time) {
	if d := dayKey(now); d != l.dailyDate {
		slog.Info("ledger: daily rollover", "from", l.dailyDate, "to", d, "pnl", fmt.Sprintf("$%.2f", l.dailyPnL.InexactFloat64()))
		l.dailyDate = d
		l.dailyPnL = decimal.Zero
	}
}

func (l *Ledger) checkDailyLoss(now time.Time) {
	if l.cfg.DailyLossLimit <= 0 {
		return
	}
	limit := decimal.NewFromFloat(l.cfg.DailyLossLimit).Neg()
	if l.dailyPnL.LessThanOrEqual(limit) && l.breaker.Status == domain.BreakerArmed {
		l.breaker.Trip(domain.ReasonDailyLoss, now)
		slog.Error("ledger: CIRCUIT BREAKER TRIPPED",
			"reason", domain.ReasonDailyLoss,
			"daily_pnl", fmt.Sprintf("$%.2f", l.dailyPnL.InexactFloat64()),
			"limit", fmt.Sprintf("$%.2f", l.cfg.DailyLossLimit),
			"until", l.breaker.CooldownUntil,
		)
	}
}

// violation halts trading and returns an ErrInvariantViolation.
func (l *Ledger) violation(now time.Time, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	l.breaker.Stop(domain.ReasonInvariant+": "+msg, now)
	slog.Error("ledger: INVARIANT VIOLATION, trading halted", "detail", msg)
	return fmt.Errorf("ledger: %s: %w", msg, domain.ErrInvariantViolation)
}

func realizedPnL(entry, exit, size float64) decimal.Decimal {
	if entry <= 0 {
		return decimal.Zero
	}
	e := decimal.NewFromFloat(entry)
	return decimal.NewFromFloat(exit).Sub(e).Mul(decimal.NewFromFloat(size)).Div(e)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
