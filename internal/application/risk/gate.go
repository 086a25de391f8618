package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/domain"
)

// RejectReason says which gate refused a signal. Rejections are expected
// events, not errors.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonCircuitBreaker
	ReasonDailyLoss
	ReasonConcentration
	ReasonVelocity
	ReasonLowConfidence
	ReasonNonPositiveEdge
	ReasonInsufficientCapital
)

func (r RejectReason) String() string {
	switch r {
	case ReasonCircuitBreaker:
		return "circuit_breaker"
	case ReasonDailyLoss:
		return "daily_loss"
	case ReasonConcentration:
		return "concentration"
	case ReasonVelocity:
		return "velocity"
	case ReasonLowConfidence:
		return "low_confidence"
	case ReasonNonPositiveEdge:
		return "non_positive_edge"
	case ReasonInsufficientCapital:
		return "insufficient_capital"
	default:
		return "none"
	}
}

// Config holds the portfolio limits the gate enforces.
type Config struct {
	MaxPositionUSD   float64 // absolute cap on one position
	MaxConcentration float64 // fraction of capital allowed in one asset
	DailyLossLimit   float64 // positive USD
	MinConfidence    float64
	MinPositionUSD   float64 // smaller approved sizes are refused as insufficient capital
	Velocity         VelocityConfig
	Kelly            KellyConfig
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionUSD:   100,
		MaxConcentration: 0.30,
		DailyLossLimit:   50,
		MinConfidence:    0.70,
		MinPositionUSD:   1,
		Velocity:         VelocityConfig{MaxSignals: 5, Window: 10 * time.Minute},
		Kelly:            DefaultKellyConfig(),
	}
}

// Decision is the outcome of one evaluation. An approved decision holds a
// ledger reservation that the caller must Commit or Rollback.
type Decision struct {
	Approved    bool
	Reason      RejectReason
	Size        float64
	Sizing      Sizing
	Reservation ledger.Reservation
}

// Gate approves and sizes signals against the ledger. The checks and the
// reservation happen in one ledger critical section.
type Gate struct {
	cfg      Config
	ledger   *ledger.Ledger
	velocity *velocity

	mu    sync.Mutex
	stats GateStats
}

// New creates a Gate over l, filling zero config values with defaults.
func New(cfg Config, l *ledger.Ledger) *Gate {
	def := DefaultConfig()
	if cfg.MaxPositionUSD <= 0 {
		cfg.MaxPositionUSD = def.MaxPositionUSD
	}
	if cfg.MaxConcentration <= 0 {
		cfg.MaxConcentration = def.MaxConcentration
	}
	if cfg.DailyLossLimit <= 0 {
		cfg.DailyLossLimit = def.DailyLossLimit
	}
	if cfg.MinPositionUSD <= 0 {
		cfg.MinPositionUSD = def.MinPositionUSD
	}
	if cfg.Velocity.MaxSignals <= 0 {
		cfg.Velocity.MaxSignals = def.Velocity.MaxSignals
	}
	if cfg.Velocity.Window <= 0 {
		cfg.Velocity.Window = def.Velocity.Window
	}
	k := &cfg.Kelly
	if k.Band <= 0 {
		k.Band = def.Kelly.Band
	}
	if k.MinSamples <= 0 {
		k.MinSamples = def.Kelly.MinSamples
	}
	if k.Multiplier <= 0 {
		k.Multiplier = def.Kelly.Multiplier
	}
	if k.MaxFraction <= 0 || k.MaxFraction > MaxRiskFraction {
		k.MaxFraction = def.Kelly.MaxFraction
	}
	if k.FallbackFraction <= 0 {
		k.FallbackFraction = def.Kelly.FallbackFraction
	}
	return &Gate{cfg: cfg, ledger: l, velocity: newVelocity(cfg.Velocity)}
}

// Evaluate runs the gates in order and, if all pass, sizes and reserves the
// position. Exit signals are never approved. The error is non-nil only for
// an invariant violation, in which case the ledger has already halted trading.
func (g *Gate) Evaluate(sig domain.Signal, confidence float64) (Decision, error) {
	var d Decision
	if sig.Direction != domain.DirectionEnter {
		return d, nil
	}

	res, ok, err := g.ledger.Reserve(sig.Asset, func(v ledger.View) float64 {
		if reason, skip := g.gateCheck(v); skip {
			d.Reason = reason
			return 0
		}

		refund, offender, allowed := g.velocity.take(sig.Wallets, v.Now)
		if !allowed {
			slog.Debug("risk: abnormal velocity", "asset", sig.Asset, "wallet", offender)
			d.Reason = ReasonVelocity
			return 0
		}

		if confidence < g.cfg.MinConfidence {
			refund()
			d.Reason = ReasonLowConfidence
			return 0
		}

		d.Sizing = g.cfg.Kelly.size(v.Outcomes, confidence, v.Capital, g.cfg.MaxPositionUSD)
		if !d.Sizing.Fallback && d.Sizing.Fraction <= 0 {
			refund()
			d.Reason = ReasonNonPositiveEdge
			return 0
		}

		size := d.Sizing.Size
		headroom := g.cfg.MaxConcentration*v.Capital - v.AssetExposure
		size = math.Min(size, math.Min(headroom, v.Available))
		if size < g.cfg.MinPositionUSD {
			refund()
			d.Reason = ReasonInsufficientCapital
			return 0
		}
		return size
	})
	if err != nil {
		g.record(ReasonNone, false)
		return Decision{}, fmt.Errorf("risk.Evaluate %s: %w", sig.Asset, err)
	}
	if !ok {
		if d.Reason == ReasonNone {
			d.Reason = ReasonInsufficientCapital
		}
		g.record(d.Reason, false)
		slog.Debug("risk: signal rejected",
			"asset", sig.Asset,
			"kind", sig.Kind,
			"reason", d.Reason,
			"confidence", fmt.Sprintf("%.3f", confidence),
		)
		return d, nil
	}

	d.Approved = true
	d.Reason = ReasonNone
	d.Size = res.Size
	d.Reservation = res
	g.record(ReasonNone, true)
	slog.Info("risk: signal approved",
		"asset", sig.Asset,
		"kind", sig.Kind,
		"confidence", fmt.Sprintf("%.3f", confidence),
		"size", fmt.Sprintf("$%.2f", d.Size),
		"kelly", fmt.Sprintf("%.3f", d.Sizing.Kelly),
		"fallback", d.Sizing.Fallback,
		"samples", d.Sizing.Samples,
	)
	return d, nil
}

// gateCheck applies the four hard gates in diagnostic order.
func (g *Gate) gateCheck(v ledger.View) (RejectReason, bool) {
	if !v.BreakerOpen {
		return ReasonCircuitBreaker, true
	}
	if v.DailyPnL <= -g.cfg.DailyLossLimit {
		return ReasonDailyLoss, true
	}
	if v.AssetOccupied || v.AssetExposure >= g.cfg.MaxConcentration*v.Capital {
		return ReasonConcentration, true
	}
	return ReasonNone, false
}

// MaxPositionUSD returns the configured absolute position cap.
func (g *Gate) MaxPositionUSD() float64 {
	return g.cfg.MaxPositionUSD
}

// Stats returns the rejection counters accumulated since the last call and
// resets them.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	g.stats = GateStats{}
	return s
}

func (g *Gate) record(r RejectReason, approved bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.record(r, approved)
}

// GateStats counts evaluations per outcome.
type GateStats struct {
	Approved            int
	Breaker             int
	DailyLoss           int
	Concentration       int
	Velocity            int
	LowConfidence       int
	NonPositiveEdge     int
	InsufficientCapital int
	Violations          int
}

// Rejected sums every rejection.
func (s GateStats) Rejected() int {
	return s.Breaker + s.DailyLoss + s.Concentration + s.Velocity + s.LowConfidence + s.NonPositiveEdge + s.InsufficientCapital
}

func (s *GateStats) record(r RejectReason, approved bool) {
	if approved {
		s.Approved++
		return
	}
	switch r {
	case ReasonCircuitBreaker:
		s.Breaker++
	case ReasonDailyLoss:
		s.DailyLoss++
	case ReasonConcentration:
		s.Concentration++
	case ReasonVelocity:
		s.Velocity++
	case ReasonLowConfidence:
		s.LowConfidence++
	case ReasonNonPositiveEdge:
		s.NonPositiveEdge++
	case ReasonInsufficientCapital:
		s.InsufficientCapital++
	default:
		s.Violations++
	}
}

// Log writes the counters in one line.
func (s GateStats) Log() {
	slog.Info("risk: gate summary",
		"approved", s.Approved,
		"skip_breaker", s.Breaker,
		"skip_daily_loss", s.DailyLoss,
		"skip_concentration", s.Concentration,
		"skip_velocity", s.Velocity,
		"skip_low_conf", s.LowConfidence,
		"skip_edge", s.NonPositiveEdge,
		"skip_capital", s.InsufficientCapital,
		"violations", s.Violations,
	)
}
