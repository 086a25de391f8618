package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// NeutralScore is assigned to wallets with too little history to judge.
const NeutralScore = 0.5

// Weights blends the five sub-scores. They are normalized by their sum.
type Weights struct {
	WinRate      float64 `yaml:"win_rate"`
	RiskAdjusted float64 `yaml:"risk_adjusted"`
	Consistency  float64 `yaml:"consistency"`
	Timing       float64 `yaml:"timing"`
	Focus        float64 `yaml:"focus"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{WinRate: 0.30, RiskAdjusted: 0.25, Consistency: 0.15, Timing: 0.20, Focus: 0.10}
}

func (w Weights) total() float64 {
	return w.WinRate + w.RiskAdjusted + w.Consistency + w.Timing + w.Focus
}

// Config controls scoring.
type Config struct {
	MinTrades int           // below this the wallet scores NeutralScore
	MinCopied int           // copied outcomes needed before they are blended into win rate
	Staleness time.Duration // no trades for this long → inactive
	Workers   int           // goroutines for Refresh (0 = NumCPU*2)
	Weights   Weights
	Insider   InsiderRule
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinTrades: 5,
		MinCopied: 5,
		Staleness: 7 * 24 * time.Hour,
		Weights:   DefaultWeights(),
		Insider:   InsiderRule{MinWinRate: 0.8, MinRoundTrips: 10},
	}
}

// Breakdown holds each clamped sub-score.
type Breakdown struct {
	WinRate      float64
	RiskAdjusted float64
	Consistency  float64
	Timing       float64
	Focus        float64
}

// Result is the output of Score.
type Result struct {
	Score     float64
	Neutral   bool // insufficient data, Score is NeutralScore
	Metrics   domain.WalletMetrics
	Breakdown Breakdown
}

// Scorer computes wallet skill scores. It holds no mutable state.
type Scorer struct {
	cfg Config
}

// New creates a Scorer, filling zero values with defaults.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = def.MinTrades
	}
	if cfg.MinCopied <= 0 {
		cfg.MinCopied = def.MinCopied
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = def.Staleness
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}
	if cfg.Weights.total() <= 0 {
		cfg.Weights = def.Weights
	}
	if cfg.Insider.MinRoundTrips <= 0 {
		cfg.Insider = def.Insider
	}
	return &Scorer{cfg: cfg}
}

// Score rates a trade history in [0,1]. The second return is false when the
// history is empty: the score is undefined and the wallet must be excluded.
func (s *Scorer) Score(trades []domain.Trade, copied domain.CopyStats, now time.Time) (Result, bool) {
	if len(trades) == 0 {
		return Result{}, false
	}

	trips := MatchRoundTrips(trades)
	metrics := ComputeMetrics(trades, trips, now, s.cfg.Insider)

	if len(trades) < s.cfg.MinTrades || len(trips) == 0 {
		return Result{Score: NeutralScore, Neutral: true, Metrics: metrics}, true
	}

	b := s.breakdown(trips, metrics, copied)
	w := s.cfg.Weights
	score := (w.WinRate*b.WinRate +
		w.RiskAdjusted*b.RiskAdjusted +
		w.Consistency*b.Consistency +
		w.Timing*b.Timing +
		w.Focus*b.Focus) / w.total()

	return Result{Score: domain.Clamp01(score), Metrics: metrics, Breakdown: b}, true
}

func (s *Scorer) breakdown(trips []domain.RoundTrip, m domain.WalletMetrics, copied domain.CopyStats) Breakdown {
	returns := make([]float64, len(trips))
	ratios := make([]float64, len(trips))
	for i, rt := range trips {
		returns[i] = rt.Return()
		ratios[i] = rt.ExitPrice / rt.EntryPrice
	}

	win := m.WinRate
	if copied.Total() >= s.cfg.MinCopied {
		win = 0.5*win + 0.5*copied.WinRate()
	}

	var riskAdj float64
	switch {
	case m.TotalReturn <= 0:
		riskAdj = 0
	case m.MaxDrawdown == 0:
		riskAdj = 1
	default:
		riskAdj = m.TotalReturn / m.MaxDrawdown / 3
	}

	focus := 1.0
	if m.DistinctAssets > 1 {
		focus = 1 / (1 + math.Log(float64(m.DistinctAssets)))
	}

	return Breakdown{
		WinRate:      domain.Clamp01(win),
		RiskAdjusted: domain.Clamp01(riskAdj),
		Consistency:  domain.Clamp01(1 / (1 + 10*variance(returns))),
		Timing:       domain.Clamp01(mean(ratios) / 2),
		Focus:        domain.Clamp01(focus),
	}
}

// Rescore returns rec with score, metrics and activity recomputed.
func (s *Scorer) Rescore(rec domain.WalletRecord, now time.Time) domain.WalletRecord {
	res, ok := s.Score(rec.Trades, rec.Copied, now)
	rec.Scored = ok
	rec.Score = res.Score
	rec.Metrics = res.Metrics
	for _, t := range rec.Trades {
		if t.Timestamp.After(rec.LastTradeAt) {
			rec.LastTradeAt = t.Timestamp
		}
	}
	rec.Active = ok && now.Sub(rec.LastTradeAt) <= s.cfg.Staleness
	rec.UpdatedAt = now
	return rec
}

// Refresh rescores every record concurrently. Each goroutine owns one record
// and writes only its own slot of the result.
func (s *Scorer) Refresh(ctx context.Context, records []domain.WalletRecord, now time.Time) ([]domain.WalletRecord, error) {
	out := make([]domain.WalletRecord, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = s.Rescore(records[i], now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scorer.Refresh: %w", err)
	}

	active := 0
	for _, r := range out {
		if r.Active {
			active++
		}
	}
	slog.Debug("scorer: refresh complete",
		"wallets", len(out),
		"active", active,
		"workers", s.cfg.Workers,
	)
	return out, nil
}
