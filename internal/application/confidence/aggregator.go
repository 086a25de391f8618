package confidence

import (
	"fmt"
	"strings"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Weights of the five components. Only available components take part and
// their weights are renormalized.
type Weights struct {
	Wallet     float64 `yaml:"wallet"`
	Security   float64 `yaml:"security"`
	Timing     float64 `yaml:"timing"`
	Historical float64 `yaml:"historical"`
	Liquidity  float64 `yaml:"liquidity"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{Wallet: 0.40, Security: 0.25, Timing: 0.15, Historical: 0.10, Liquidity: 0.10}
}

// Penalties are multipliers applied after the weighted sum.
type Penalties struct {
	Critical     float64 `yaml:"critical"`
	High         float64 `yaml:"high"`
	Medium       float64 `yaml:"medium"`
	Overtrading  float64 `yaml:"overtrading"`
	InsiderBonus float64 `yaml:"insider_bonus"`
}

// DefaultPenalties returns the production multipliers.
func DefaultPenalties() Penalties {
	return Penalties{Critical: 0.1, High: 0.5, Medium: 0.8, Overtrading: 0.7, InsiderBonus: 1.2}
}

// Config controls aggregation.
type Config struct {
	Weights              Weights
	Penalties            Penalties
	MinHistory           int     // outcomes of the same kind needed for the historical component
	LiquidityTarget      float64 // USD liquidity that scores 1.0
	OvertradeMaxTrades   int     // trades in 24h above which a wallet may be over-trading
	OvertradeMinWinRate  float64
	BundleSecurityFactor float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		Penalties:            DefaultPenalties(),
		MinHistory:           5,
		LiquidityTarget:      50_000,
		OvertradeMaxTrades:   20,
		OvertradeMinWinRate:  0.5,
		BundleSecurityFactor: 0.5,
	}
}

// Input is everything known about one asset in one cycle. Nil pointers mean
// the data is unavailable.
type Input struct {
	Direction    domain.Direction
	Wallet       *domain.Signal
	Chart        *domain.Signal
	Security     *domain.AssetSecurityInfo
	Market       *domain.MarketData
	History      []domain.Outcome
	Contributors []domain.WalletRecord
}

// Component is one bounded input to the weighted sum.
type Component struct {
	Value     float64
	Available bool
}

// Components is the per-component breakdown of a result.
type Components struct {
	Wallet     Component
	Security   Component
	Timing     Component
	Historical Component
	Liquidity  Component
}

// Result is the aggregated confidence and how it was reached.
type Result struct {
	Confidence float64
	Base       float64 // weighted sum before penalties
	Components Components
	Applied    []string // penalties and bonuses, in application order
	Vetoed     bool     // scam: confidence forced to 0
}

// String renders the breakdown for logs.
func (r Result) String() string {
	if r.Vetoed {
		return "veto:scam"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "base=%.3f", r.Base)
	for _, a := range r.Applied {
		sb.WriteString(" ")
		sb.WriteString(a)
	}
	fmt.Fprintf(&sb, " final=%.3f", r.Confidence)
	return sb.String()
}

// Aggregator fuses signals and context into one confidence in [0,1].
type Aggregator struct {
	cfg Config
}

// New creates an Aggregator, filling zero values with defaults.
func New(cfg Config) *Aggregator {
	def := DefaultConfig()
	w := cfg.Weights
	if w.Wallet+w.Security+w.Timing+w.Historical+w.Liquidity <= 0 {
		cfg.Weights = def.Weights
	}
	if cfg.Penalties == (Penalties{}) {
		cfg.Penalties = def.Penalties
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.LiquidityTarget <= 0 {
		cfg.LiquidityTarget = def.LiquidityTarget
	}
	if cfg.OvertradeMaxTrades <= 0 {
		cfg.OvertradeMaxTrades = def.OvertradeMaxTrades
	}
	if cfg.OvertradeMinWinRate <= 0 {
		cfg.OvertradeMinWinRate = def.OvertradeMinWinRate
	}
	if cfg.BundleSecurityFactor <= 0 {
		cfg.BundleSecurityFactor = def.BundleSecurityFactor
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate computes the confidence for in. A scam asset short-circuits to 0.
func (a *Aggregator) Aggregate(in Input) Result {
	if in.Security != nil && in.Security.IsScam {
		return Result{Vetoed: true}
	}

	c := Components{
		Wallet:     a.walletComponent(in),
		Security:   a.securityComponent(in.Security),
		Timing:     a.timingComponent(in),
		Historical: a.historicalComponent(in),
		Liquidity:  a.liquidityComponent(in.Market),
	}

	w := a.cfg.Weights
	parts := []struct {
		c Component
		w float64
	}{
		{c.Wallet, w.Wallet},
		{c.Security, w.Security},
		{c.Timing, w.Timing},
		{c.Historical, w.Historical},
		{c.Liquidity, w.Liquidity},
	}
	var sum, weight float64
	for _, p := range parts {
		if !p.c.Available {
			continue
		}
		sum += p.w * domain.Clamp01(p.c.Value)
		weight += p.w
	}
	if weight == 0 {
		return Result{Components: c}
	}

	res := Result{Base: sum / weight, Components: c}
	conf := res.Base
	pen := a.cfg.Penalties

	if in.Security != nil {
		switch in.Security.Tier {
		case domain.TierCritical:
			conf *= pen.Critical
			res.Applied = append(res.Applied, fmt.Sprintf("tier:critical×%.2f", pen.Critical))
		case domain.TierHigh:
			conf *= pen.High
			res.Applied = append(res.Applied, fmt.Sprintf("tier:high×%.2f", pen.High))
		case domain.TierMedium:
			conf *= pen.Medium
			res.Applied = append(res.Applied, fmt.Sprintf("tier:medium×%.2f", pen.Medium))
		}
	}
	if a.anyOvertrading(in.Contributors) {
		conf *= pen.Overtrading
		res.Applied = append(res.Applied, fmt.Sprintf("overtrading×%.2f", pen.Overtrading))
	}
	if in.Direction == domain.DirectionEnter && anyInsider(in.Contributors) {
		conf *= pen.InsiderBonus
		res.Applied = append(res.Applied, fmt.Sprintf("insider×%.2f", pen.InsiderBonus))
	}

	res.Confidence = domain.Clamp01(conf)
	return res
}

// walletComponent is the wallet signal strength, or the mean contributor score
// when only a chart signal exists.
func (a *Aggregator) walletComponent(in Input) Component {
	if in.Wallet != nil {
		return Component{Value: domain.Clamp01(in.Wallet.Strength), Available: true}
	}
	if len(in.Contributors) == 0 {
		return Component{}
	}
	total := 0.0
	for _, w := range in.Contributors {
		total += w.Score
	}
	return Component{Value: domain.Clamp01(total / float64(len(in.Contributors))), Available: true}
}

func (a *Aggregator) securityComponent(sec *domain.AssetSecurityInfo) Component {
	if sec == nil {
		return Component{}
	}
	v := TierScore(sec.Tier)
	if sec.IsBundle {
		v *= a.cfg.BundleSecurityFactor
	}
	return Component{Value: v, Available: true}
}

// timingComponent averages the trend score and the chart action score.
func (a *Aggregator) timingComponent(in Input) Component {
	if in.Market == nil {
		return Component{}
	}
	action, _ := domain.ClassifyChart(*in.Market)
	if in.Chart != nil {
		action = in.Chart.Chart
	}
	v := (TrendScore(in.Market.Trend()) + ChartScore(action)) / 2
	return Component{Value: v, Available: true}
}

// historicalComponent is the win rate of past outcomes of the same signal kind.
func (a *Aggregator) historicalComponent(in Input) Component {
	var kind domain.SignalKind
	switch {
	case in.Wallet != nil:
		kind = in.Wallet.Kind
	case in.Chart != nil:
		kind = in.Chart.Kind
	default:
		return Component{}
	}
	n, wins := 0, 0
	for _, o := range in.History {
		if o.Kind != kind {
			continue
		}
		n++
		if o.Win() {
			wins++
		}
	}
	if n < a.cfg.MinHistory {
		return Component{}
	}
	return Component{Value: float64(wins) / float64(n), Available: true}
}

func (a *Aggregator) liquidityComponent(m *domain.MarketData) Component {
	if m == nil || m.LiquidityUSD <= 0 {
		return Component{}
	}
	return Component{Value: domain.Clamp01(m.LiquidityUSD / a.cfg.LiquidityTarget), Available: true}
}

func (a *Aggregator) anyOvertrading(ws []domain.WalletRecord) bool {
	for _, w := range ws {
		if w.Metrics.Overtrading(a.cfg.OvertradeMaxTrades, a.cfg.OvertradeMinWinRate) {
			return true
		}
	}
	return false
}

func anyInsider(ws []domain.WalletRecord) bool {
	for _, w := range ws {
		if w.Metrics.Insider {
			return true
		}
	}
	return false
}

// TierScore maps a security tier to [0,1].
func TierScore(t domain.RiskTier) float64 {
	switch t {
	case domain.TierSafe:
		return 1.0
	case domain.TierLow:
		return 0.8
	case domain.TierMedium:
		return 0.5
	case domain.TierHigh:
		return 0.25
	default:
		return 0
	}
}

// TrendScore maps a market trend to [0,1].
func TrendScore(t domain.MarketTrend) float64 {
	switch t {
	case domain.TrendBullish:
		return 1.0
	case domain.TrendBearish:
		return 0.2
	default:
		return 0.6
	}
}

// ChartScore maps a chart action to [0,1].
func ChartScore(a domain.ChartAction) float64 {
	switch a {
	case domain.ChartStrongBuy:
		return 1.0
	case domain.ChartBuy:
		return 0.8
	case domain.ChartSell:
		return 0.2
	case domain.ChartStrongSell:
		return 0
	default:
		return 0.5
	}
}
