package signals

import (
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Config controls signal detection.
type Config struct {
	Window               time.Duration // sliding window for wallet buys
	ScoreFloor           float64       // wallets must score strictly above this
	ConvergenceThreshold int           // distinct wallets needed for a convergence signal
	BaseStrength         float64
	StrengthStep         float64
	MaxStrength          float64

	HotMinTrades24h int
	HotMinWinRate   float64
	HotMinScore     float64

	ChartStrength map[domain.ChartAction]float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:               60 * time.Minute,
		ScoreFloor:           0.8,
		ConvergenceThreshold: 3,
		BaseStrength:         0.80,
		StrengthStep:         0.05,
		MaxStrength:          0.95,
		HotMinTrades24h:      3,
		HotMinWinRate:        0.8,
		HotMinScore:          0.85,
		ChartStrength: map[domain.ChartAction]float64{
			domain.ChartStrongBuy:  0.85,
			domain.ChartBuy:        0.75,
			domain.ChartSell:       0.80,
			domain.ChartStrongSell: 0.90,
		},
	}
}

// Detector turns wallet activity and market data into signals. It is pure:
// callers pass the clock and all inputs.
type Detector struct {
	cfg Config
}

// New creates a Detector, filling zero values with defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ScoreFloor <= 0 {
		cfg.ScoreFloor = def.ScoreFloor
	}
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = def.ConvergenceThreshold
	}
	if cfg.BaseStrength <= 0 {
		cfg.BaseStrength = def.BaseStrength
	}
	if cfg.StrengthStep <= 0 {
		cfg.StrengthStep = def.StrengthStep
	}
	if cfg.MaxStrength <= 0 {
		cfg.MaxStrength = def.MaxStrength
	}
	if cfg.HotMinTrades24h <= 0 {
		cfg.HotMinTrades24h = def.HotMinTrades24h
	}
	if cfg.HotMinWinRate <= 0 {
		cfg.HotMinWinRate = def.HotMinWinRate
	}
	if cfg.HotMinScore <= 0 {
		cfg.HotMinScore = def.HotMinScore
	}
	if cfg.ChartStrength == nil {
		cfg.ChartStrength = def.ChartStrength
	}
	return &Detector{cfg: cfg}
}

// Window returns the configured detection window.
func (d *Detector) Window() time.Duration { return d.cfg.Window }

// RecentBuyers maps each asset to the eligible wallets that bought it inside
// the window ending at now. Wallet lists are sorted.
func (d *Detector) RecentBuyers(records []domain.WalletRecord, now time.Time) map[string][]string {
	from := now.Add(-d.cfg.Window)
	seen := make(map[string]map[string]struct{})

	for _, rec := range records {
		if !rec.Eligible(d.cfg.ScoreFloor) {
			continue
		}
		for _, t := range rec.Trades {
			if t.Side != domain.SideBuy || t.Timestamp.Before(from) || t.Timestamp.After(now) {
				continue
			}
			if seen[t.Asset] == nil {
				seen[t.Asset] = make(map[string]struct{})
			}
			seen[t.Asset][rec.Address] = struct{}{}
		}
	}

	out := make(map[string][]string, len(seen))
	for asset, set := range seen {
		ws := make([]string, 0, len(set))
		for w := range set {
			ws = append(ws, w)
		}
		sort.Strings(ws)
		out[asset] = ws
	}
	return out
}

// ConvergenceStrength is BaseStrength + Step per wallet above the threshold,
// capped at MaxStrength.
func (d *Detector) ConvergenceStrength(count int) float64 {
	s := d.cfg.BaseStrength + d.cfg.StrengthStep*float64(count-d.cfg.ConvergenceThreshold)
	if s > d.cfg.MaxStrength {
		return d.cfg.MaxStrength
	}
	return s
}

// DetectConvergence emits one WalletConvergence signal per asset bought by at
// least ConvergenceThreshold eligible wallets inside the window.
func (d *Detector) DetectConvergence(records []domain.WalletRecord, now time.Time) []domain.Signal {
	buyers := d.RecentBuyers(records, now)
	var out []domain.Signal
	for _, asset := range sortedKeys(buyers) {
		wallets := buyers[asset]
		if len(wallets) < d.cfg.ConvergenceThreshold {
			continue
		}
		sig, err := domain.NewSignal(domain.KindWalletConvergence, domain.DirectionEnter, asset, wallets, d.ConvergenceStrength(len(wallets)), now)
		if err != nil {
			slog.Warn("signals: drop convergence signal", "asset", asset, "err", err)
			continue
		}
		out = append(out, sig)
	}
	return out
}

// IsHot reports a wallet on a verified streak: several trades in the last day,
// a high win rate and a high score.
func (d *Detector) IsHot(rec domain.WalletRecord) bool {
	return rec.Eligible(d.cfg.ScoreFloor) &&
		rec.Metrics.Trades24h >= d.cfg.HotMinTrades24h &&
		rec.Metrics.WinRate > d.cfg.HotMinWinRate &&
		rec.Score > d.cfg.HotMinScore
}

// DetectHotWallets emits a HotWalletActivity signal for each buy of a hot
// wallet inside the window, skipping assets listed in exclude.
func (d *Detector) DetectHotWallets(records []domain.WalletRecord, exclude map[string]bool, now time.Time) []domain.Signal {
	from := now.Add(-d.cfg.Window)
	best := make(map[string]domain.WalletRecord)

	for _, rec := range records {
		if !d.IsHot(rec) {
			continue
		}
		for _, t := range rec.Trades {
			if t.Side != domain.SideBuy || t.Timestamp.Before(from) || t.Timestamp.After(now) || exclude[t.Asset] {
				continue
			}
			if cur, ok := best[t.Asset]; !ok || rec.Score > cur.Score || (rec.Score == cur.Score && rec.Address < cur.Address) {
				best[t.Asset] = rec
			}
		}
	}

	var out []domain.Signal
	for _, asset := range sortedKeys(best) {
		rec := best[asset]
		strength := rec.Score
		if strength > d.cfg.MaxStrength {
			strength = d.cfg.MaxStrength
		}
		sig, err := domain.NewSignal(domain.KindHotWalletActivity, domain.DirectionEnter, asset, []string{rec.Address}, strength, now)
		if err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// DetectChart classifies the market and emits a ChartPattern signal attributed
// to the given wallets. Hold yields no signal; so does an empty wallet set.
func (d *Detector) DetectChart(market domain.MarketData, wallets []string, now time.Time) (domain.Signal, bool) {
	action, pattern := domain.ClassifyChart(market)
	if action == domain.ChartHold || len(wallets) == 0 {
		return domain.Signal{}, false
	}
	dir := domain.DirectionEnter
	if action.Bearish() {
		dir = domain.DirectionExit
	}
	sig, err := domain.NewSignal(domain.KindChartPattern, dir, market.Asset, wallets, d.cfg.ChartStrength[action], now)
	if err != nil {
		return domain.Signal{}, false
	}
	slog.Debug("signals: chart pattern",
		"asset", market.Asset,
		"action", action,
		"pattern", pattern,
	)
	return sig.WithChart(action), true
}

// Group is every signal for one asset in one cycle.
type Group struct {
	Asset  string
	Wallet *domain.Signal // strongest wallet-based signal, if any
	Chart  *domain.Signal
}

// Direction returns Enter unless only an exit-leaning chart signal is present.
func (g Group) Direction() domain.Direction {
	if g.Wallet != nil {
		return domain.DirectionEnter
	}
	if g.Chart != nil {
		return g.Chart.Direction
	}
	return domain.DirectionEnter
}

// Primary returns the signal a position would be attributed to.
func (g Group) Primary() domain.Signal {
	if g.Wallet != nil {
		return *g.Wallet
	}
	return *g.Chart
}

// GroupByAsset buckets signals per asset, keeping the strongest of each kind
// family. Assets are returned in sorted order.
func GroupByAsset(sigs []domain.Signal) []Group {
	byAsset := make(map[string]*Group)
	for i := range sigs {
		s := sigs[i]
		g := byAsset[s.Asset]
		if g == nil {
			g = &Group{Asset: s.Asset}
			byAsset[s.Asset] = g
		}
		if s.Kind.IsWalletBased() {
			if g.Wallet == nil || s.Strength > g.Wallet.Strength {
				g.Wallet = &s
			}
			continue
		}
		if g.Chart == nil || s.Strength > g.Chart.Strength {
			g.Chart = &s
		}
	}

	out := make([]Group, 0, len(byAsset))
	for _, asset := range sortedKeys(byAsset) {
		out = append(out, *byAsset[asset])
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
