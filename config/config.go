package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Wallets    []string         `yaml:"wallets"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Signals    SignalsConfig    `yaml:"signals"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Risk       RiskConfig       `yaml:"risk"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// EngineConfig controla los loops del engine y el capital.
type EngineConfig struct {
	CapitalUSD             float64 `yaml:"capital_usd"`
	CycleSeconds           int     `yaml:"cycle_seconds"`
	MonitorSeconds         int     `yaml:"monitor_seconds"`
	HistoryDays            int     `yaml:"history_days"` // historial de trades en memoria y al restaurar
	FetchWorkers           int     `yaml:"fetch_workers"`
	MaxSlippageBps         int     `yaml:"max_slippage_bps"`
	PaperBaseSlippageBps   int     `yaml:"paper_base_slippage_bps"`
	BreakerCooldownMinutes int     `yaml:"breaker_cooldown_minutes"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses"`
}

// ScorerConfig controla el scoring de wallets.
type ScorerConfig struct {
	MinTrades           int           `yaml:"min_trades"`
	MinCopied           int           `yaml:"min_copied"`
	StalenessDays       int           `yaml:"staleness_days"`
	Workers             int           `yaml:"workers"`
	Weights             ScorerWeights `yaml:"weights"`
	InsiderMinWinRate   float64       `yaml:"insider_min_win_rate"`
	InsiderMinRoundTrip int           `yaml:"insider_min_round_trips"`
}

// ScorerWeights pondera los cinco sub-scores.
type ScorerWeights struct {
	WinRate      float64 `yaml:"win_rate"`
	RiskAdjusted float64 `yaml:"risk_adjusted"`
	Consistency  float64 `yaml:"consistency"`
	Timing       float64 `yaml:"timing"`
	Focus        float64 `yaml:"focus"`
}

// SignalsConfig controla la detección de señales.
type SignalsConfig struct {
	WindowMinutes        int     `yaml:"window_minutes"`
	ScoreFloor           float64 `yaml:"score_floor"`
	ConvergenceThreshold int     `yaml:"convergence_threshold"`
	HotMinTrades24h      int     `yaml:"hot_min_trades_24h"`
	HotMinWinRate        float64 `yaml:"hot_min_win_rate"`
	HotMinScore          float64 `yaml:"hot_min_score"`
}

// ConfidenceConfig controla la agregación de confianza.
type ConfidenceConfig struct {
	Weights         ConfidenceWeights `yaml:"weights"`
	MinHistory      int               `yaml:"min_history"`
	LiquidityTarget float64           `yaml:"liquidity_target_usd"`
}

// ConfidenceWeights pondera los cinco componentes.
type ConfidenceWeights struct {
	Wallet     float64 `yaml:"wallet"`
	Security   float64 `yaml:"security"`
	Timing     float64 `yaml:"timing"`
	Historical float64 `yaml:"historical"`
	Liquidity  float64 `yaml:"liquidity"`
}

// RiskConfig contiene los límites del RiskGate.
type RiskConfig struct {
	MaxPositionUSD        float64 `yaml:"max_position_usd"`
	MaxConcentration      float64 `yaml:"max_concentration"`
	DailyLossLimitUSD     float64 `yaml:"daily_loss_limit_usd"`
	MinConfidence         float64 `yaml:"min_confidence"`
	VelocityMaxSignals    int     `yaml:"velocity_max_signals"`
	VelocityWindowMinutes int     `yaml:"velocity_window_minutes"`
	KellyMultiplier       float64 `yaml:"kelly_multiplier"`
	KellyMaxFraction      float64 `yaml:"kelly_max_fraction"`
	KellyMinSamples       int     `yaml:"kelly_min_samples"`
	KellyBand             float64 `yaml:"kelly_band"`              // ± confidence for similar outcomes
	KellyFallbackFraction float64 `yaml:"kelly_fallback_fraction"` // of max_position_usd, without enough samples
}

// LifecycleConfig contiene las reglas de salida. Porcentajes como fracción.
type LifecycleConfig struct {
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	StaleHours     int     `yaml:"stale_hours"`
	StaleMinReturn float64 `yaml:"stale_min_return"`
	TrailingArm    float64 `yaml:"trailing_arm"`
	TrailingDrop   float64 `yaml:"trailing_drop"`
}

// APIConfig contiene los base URLs y límites de los upstreams.
type APIConfig struct {
	IndexerBase      string  `yaml:"indexer_base"`
	IndexerAPIKey    string  `yaml:"indexer_api_key"`
	DexScreenerBase  string  `yaml:"dexscreener_base"`
	RugCheckBase     string  `yaml:"rugcheck_base"`
	RatePerSec       float64 `yaml:"rate_per_sec"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	MarketTTLSeconds int     `yaml:"market_ttl_seconds"`
	SecurityTTLSecs  int     `yaml:"security_ttl_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// HTTPConfig controla la API de control, desactivada por defecto.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta el YAML, aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: env: %w", err)
	}
	setDefaults(&cfg)
	cfg.Wallets = dedupe(cfg.Wallets)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Risk.MaxConcentration > 1 {
		return fmt.Errorf("risk.max_concentration must be <= 1, got %v", c.Risk.MaxConcentration)
	}
	if c.Risk.MinConfidence > 1 {
		return fmt.Errorf("risk.min_confidence must be <= 1, got %v", c.Risk.MinConfidence)
	}
	if c.Risk.KellyMaxFraction > 0.20 {
		return fmt.Errorf("risk.kelly_max_fraction must be <= 0.20, got %v", c.Risk.KellyMaxFraction)
	}
	if c.Risk.KellyBand > 1 {
		return fmt.Errorf("risk.kelly_band must be <= 1, got %v", c.Risk.KellyBand)
	}
	if c.Risk.KellyFallbackFraction > 1 {
		return fmt.Errorf("risk.kelly_fallback_fraction must be <= 1, got %v", c.Risk.KellyFallbackFraction)
	}
	if c.Signals.ScoreFloor >= 1 {
		return fmt.Errorf("signals.score_floor must be < 1, got %v", c.Signals.ScoreFloor)
	}
	if c.Risk.MaxPositionUSD > c.Engine.CapitalUSD {
		return fmt.Errorf("risk.max_position_usd ($%.2f) exceeds engine.capital_usd ($%.2f)",
			c.Risk.MaxPositionUSD, c.Engine.CapitalUSD)
	}
	return nil
}

// CycleInterval devuelve el intervalo del ciclo de evaluación.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// MonitorInterval devuelve el intervalo del monitor de posiciones.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Engine.MonitorSeconds) * time.Second
}

// HistoryWindow devuelve cuánto historial de trades se mantiene.
func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.Engine.HistoryDays) * 24 * time.Hour
}

// BreakerCooldown devuelve el cooldown de los trips automáticos.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Engine.BreakerCooldownMinutes) * time.Minute
}

// Staleness devuelve el tiempo sin trades tras el cual una wallet pasa a inactiva.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Scorer.StalenessDays) * 24 * time.Hour
}

// SignalWindow devuelve la ventana deslizante de compras.
func (c *Config) SignalWindow() time.Duration {
	return time.Duration(c.Signals.WindowMinutes) * time.Minute
}

// VelocityWindow devuelve la ventana del límite de velocidad.
func (c *Config) VelocityWindow() time.Duration {
	return time.Duration(c.Risk.VelocityWindowMinutes) * time.Minute
}

// StaleAfter devuelve la edad a partir de la cual una posición sin avance se cierra.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Lifecycle.StaleHours) * time.Hour
}

// APITimeout devuelve el timeout HTTP por request.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// MarketTTL devuelve el TTL de la caché de market data.
func (c *Config) MarketTTL() time.Duration {
	return time.Duration(c.API.MarketTTLSeconds) * time.Second
}

// SecurityTTL devuelve el TTL de la caché de reportes de seguridad.
func (c *Config) SecurityTTL() time.Duration {
	return time.Duration(c.API.SecurityTTLSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("COPYBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("COPYBOT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
		cfg.HTTP.Enabled = true
	}
	if v := os.Getenv("INDEXER_API_KEY"); v != "" {
		cfg.API.IndexerAPIKey = v
	}
	if v := os.Getenv("COPYBOT_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil || capital <= 0 {
			return fmt.Errorf("COPYBOT_CAPITAL %q: must be a positive number", v)
		}
		cfg.Engine.CapitalUSD = capital
	}
	if v := os.Getenv("COPYBOT_WALLETS"); v != "" {
		cfg.Wallets = append(cfg.Wallets, strings.Split(v, ",")...)
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.CapitalUSD <= 0 {
		e.CapitalUSD = 1000
	}
	if e.CycleSeconds <= 0 {
		e.CycleSeconds = 180
	}
	if e.MonitorSeconds <= 0 {
		e.MonitorSeconds = 15
	}
	if e.HistoryDays <= 0 {
		e.HistoryDays = 30
	}
	if e.MaxSlippageBps <= 0 {
		e.MaxSlippageBps = 100
	}
	if e.PaperBaseSlippageBps <= 0 {
		e.PaperBaseSlippageBps = 10
	}
	if e.BreakerCooldownMinutes <= 0 {
		e.BreakerCooldownMinutes = 30
	}

	s := &cfg.Scorer
	if s.MinTrades <= 0 {
		s.MinTrades = 5
	}
	if s.MinCopied <= 0 {
		s.MinCopied = 5
	}
	if s.StalenessDays <= 0 {
		s.StalenessDays = 7
	}
	if s.Weights == (ScorerWeights{}) {
		s.Weights = ScorerWeights{WinRate: 0.30, RiskAdjusted: 0.25, Consistency: 0.15, Timing: 0.20, Focus: 0.10}
	}
	if s.InsiderMinWinRate <= 0 {
		s.InsiderMinWinRate = 0.8
	}
	if s.InsiderMinRoundTrip <= 0 {
		s.InsiderMinRoundTrip = 10
	}

	sig := &cfg.Signals
	if sig.WindowMinutes <= 0 {
		sig.WindowMinutes = 60
	}
	if sig.ScoreFloor <= 0 {
		sig.ScoreFloor = 0.8
	}
	if sig.ConvergenceThreshold <= 0 {
		sig.ConvergenceThreshold = 3
	}
	if sig.HotMinTrades24h <= 0 {
		sig.HotMinTrades24h = 3
	}
	if sig.HotMinWinRate <= 0 {
		sig.HotMinWinRate = 0.8
	}
	if sig.HotMinScore <= 0 {
		sig.HotMinScore = 0.85
	}

	c := &cfg.Confidence
	if c.Weights == (ConfidenceWeights{}) {
		c.Weights = ConfidenceWeights{Wallet: 0.40, Security: 0.25, Timing: 0.15, Historical: 0.10, Liquidity: 0.10}
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 5
	}
	if c.LiquidityTarget <= 0 {
		c.LiquidityTarget = 50_000
	}

	r := &cfg.Risk
	if r.MaxPositionUSD <= 0 {
		r.MaxPositionUSD = 100
	}
	if r.MaxConcentration <= 0 {
		r.MaxConcentration = 0.30
	}
	if r.DailyLossLimitUSD <= 0 {
		r.DailyLossLimitUSD = 50
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = 0.70
	}
	if r.VelocityMaxSignals <= 0 {
		r.VelocityMaxSignals = 5
	}
	if r.VelocityWindowMinutes <= 0 {
		r.VelocityWindowMinutes = 10
	}
	if r.KellyMultiplier <= 0 {
		r.KellyMultiplier = 0.25
	}
	if r.KellyMaxFraction <= 0 {
		r.KellyMaxFraction = 0.20
	}
	if r.KellyMinSamples <= 0 {
		r.KellyMinSamples = 10
	}
	if r.KellyBand <= 0 {
		r.KellyBand = 0.1
	}
	if r.KellyFallbackFraction <= 0 {
		r.KellyFallbackFraction = 0.25
	}

	l := &cfg.Lifecycle
	if l.StopLossPct <= 0 {
		l.StopLossPct = 0.15
	}
	if l.TakeProfitPct <= 0 {
		l.TakeProfitPct = 0.50
	}
	if l.StaleHours <= 0 {
		l.StaleHours = 24
	}
	if l.StaleMinReturn <= 0 {
		l.StaleMinReturn = 0.05
	}
	if l.TrailingArm <= 0 {
		l.TrailingArm = 0.30
	}
	if l.TrailingDrop <= 0 {
		l.TrailingDrop = 0.15
	}

	a := &cfg.API
	if a.IndexerBase == "" {
		a.IndexerBase = "http://127.0.0.1:8899"
	}
	if a.DexScreenerBase == "" {
		a.DexScreenerBase = "https://api.dexscreener.com/latest"
	}
	if a.RugCheckBase == "" {
		a.RugCheckBase = "https://api.rugcheck.xyz/v1"
	}
	if a.RatePerSec <= 0 {
		a.RatePerSec = 5
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = 10
	}
	if a.MarketTTLSeconds <= 0 {
		a.MarketTTLSeconds = 60
	}
	if a.SecurityTTLSecs <= 0 {
		a.SecurityTTLSecs = 300
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "copybot.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func dedupe(wallets []string) []string {
	seen := make(map[string]bool, len(wallets))
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
