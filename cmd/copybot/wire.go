package main

import (
	"fmt"

	"github.com/alejandrodnm/copybot/config"
	"github.com/alejandrodnm/copybot/internal/adapters/feeds"
	"github.com/alejandrodnm/copybot/internal/adapters/metrics"
	"github.com/alejandrodnm/copybot/internal/adapters/notify"
	"github.com/alejandrodnm/copybot/internal/adapters/paper"
	"github.com/alejandrodnm/copybot/internal/adapters/storage"
	"github.com/alejandrodnm/copybot/internal/application/confidence"
	"github.com/alejandrodnm/copybot/internal/application/engine"
	"github.com/alejandrodnm/copybot/internal/application/ledger"
	"github.com/alejandrodnm/copybot/internal/application/lifecycle"
	"github.com/alejandrodnm/copybot/internal/application/risk"
	"github.com/alejandrodnm/copybot/internal/application/scorer"
	"github.com/alejandrodnm/copybot/internal/application/signals"
)

// app agrupa todo lo que main necesita después del wiring.
type app struct {
	engine  *engine.Engine
	store   *storage.SQLiteStorage
	console *notify.Console
	metrics *metrics.Prometheus
	feeds   map[string]*feeds.Client
}

// build crea adapters y componentes a partir de la configuración.
func build(cfg *config.Config) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("build: storage: %w", err)
	}

	clients := map[string]*feeds.Client{
		"indexer":     feeds.NewClient(clientConfig(cfg, "indexer", indexerHeaders(cfg))),
		"dexscreener": feeds.NewClient(clientConfig(cfg, "dexscreener", nil)),
		"rugcheck":    feeds.NewClient(clientConfig(cfg, "rugcheck", nil)),
	}
	trades := feeds.NewTradeFeed(clients["indexer"], cfg.API.IndexerBase)
	market := feeds.NewMarketFeed(clients["dexscreener"], cfg.API.DexScreenerBase, cfg.MarketTTL())
	security := feeds.NewSecurityFeed(clients["rugcheck"], cfg.API.RugCheckBase, cfg.SecurityTTL())

	exec := paper.NewExecutor(paper.Config{BaseSlippageBps: float64(cfg.Engine.PaperBaseSlippageBps)}, market)
	console := notify.NewConsole()
	prom := metrics.NewPrometheus()

	l := ledger.New(ledger.Config{
		Capital:              cfg.Engine.CapitalUSD,
		DailyLossLimit:       cfg.Risk.DailyLossLimitUSD,
		BreakerCooldown:      cfg.BreakerCooldown(),
		MaxConsecutiveLosses: cfg.Engine.MaxConsecutiveLosses,
	})

	lc := lifecycle.NewManager(lifecycle.Config{
		Rules:          lifecycleRules(cfg),
		MaxSlippageBps: cfg.Engine.MaxSlippageBps,
	}, l, market, exec, console, prom)

	eng := engine.New(engine.Config{
		Wallets:         cfg.Wallets,
		CycleInterval:   cfg.CycleInterval(),
		MonitorInterval: cfg.MonitorInterval(),
		HistoryWindow:   cfg.HistoryWindow(),
		FetchWorkers:    cfg.Engine.FetchWorkers,
		MaxSlippageBps:  cfg.Engine.MaxSlippageBps,
	}, engine.Deps{
		Trades:     trades,
		Market:     market,
		Security:   security,
		Executor:   exec,
		Notifier:   console,
		Storage:    store,
		Metrics:    prom,
		Scorer:     scorer.New(scorerConfig(cfg)),
		Detector:   signals.New(signalsConfig(cfg)),
		Aggregator: confidence.New(confidenceConfig(cfg)),
		Gate:       risk.New(riskConfig(cfg), l),
		Ledger:     l,
		Lifecycle:  lc,
	})

	return &app{engine: eng, store: store, console: console, metrics: prom, feeds: clients}, nil
}

func clientConfig(cfg *config.Config, name string, headers map[string]string) feeds.ClientConfig {
	return feeds.ClientConfig{
		Name:       name,
		RatePerSec: cfg.API.RatePerSec,
		Timeout:    cfg.APITimeout(),
		Headers:    headers,
	}
}

func indexerHeaders(cfg *config.Config) map[string]string {
	if cfg.API.IndexerAPIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + cfg.API.IndexerAPIKey}
}

func scorerConfig(cfg *config.Config) scorer.Config {
	w := cfg.Scorer.Weights
	return scorer.Config{
		MinTrades: cfg.Scorer.MinTrades,
		MinCopied: cfg.Scorer.MinCopied,
		Staleness: cfg.Staleness(),
		Workers:   cfg.Scorer.Workers,
		Weights: scorer.Weights{
			WinRate:      w.WinRate,
			RiskAdjusted: w.RiskAdjusted,
			Consistency:  w.Consistency,
			Timing:       w.Timing,
			Focus:        w.Focus,
		},
		Insider: scorer.InsiderRule{
			MinWinRate:    cfg.Scorer.InsiderMinWinRate,
			MinRoundTrips: cfg.Scorer.InsiderMinRoundTrip,
		},
	}
}

func signalsConfig(cfg *config.Config) signals.Config {
	sc := signals.DefaultConfig()
	sc.Window = cfg.SignalWindow()
	sc.ScoreFloor = cfg.Signals.ScoreFloor
	sc.ConvergenceThreshold = cfg.Signals.ConvergenceThreshold
	sc.HotMinTrades24h = cfg.Signals.HotMinTrades24h
	sc.HotMinWinRate = cfg.Signals.HotMinWinRate
	sc.HotMinScore = cfg.Signals.HotMinScore
	return sc
}

func confidenceConfig(cfg *config.Config) confidence.Config {
	cc := confidence.DefaultConfig()
	w := cfg.Confidence.Weights
	cc.Weights = confidence.Weights{
		Wallet:     w.Wallet,
		Security:   w.Security,
		Timing:     w.Timing,
		Historical: w.Historical,
		Liquidity:  w.Liquidity,
	}
	cc.MinHistory = cfg.Confidence.MinHistory
	cc.LiquidityTarget = cfg.Confidence.LiquidityTarget
	return cc
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.MaxPositionUSD = cfg.Risk.MaxPositionUSD
	rc.MaxConcentration = cfg.Risk.MaxConcentration
	rc.DailyLossLimit = cfg.Risk.DailyLossLimitUSD
	rc.MinConfidence = cfg.Risk.MinConfidence
	rc.Velocity = risk.VelocityConfig{MaxSignals: cfg.Risk.VelocityMaxSignals, Window: cfg.VelocityWindow()}
	rc.Kelly.Multiplier = cfg.Risk.KellyMultiplier
	rc.Kelly.MaxFraction = cfg.Risk.KellyMaxFraction
	rc.Kelly.MinSamples = cfg.Risk.KellyMinSamples
	rc.Kelly.Band = cfg.Risk.KellyBand
	rc.Kelly.FallbackFraction = cfg.Risk.KellyFallbackFraction
	return rc
}

func lifecycleRules(cfg *config.Config) lifecycle.Rules {
	return lifecycle.Rules{
		StopLossPct:    cfg.Lifecycle.StopLossPct,
		TakeProfitPct:  cfg.Lifecycle.TakeProfitPct,
		StaleAfter:     cfg.StaleAfter(),
		StaleMinReturn: cfg.Lifecycle.StaleMinReturn,
		TrailingArm:    cfg.Lifecycle.TrailingArm,
		TrailingDrop:   cfg.Lifecycle.TrailingDrop,
	}
}
