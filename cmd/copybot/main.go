package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/copybot/config"
	"github.com/alejandrodnm/copybot/internal/adapters/httpapi"
	"github.com/alejandrodnm/copybot/internal/adapters/notify"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one evaluation cycle and one monitor sweep, print the portfolio and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	serve := flag.Bool("http", false, "enable the control API (overrides config)")
	history := flag.Int("history", 0, "print the last N days of realized PnL from storage and exit")
	stopFile := flag.String("stop-file", "STOP", "creating this file trips the emergency stop")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *serve {
		cfg.HTTP.Enabled = true
	}
	setupLogger(cfg.Log)

	slog.Info("copybot starting",
		"config", *configPath,
		"wallets", len(cfg.Wallets),
		"capital", cfg.Engine.CapitalUSD,
		"cycle", cfg.CycleInterval(),
		"monitor", cfg.MonitorInterval(),
		"once", *once,
		"http", cfg.HTTP.Enabled,
	)
	if len(cfg.Wallets) == 0 {
		slog.Warn("no wallets configured, only open positions will be monitored")
	}

	a, err := build(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer a.store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history > 0 {
		printHistory(ctx, a, *history)
		return
	}

	if err := a.engine.Restore(ctx); err != nil {
		slog.Error("failed to restore state", "err", err)
		os.Exit(1)
	}

	if *once {
		runOnce(ctx, a)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error {
		watchStopFile(gctx, a, *stopFile, 5*time.Second)
		return nil
	})
	if cfg.HTTP.Enabled {
		srv := httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr}, a.engine, a.metrics.Handler())
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("copybot exited with error", "err", err)
		os.Exit(1)
	}

	a.console.PrintSnapshot(a.engine.Snapshot())
	slog.Info("copybot stopped cleanly")
}

// runOnce hace un ciclo de evaluación y un barrido del monitor, e imprime el
// estado resultante.
func runOnce(ctx context.Context, a *app) {
	res, err := a.engine.RunCycle(ctx)
	if err != nil {
		slog.Error("cycle failed", "err", err)
		os.Exit(1)
	}
	sweep := a.engine.Monitor(ctx)

	slog.Info("single run complete",
		"signals", len(res.Signals),
		"opened", len(res.Opened),
		"vetoed", res.Vetoed,
		"skipped", res.Skipped,
		"checked", sweep.Checked,
		"closed", len(sweep.Closed),
		"duration", res.Duration,
	)
	for name, c := range a.feeds {
		slog.Debug("upstream breaker", "upstream", name, "state", c.State())
	}

	a.console.PrintWallets(a.engine.Wallets())
	a.console.PrintSnapshot(a.engine.Snapshot())
	a.console.PrintClosed(a.engine.ClosedPositions(), 10)
}

func printHistory(ctx context.Context, a *app, days int) {
	rows, err := a.store.LoadDailyPnL(ctx, days)
	if err != nil {
		slog.Error("failed to load daily pnl", "err", err)
		os.Exit(1)
	}
	out := make([]notify.DailyRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, notify.DailyRow{Date: r.Date, PnL: r.PnL, Closed: r.Closed})
	}
	a.console.PrintDaily(out)
}

// watchStopFile dispara el emergency stop cuando aparece el archivo. El
// breaker queda tripped hasta un rearm explícito (POST /rearm).
func watchStopFile(ctx context.Context, a *app, path string, every time.Duration) {
	if path == "" {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err != nil {
				continue
			}
			slog.Error("STOP file detected, tripping emergency stop", "file", path)
			a.engine.EmergencyStop(ctx, "STOP file")
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove STOP file", "err", err)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
