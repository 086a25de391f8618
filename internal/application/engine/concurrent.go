package engine

// concurrent.go: worker pools for the network fetches of a cycle. Everything
// else in the cycle is pure and runs on the caller's goroutine.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/ports"
)

type walletTrades struct {
	wallet string
	trades []domain.Trade
}

// fetchTradesConcurrent pulls new trades for every wallet in parallel. A
// wallet whose fetch fails is skipped for this cycle.
func fetchTradesConcurrent(
	ctx context.Context,
	provider ports.TradeProvider,
	since map[string]time.Time,
	workers int,
	onError func(wallet string, err error),
) map[string][]domain.Trade {
	workCh := make(chan string, len(since))
	resultCh := make(chan walletTrades, len(since))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					continue
				}
				trades, err := provider.FetchTrades(ctx, w, since[w])
				if err != nil {
					onError(w, err)
					continue
				}
				resultCh <- walletTrades{wallet: w, trades: trades}
			}
		}()
	}

	for w := range since {
		workCh <- w
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make(map[string][]domain.Trade, len(since))
	for r := range resultCh {
		out[r.wallet] = r.trades
	}
	return out
}

// fetchMarketsConcurrent pulls market data for every asset in parallel.
// Assets whose fetch fails are absent from the result.
func fetchMarketsConcurrent(
	ctx context.Context,
	provider ports.MarketProvider,
	assets []string,
	workers int,
	onError func(asset string, err error),
) map[string]domain.MarketData {
	workCh := make(chan string, len(assets))
	resultCh := make(chan domain.MarketData, len(assets))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range workCh {
				if ctx.Err() != nil {
					continue
				}
				md, err := provider.FetchMarketData(ctx, a)
				if err != nil {
					onError(a, err)
					continue
				}
				md.Asset = a
				resultCh <- md
			}
		}()
	}

	for _, a := range assets {
		workCh <- a
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make(map[string]domain.MarketData, len(assets))
	for md := range resultCh {
		out[md.Asset] = md
	}
	slog.Debug("engine: market fetch complete", "assets", len(assets), "ok", len(out), "workers", workers)
	return out
}
