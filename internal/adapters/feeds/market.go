package feeds

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

const defaultDexScreenerBase = "https://api.dexscreener.com/latest"

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume *struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange *struct {
		M5  float64 `json:"m5"`
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

type cachedMarket struct {
	data domain.MarketData
	at   time.Time
}

// MarketFeed implementa ports.MarketProvider sobre la API de DexScreener,
// con caché en memoria.
type MarketFeed struct {
	client *Client
	base   string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedMarket
}

// NewMarketFeed crea el feed. base vacío usa el URL de producción; ttl cero
// usa 60s.
func NewMarketFeed(client *Client, base string, ttl time.Duration) *MarketFeed {
	if base == "" {
		base = defaultDexScreenerBase
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MarketFeed{
		client: client,
		base:   base,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedMarket),
	}
}

// FetchMarketData devuelve precio, liquidez, volumen y cambios de precio del
// par con más liquidez del asset.
func (f *MarketFeed) FetchMarketData(ctx context.Context, asset string) (domain.MarketData, error) {
	now := f.now()
	f.mu.Lock()
	if c, ok := f.cache[asset]; ok && now.Sub(c.at) < f.ttl {
		f.mu.Unlock()
		return c.data, nil
	}
	f.mu.Unlock()

	var resp dexResponse
	if err := f.client.get(ctx, fmt.Sprintf("%s/dex/tokens/%s", f.base, asset), &resp); err != nil {
		return domain.MarketData{}, fmt.Errorf("feeds.FetchMarketData %s: %w", asset, err)
	}

	md, err := bestPair(asset, resp.Pairs)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("feeds.FetchMarketData %s: %w", asset, err)
	}
	md.FetchedAt = now

	f.mu.Lock()
	f.cache[asset] = cachedMarket{data: md, at: now}
	f.mu.Unlock()
	return md, nil
}

// bestPair elige el par con más liquidez y precio válido.
func bestPair(asset string, pairs []dexPair) (domain.MarketData, error) {
	var best domain.MarketData
	found := false
	for _, p := range pairs {
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		md := domain.MarketData{Asset: asset, PriceUSD: price}
		if p.Liquidity != nil {
			md.LiquidityUSD = p.Liquidity.USD
		}
		if p.Volume != nil {
			md.Volume24h = p.Volume.H24
		}
		if p.PriceChange != nil {
			md.Change5m = p.PriceChange.M5
			md.Change1h = p.PriceChange.H1
			md.Change24h = p.PriceChange.H24
		}
		if !found || md.LiquidityUSD > best.LiquidityUSD {
			best, found = md, true
		}
	}
	if !found {
		return domain.MarketData{}, fmt.Errorf("no priced pairs: %w", domain.ErrDataUnavailable)
	}
	return best, nil
}
