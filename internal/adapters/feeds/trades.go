package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

const (
	tradesPerPage  = 100
	tradesMaxPages = 5
)

type rawTrade struct {
	Signature string  `json:"signature"`
	Mint      string  `json:"mint"`
	Side      string  `json:"side"`
	Amount    float64 `json:"tokenAmount"`
	PriceUSD  float64 `json:"priceUsd"`
	Timestamp int64   `json:"timestamp"` // unix seconds or milliseconds
	Failed    bool    `json:"failed"`
}

type tradesPage struct {
	Trades []rawTrade `json:"trades"`
	Next   string     `json:"next"`
}

// TradeFeed implementa ports.TradeProvider sobre un indexer de swaps por
// wallet. El indexer devuelve los swaps más recientes primero, paginados con
// un cursor opaco.
type TradeFeed struct {
	client *Client
	base   string
}

// NewTradeFeed crea el feed apuntando al indexer en base.
func NewTradeFeed(client *Client, base string) *TradeFeed {
	return &TradeFeed{client: client, base: strings.TrimRight(base, "/")}
}

// FetchTrades devuelve los swaps de la wallet posteriores a since, ordenados
// por tiempo. Los swaps fallidos y los de lado desconocido se descartan.
func (f *TradeFeed) FetchTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error) {
	var all []domain.Trade
	cursor := ""

	for page := 0; page < tradesMaxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(tradesPerPage))
		if !since.IsZero() {
			q.Set("since", strconv.FormatInt(since.Unix(), 10))
		}
		if cursor != "" {
			q.Set("before", cursor)
		}
		u := fmt.Sprintf("%s/wallets/%s/trades?%s", f.base, url.PathEscape(wallet), q.Encode())

		var resp tradesPage
		if err := f.client.get(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("feeds.FetchTrades %s: %w", wallet, err)
		}

		older := false
		for _, rt := range resp.Trades {
			t, ok := toTrade(wallet, rt)
			if !ok {
				continue
			}
			if !t.Timestamp.After(since) {
				older = true
				continue
			}
			all = append(all, t)
		}

		slog.Debug("feeds: trades page",
			"wallet", short(wallet),
			"page", page,
			"count", len(resp.Trades),
			"total", len(all),
		)

		if older || resp.Next == "" || len(resp.Trades) < tradesPerPage {
			break
		}
		cursor = resp.Next
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

func toTrade(wallet string, rt rawTrade) (domain.Trade, bool) {
	if rt.Failed || rt.Signature == "" || rt.Mint == "" || rt.Amount <= 0 || rt.PriceUSD <= 0 {
		return domain.Trade{}, false
	}
	var side domain.Side
	switch strings.ToLower(rt.Side) {
	case "buy":
		side = domain.SideBuy
	case "sell":
		side = domain.SideSell
	default:
		return domain.Trade{}, false
	}
	return domain.Trade{
		ID:        rt.Signature,
		Wallet:    wallet,
		Asset:     rt.Mint,
		Side:      side,
		Amount:    rt.Amount,
		Price:     rt.PriceUSD,
		Timestamp: parseUnix(rt.Timestamp),
	}, true
}

func parseUnix(ts int64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
