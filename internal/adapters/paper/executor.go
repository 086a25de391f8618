package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/copybot/internal/domain"
	"github.com/alejandrodnm/copybot/internal/ports"
)

// Una venta sin límite nunca se llena por debajo del 1% del precio.
const maxSellSlippageBps = 9_900

// Config controla la simulación de fills.
type Config struct {
	BaseSlippageBps float64 // fixed cost of every fill (fees, spread)
	Now             func() time.Time
}

// Executor implementa ports.Executor sin tocar la red de trading: cada orden
// se llena al precio de mercado actual más un slippage simulado por impacto
// sobre la liquidez.
type Executor struct {
	cfg    Config
	market ports.MarketProvider
}

// NewExecutor crea un executor de paper trading.
func NewExecutor(cfg Config, market ports.MarketProvider) *Executor {
	if cfg.BaseSlippageBps <= 0 {
		cfg.BaseSlippageBps = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{cfg: cfg, market: market}
}

// SlippageBps estima el slippage de una orden de amountUSD contra la
// liquidez del pool.
func (e *Executor) SlippageBps(amountUSD, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 10_000
	}
	return e.cfg.BaseSlippageBps + amountUSD/liquidityUSD*10_000
}

// ExecuteTrade simula la orden. Falla con domain.ErrSlippageExceeded si el
// slippage estimado supera req.MaxSlippageBps; con MaxSlippageBps 0 la orden
// se llena siempre.
func (e *Executor) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Fill, error) {
	if req.AmountUSD <= 0 {
		return domain.Fill{}, fmt.Errorf("paper.ExecuteTrade %s: non-positive amount: %w", req.Asset, domain.ErrExecutionFailed)
	}
	md, err := e.market.FetchMarketData(ctx, req.Asset)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("paper.ExecuteTrade %s: price: %w: %w", req.Asset, domain.ErrExecutionFailed, err)
	}
	if md.PriceUSD <= 0 {
		return domain.Fill{}, fmt.Errorf("paper.ExecuteTrade %s: no price: %w", req.Asset, domain.ErrExecutionFailed)
	}

	bps := e.SlippageBps(req.AmountUSD, md.LiquidityUSD)
	if req.MaxSlippageBps > 0 && bps > float64(req.MaxSlippageBps) {
		return domain.Fill{}, fmt.Errorf("paper.ExecuteTrade %s: %.1f bps > max %d: %w",
			req.Asset, bps, req.MaxSlippageBps, errors.Join(domain.ErrSlippageExceeded, domain.ErrExecutionFailed))
	}

	price := md.PriceUSD * (1 + bps/10_000)
	if req.Side == domain.SideSell {
		price = md.PriceUSD * (1 - min(bps, maxSellSlippageBps)/10_000)
	}
	fill := domain.Fill{
		Signature: "paper-" + uuid.New().String(),
		Price:     price,
		AmountUSD: req.AmountUSD,
		FilledAt:  e.cfg.Now(),
	}

	slog.Info("paper: simulated fill",
		"asset", req.Asset,
		"side", req.Side,
		"amount", fmt.Sprintf("$%.2f", req.AmountUSD),
		"market", fmt.Sprintf("%.8f", md.PriceUSD),
		"fill", fmt.Sprintf("%.8f", price),
		"slippage_bps", fmt.Sprintf("%.1f", bps),
	)
	return fill, nil
}
