package signals_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/application/signals"
	"github.com/alejandrodnm/copybot/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func wallet(addr string, score float64, buys ...domain.Trade) domain.WalletRecord {
	for i := range buys {
		buys[i].Wallet = addr
	}
	return domain.WalletRecord{
		Address: addr,
		Score:   score,
		Scored:  true,
		Active:  true,
		Trades:  buys,
	}
}

func buy(asset string, ago time.Duration) domain.Trade {
	return domain.Trade{
		ID:        fmt.Sprintf("%s-%v", asset, ago),
		Asset:     asset,
		Side:      domain.SideBuy,
		Amount:    10,
		Price:     1,
		Timestamp: now.Add(-ago),
	}
}

func sell(asset string, ago time.Duration) domain.Trade {
	t := buy(asset, ago)
	t.Side = domain.SideSell
	return t
}

func TestDetectConvergence_ThreeSkilledWallets(t *testing.T) {
	d := signals.New(signals.DefaultConfig())
	records := []domain.WalletRecord{
		wallet("w1", 0.85, buy("X", 40*time.Minute)),
		wallet("w2", 0.90, buy("X", 20*time.Minute)),
		wallet("w3", 0.82, buy("X", time.Minute)),
	}

	sigs := d.DetectConvergence(records, now)
	require.Len(t, sigs, 1)
	s := sigs[0]
	assert.Equal(t, domain.KindWalletConvergence, s.Kind)
	assert.Equal(t, domain.DirectionEnter, s.Direction)
	assert.Equal(t, "X", s.Asset)
	assert.Equal(t, []string{"w1", "w2", "w3"}, s.Wallets)
	assert.InDelta(t, 0.80, s.Strength, 1e-9)
}

func TestDetectConvergence_StrengthGrowsAndCaps(t *testing.T) {
	d := signals.New(signals.DefaultConfig())
	assert.InDelta(t, 0.80, d.ConvergenceStrength(3), 1e-9)
	assert.InDelta(t, 0.85, d.ConvergenceStrength(4), 1e-9)
	assert.InDelta(t, 0.90, d.ConvergenceStrength(5), 1e-9)
	assert.InDelta(t, 0.95, d.ConvergenceStrength(6), 1e-9)
	assert.InDelta(t, 0.95, d.ConvergenceStrength(12), 1e-9)
}

func TestDetectConvergence_Exclusions(t *testing.T) {
	d := signals.New(signals.DefaultConfig())

	tests := []struct {
		name    string
		records []domain.WalletRecord
	}{
		{"score at floor does not count", []domain.WalletRecord{
			wallet("w1", 0.85, buy("X", time.Minute)),
			wallet("w2", 0.90, buy("X", time.Minute)),
			wallet("w3", 0.80, buy("X", time.Minute)),
		}},
		{"buy outside window", []domain.WalletRecord{
			wallet("w1", 0.85, buy("X", time.Minute)),
			wallet("w2", 0.90, buy("X", time.Minute)),
			wallet("w3", 0.95, buy("X", 61*time.Minute)),
		}},
		{"sells are ignored", []domain.WalletRecord{
			wallet("w1", 0.85, buy("X", time.Minute)),
			wallet("w2", 0.90, buy("X", time.Minute)),
			wallet("w3", 0.95, sell("X", time.Minute)),
		}},
		{"same wallet twice counts once", []domain.WalletRecord{
			wallet("w1", 0.85, buy("X", time.Minute), buy("X", 2*time.Minute)),
			wallet("w2", 0.90, buy("X", time.Minute), buy("X", 3*time.Minute)),
		}},
		{"inactive wallet", []domain.WalletRecord{
			wallet("w1", 0.85, buy("X", time.Minute)),
			wallet("w2", 0.90, buy("X", time.Minute)),
			func() domain.WalletRecord {
				w := wallet("w3", 0.95, buy("X", time.Minute))
				w.Active = false
				return w
			}(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, d.DetectConvergence(tt.records, now))
		})
	}
}

func TestDetectHotWallets(t *testing.T) {
	d := signals.New(signals.DefaultConfig())

	hot := wallet("hot", 0.9, buy("Y", 5*time.Minute), buy("Z", 5*time.Minute))
	hot.Metrics = domain.WalletMetrics{Trades24h: 4, WinRate: 0.85}

	cold := wallet("cold", 0.9, buy("Y", 5*time.Minute))
	cold.Metrics = domain.WalletMetrics{Trades24h: 1, WinRate: 0.95}

	sigs := d.DetectHotWallets([]domain.WalletRecord{hot, cold}, map[string]bool{"Z": true}, now)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.KindHotWalletActivity, sigs[0].Kind)
	assert.Equal(t, "Y", sigs[0].Asset)
	assert.Equal(t, []string{"hot"}, sigs[0].Wallets)
	assert.InDelta(t, 0.9, sigs[0].Strength, 1e-9)
}

func TestDetectChart(t *testing.T) {
	d := signals.New(signals.DefaultConfig())

	up := domain.MarketData{Asset: "X", Change5m: 6, Change1h: 12, Change24h: 25, Volume24h: 300, LiquidityUSD: 100}
	sig, ok := d.DetectChart(up, []string{"w1"}, now)
	require.True(t, ok)
	assert.Equal(t, domain.KindChartPattern, sig.Kind)
	assert.Equal(t, domain.DirectionEnter, sig.Direction)
	assert.Equal(t, domain.ChartStrongBuy, sig.Chart)
	assert.InDelta(t, 0.85, sig.Strength, 1e-9)

	down := domain.MarketData{Asset: "X", Change5m: -6, Change1h: -12, Change24h: -20}
	sig, ok = d.DetectChart(down, []string{"w1"}, now)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionExit, sig.Direction)

	_, ok = d.DetectChart(domain.MarketData{Asset: "X"}, []string{"w1"}, now)
	assert.False(t, ok, "hold yields no signal")

	_, ok = d.DetectChart(up, nil, now)
	assert.False(t, ok, "no wallets, no signal")
}

func TestGroupByAsset(t *testing.T) {
	conv, _ := domain.NewSignal(domain.KindWalletConvergence, domain.DirectionEnter, "X", []string{"a", "b", "c"}, 0.8, now)
	hot, _ := domain.NewSignal(domain.KindHotWalletActivity, domain.DirectionEnter, "X", []string{"d"}, 0.9, now)
	chart, _ := domain.NewSignal(domain.KindChartPattern, domain.DirectionEnter, "X", []string{"a"}, 0.75, now)
	other, _ := domain.NewSignal(domain.KindChartPattern, domain.DirectionExit, "A", []string{"a"}, 0.9, now)

	groups := signals.GroupByAsset([]domain.Signal{conv, chart, hot, other})
	require.Len(t, groups, 2)

	assert.Equal(t, "A", groups[0].Asset)
	assert.Nil(t, groups[0].Wallet)
	assert.Equal(t, domain.DirectionExit, groups[0].Direction())

	x := groups[1]
	require.NotNil(t, x.Wallet)
	require.NotNil(t, x.Chart)
	assert.Equal(t, domain.KindHotWalletActivity, x.Wallet.Kind)
	assert.Equal(t, domain.KindChartPattern, x.Chart.Kind)
	assert.Equal(t, domain.DirectionEnter, x.Direction())
	assert.Equal(t, domain.KindHotWalletActivity, x.Primary().Kind)
}
