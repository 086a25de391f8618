package domain

import (
	"fmt"
	"sort"
	"time"
)

// SignalKind identifies the strategy that produced a signal.
type SignalKind int

const (
	KindWalletConvergence SignalKind = iota // several skilled wallets bought the same asset
	KindHotWalletActivity                   // one wallet on a verified hot streak bought
	KindChartPattern                        // price/volume pattern on an asset skilled wallets touch
)

func (k SignalKind) String() string {
	switch k {
	case KindWalletConvergence:
		return "WALLET_CONVERGENCE"
	case KindHotWalletActivity:
		return "HOT_WALLET"
	case KindChartPattern:
		return "CHART_PATTERN"
	default:
		return "UNKNOWN"
	}
}

// IsWalletBased reports whether the signal's strength measures wallet quality.
func (k SignalKind) IsWalletBased() bool {
	return k == KindWalletConvergence || k == KindHotWalletActivity
}

// Direction is what the signal suggests doing with the asset.
type Direction int

const (
	DirectionEnter Direction = iota
	DirectionExit
)

func (d Direction) String() string {
	if d == DirectionExit {
		return "EXIT"
	}
	return "ENTER"
}

// Signal is an immutable detection event. Build it with NewSignal.
type Signal struct {
	ID         string
	Asset      string
	Kind       SignalKind
	Direction  Direction
	Wallets    []string // non-empty, unique, sorted
	Strength   float64  // [0,1]
	Chart      ChartAction
	DetectedAt time.Time
}

// NewSignal validates and normalizes a signal. The wallet set must be non-empty
// and free of duplicates.
func NewSignal(kind SignalKind, dir Direction, asset string, wallets []string, strength float64, detectedAt time.Time) (Signal, error) {
	if asset == "" {
		return Signal{}, fmt.Errorf("domain.NewSignal: empty asset: %w", ErrInvariantViolation)
	}
	if len(wallets) == 0 {
		return Signal{}, fmt.Errorf("domain.NewSignal: %s on %s has no wallets: %w", kind, asset, ErrInvariantViolation)
	}
	ws := make([]string, len(wallets))
	copy(ws, wallets)
	sort.Strings(ws)
	for i := 1; i < len(ws); i++ {
		if ws[i] == ws[i-1] {
			return Signal{}, fmt.Errorf("domain.NewSignal: duplicate wallet %s: %w", ws[i], ErrInvariantViolation)
		}
	}
	return Signal{
		ID:         fmt.Sprintf("%s:%s:%d", kind, asset, detectedAt.Unix()),
		Asset:      asset,
		Kind:       kind,
		Direction:  dir,
		Wallets:    ws,
		Strength:   Clamp01(strength),
		DetectedAt: detectedAt,
	}, nil
}

// WithChart returns a copy carrying the chart classification that produced it.
func (s Signal) WithChart(a ChartAction) Signal {
	s.Chart = a
	return s
}
