package risk

import (
	"math"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// KellyConfig controls position sizing.
type KellyConfig struct {
	Band             float64 // outcomes within ±Band of the signal confidence form the sample
	MinSamples       int     // below this the fallback fraction is used
	Multiplier       float64 // fractional Kelly safety factor
	MaxFraction      float64 // cap on the fraction of capital risked per signal
	FallbackFraction float64 // of max position size, used with an undersized sample
}

// MaxRiskFraction is the hard ceiling on the fraction of capital risked on
// one signal. A larger MaxFraction is clamped to it.
const MaxRiskFraction = 0.20

// DefaultKellyConfig returns quarter-Kelly capped at 20% of capital.
func DefaultKellyConfig() KellyConfig {
	return KellyConfig{
		Band:             0.1,
		MinSamples:       10,
		Multiplier:       0.25,
		MaxFraction:      MaxRiskFraction,
		FallbackFraction: 0.25,
	}
}

// Sizing is how a size was derived.
type Sizing struct {
	Samples  int
	WinProb  float64
	AvgWin   float64 // mean return of winners, as a fraction
	AvgLoss  float64 // mean magnitude of losers' returns, as a fraction
	Kelly    float64 // raw Kelly fraction
	Fraction float64 // after multiplier and clamp
	Fallback bool
	Size     float64
}

// similar returns the outcomes whose confidence is within band of c.
func similar(outcomes []domain.Outcome, c, band float64) []domain.Outcome {
	var out []domain.Outcome
	for _, o := range outcomes {
		if math.Abs(o.Confidence-c) <= band+1e-9 {
			out = append(out, o)
		}
	}
	return out
}

// KellyFraction computes the raw Kelly fraction f = (p·w − (1−p)·l) / w from
// past outcomes. With no winners the edge is taken as non-positive.
func KellyFraction(sample []domain.Outcome) (f, p, avgWin, avgLoss float64) {
	if len(sample) == 0 {
		return 0, 0, 0, 0
	}
	wins, losses := 0, 0
	totalWin, totalLoss := 0.0, 0.0
	for _, o := range sample {
		if o.Win() {
			wins++
			totalWin += o.ReturnPct
		} else {
			losses++
			totalLoss += math.Abs(o.ReturnPct)
		}
	}
	p = float64(wins) / float64(len(sample))
	if wins > 0 {
		avgWin = totalWin / float64(wins)
	}
	if losses > 0 {
		avgLoss = totalLoss / float64(losses)
	}
	if avgWin <= 0 {
		return 0, p, avgWin, avgLoss
	}
	f = (p*avgWin - (1-p)*avgLoss) / avgWin
	return f, p, avgWin, avgLoss
}

// size computes the bounded position size before portfolio headroom caps.
func (k KellyConfig) size(outcomes []domain.Outcome, confidence, capital, maxPosition float64) Sizing {
	sample := similar(outcomes, confidence, k.Band)
	s := Sizing{Samples: len(sample)}
	hardCap := math.Min(k.MaxFraction*capital, maxPosition)

	if len(sample) < k.MinSamples {
		s.Fallback = true
		s.Size = math.Min(k.FallbackFraction*maxPosition, hardCap)
		return s
	}

	s.Kelly, s.WinProb, s.AvgWin, s.AvgLoss = KellyFraction(sample)
	s.Fraction = domain.Clamp(s.Kelly*k.Multiplier, 0, k.MaxFraction)
	s.Size = math.Min(s.Fraction*capital, maxPosition)
	return s
}
