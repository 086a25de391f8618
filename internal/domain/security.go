package domain

import "time"

// RiskTier is the security classification of an asset, ordered Safe < ... < Critical.
type RiskTier int

const (
	TierSafe RiskTier = iota
	TierLow
	TierMedium
	TierHigh
	TierCritical
)

func (t RiskTier) String() string {
	switch t {
	case TierSafe:
		return "SAFE"
	case TierLow:
		return "LOW"
	case TierMedium:
		return "MEDIUM"
	case TierHigh:
		return "HIGH"
	case TierCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Raise returns the higher of the two tiers.
func (t RiskTier) Raise(other RiskTier) RiskTier {
	if other > t {
		return other
	}
	return t
}

// AssetSecurityInfo is the output of the security collaborator for one asset.
type AssetSecurityInfo struct {
	Asset         string
	Tier          RiskTier
	IsScam        bool
	IsBundle      bool    // supply concentrated by coordinated launch wallets
	TopHoldersPct float64 // percent of supply held by the top 10 holders
	LiquidityUSD  float64
	LPLocked      bool
	Risks         []string
	CheckedAt     time.Time
}
