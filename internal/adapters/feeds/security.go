package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

const defaultRugCheckBase = "https://api.rugcheck.xyz/v1"

// topHoldersBundlePct: por encima de este % en los 10 mayores holders el
// supply se considera concentrado.
const topHoldersBundlePct = 80.0

type rugReport struct {
	Risks []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Level       string `json:"level"`
	} `json:"risks"`
	TopHolders []struct {
		Address string  `json:"address"`
		Pct     float64 `json:"pct"`
	} `json:"topHolders"`
	Markets []struct {
		LP *struct {
			LPLocked    *bool   `json:"lpLocked"`
			LPLockedPct float64 `json:"lpLockedPct"`
		} `json:"lp"`
	} `json:"markets"`
	TotalMarketLiquidity float64 `json:"totalMarketLiquidity"`
	Rugged               bool    `json:"rugged"`
}

type cachedSecurity struct {
	info domain.AssetSecurityInfo
	at   time.Time
}

// SecurityFeed implementa ports.SecurityChecker sobre los reportes de RugCheck,
// con caché en memoria (5 minutos por defecto).
type SecurityFeed struct {
	client *Client
	base   string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecurity
}

// NewSecurityFeed crea el feed. base vacío usa el URL de producción.
func NewSecurityFeed(client *Client, base string, ttl time.Duration) *SecurityFeed {
	if base == "" {
		base = defaultRugCheckBase
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SecurityFeed{
		client: client,
		base:   base,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSecurity),
	}
}

// CheckSecurity devuelve la clasificación de riesgo del asset.
func (f *SecurityFeed) CheckSecurity(ctx context.Context, asset string) (domain.AssetSecurityInfo, error) {
	now := f.now()
	f.mu.Lock()
	if c, ok := f.cache[asset]; ok && now.Sub(c.at) < f.ttl {
		f.mu.Unlock()
		return c.info, nil
	}
	f.mu.Unlock()

	var report rugReport
	if err := f.client.get(ctx, fmt.Sprintf("%s/tokens/%s/report", f.base, asset), &report); err != nil {
		return domain.AssetSecurityInfo{}, fmt.Errorf("feeds.CheckSecurity %s: %w", asset, err)
	}

	info := classify(asset, report)
	info.CheckedAt = now
	if info.IsScam {
		slog.Warn("feeds: scam detected", "asset", asset, "risks", info.Risks)
	}

	f.mu.Lock()
	f.cache[asset] = cachedSecurity{info: info, at: now}
	f.mu.Unlock()
	return info, nil
}

// classify mapea un reporte a tier y flags:
//   - riesgo danger/critical (o token rugged) → scam, CRITICAL
//   - riesgo warn → al menos MEDIUM
//   - riesgo que menciona bundles, o top 10 holders > 80% → bundle
//   - top 10 holders > 80% → al menos HIGH
//   - LP bloqueada baja un MEDIUM a LOW
//   - sin riesgos y con LP bloqueada → SAFE
func classify(asset string, r rugReport) domain.AssetSecurityInfo {
	info := domain.AssetSecurityInfo{
		Asset:        asset,
		Tier:         domain.TierLow,
		LiquidityUSD: r.TotalMarketLiquidity,
	}

	for _, risk := range r.Risks {
		info.Risks = append(info.Risks, risk.Name)
		switch strings.ToLower(risk.Level) {
		case "danger", "critical":
			info.IsScam = true
			info.Tier = info.Tier.Raise(domain.TierCritical)
		case "warn", "warning":
			info.Tier = info.Tier.Raise(domain.TierMedium)
		}
		if strings.Contains(strings.ToLower(risk.Name), "bundle") ||
			strings.Contains(strings.ToLower(risk.Description), "bundl") {
			info.IsBundle = true
		}
	}
	if r.Rugged {
		info.IsScam = true
		info.Tier = domain.TierCritical
		info.Risks = append(info.Risks, "rugged")
	}

	for i, h := range r.TopHolders {
		if i == 10 {
			break
		}
		info.TopHoldersPct += h.Pct
	}
	if info.TopHoldersPct > topHoldersBundlePct {
		info.IsBundle = true
		info.Tier = info.Tier.Raise(domain.TierHigh)
	}

	if len(r.Markets) > 0 && r.Markets[0].LP != nil && r.Markets[0].LP.LPLocked != nil {
		info.LPLocked = *r.Markets[0].LP.LPLocked
	}
	if info.LPLocked && info.Tier == domain.TierMedium {
		info.Tier = domain.TierLow
	}
	if info.LPLocked && len(r.Risks) == 0 && info.Tier == domain.TierLow {
		info.Tier = domain.TierSafe
	}
	return info
}
