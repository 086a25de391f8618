package ports

import (
	"context"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// MarketProvider obtiene precio, volumen, liquidez y variaciones de un token.
type MarketProvider interface {
	FetchMarketData(ctx context.Context, asset string) (domain.MarketData, error)
}

// SecurityChecker clasifica el riesgo de seguridad de un token.
type SecurityChecker interface {
	CheckSecurity(ctx context.Context, asset string) (domain.AssetSecurityInfo, error)
}
