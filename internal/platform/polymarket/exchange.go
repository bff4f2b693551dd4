package polymarket

import (
	"context"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Exchange joins the CLOB and Gamma clients into a domain.Exchange.
type Exchange struct {
	*ClobClient
	gamma *GammaClient
}

// NewExchange creates an Exchange.
func NewExchange(clob *ClobClient, gamma *GammaClient) *Exchange {
	return &Exchange{ClobClient: clob, gamma: gamma}
}

func (e *Exchange) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return e.gamma.GetMarket(ctx, marketID)
}

var _ domain.Exchange = (*Exchange)(nil)
