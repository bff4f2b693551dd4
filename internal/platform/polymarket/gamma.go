package polymarket

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// GammaClient reads market metadata from the Gamma API.
type GammaClient struct {
	t transport
}

// NewGammaClient creates a Gamma client; baseURL is e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, rps float64) *GammaClient {
	return &GammaClient{t: newTransport(baseURL, rps, int(rps)+1)}
}

// GetMarket returns a single market by id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var m APIMarket
	if err := g.t.getJSON(ctx, "/markets/"+url.PathEscape(id), nil, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	return m.ToDomainMarket(), nil
}
