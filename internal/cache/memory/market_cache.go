package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// MarketCache is the in-process tier of market metadata lookups.
type MarketCache struct {
	items *ttlcache.Cache[string, domain.Market]
}

// NewMarketCache creates a MarketCache holding at most capacity markets.
func NewMarketCache(ttl time.Duration, capacity uint64) *MarketCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	opts := []ttlcache.Option[string, domain.Market]{
		ttlcache.WithTTL[string, domain.Market](ttl),
		ttlcache.WithDisableTouchOnHit[string, domain.Market](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, domain.Market](capacity))
	}
	return &MarketCache{items: ttlcache.New(opts...)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.items.Set(m.ID, m, ttlcache.DefaultTTL)
	return nil
}

func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	item := c.items.Get(id)
	if item == nil {
		return domain.Market{}, domain.ErrNotFound
	}
	return item.Value(), nil
}

func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.items.Delete(id)
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
