package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache shares resolved market metadata (token ids, tick size, neg-risk
// flag) between the API and worker processes, so a burst of intents on one
// market resolves it against Gamma once. Entries are JSON strings at
// {prefix}:market:{id}.
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a cache whose entries expire after ttl (5m if unset).
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	if market.ID == "" {
		return fmt.Errorf("redis: cache market: empty id")
	}
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: encode market %s: %w", market.ID, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.c.Key("market", market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: cache market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.c.Key("market", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: read market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: decode market %s: %w", id, err)
	}
	return market, nil
}

func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.c.rdb.Del(ctx, mc.c.Key("market", id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
