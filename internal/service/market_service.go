package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
)

// MarketFetcher loads authoritative market metadata.
type MarketFetcher interface {
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
}

// MarketService resolves market metadata through an in-process cache, an
// optional shared cache and finally the exchange. Concurrent misses for the
// same market share one upstream call.
type MarketService struct {
	local  domain.MarketCache
	shared domain.MarketCache
	source MarketFetcher
	policy resilience.Policy
	group  singleflight.Group
	logger *slog.Logger
}

// NewMarketService creates a MarketService. shared may be nil.
func NewMarketService(
	local domain.MarketCache,
	shared domain.MarketCache,
	source MarketFetcher,
	policy resilience.Policy,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		local:  local,
		shared: shared,
		source: source,
		policy: policy,
		logger: logger,
	}
}

// GetMarket returns the market, filling caches on the way back.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.local.Get(ctx, id); err == nil {
		return m, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		if s.shared != nil {
			if m, err := s.shared.Get(ctx, id); err == nil {
				_ = s.local.Set(ctx, m)
				return m, nil
			}
		}

		m, err := resilience.Do(ctx, s.policy, func(ctx context.Context) (domain.Market, error) {
			return s.source.GetMarket(ctx, id)
		})
		if err != nil {
			return domain.Market{}, err
		}

		_ = s.local.Set(ctx, m)
		if s.shared != nil {
			if err := s.shared.Set(ctx, m); err != nil {
				// Non-fatal: the local tier still serves this process.
				s.logger.WarnContext(ctx, "market_service: shared cache set failed",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
		return m, nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}
	return v.(domain.Market), nil
}

// Invalidate drops a market from both cache tiers.
func (s *MarketService) Invalidate(ctx context.Context, id string) {
	_ = s.local.Invalidate(ctx, id)
	if s.shared != nil {
		if err := s.shared.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}
