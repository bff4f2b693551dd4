package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crosstrade/internal/resilience"
)

func TestNewPolicies_SharesBreakerPerUpstream(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.QuoteTimeout = 7 * time.Second
	p := NewPolicies(cfg, nil)

	assert.Same(t, p.Quote.Breaker, p.BridgeStat.Breaker)
	assert.Same(t, p.Order.Breaker, p.OrderStatus.Breaker)
	assert.Same(t, p.Order.Breaker, p.Market.Breaker)
	assert.NotSame(t, p.Quote.Breaker, p.Order.Breaker)

	assert.Equal(t, 7*time.Second, p.Quote.Timeout)
	assert.Equal(t, cfg.OrderTimeout, p.Order.Timeout)
}

func TestNewPolicies_OrderSubmitRetriesNetworkOnly(t *testing.T) {
	p := NewPolicies(DefaultPolicyConfig(), nil)

	assert.Equal(t, []resilience.Category{resilience.CategoryNetwork}, p.Order.Retry.Retryable)
	assert.Contains(t, p.OrderStatus.Retry.Retryable, resilience.CategoryTimeout)
}
