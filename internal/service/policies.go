package service

import (
	"time"

	"github.com/alanyoungcy/crosstrade/internal/resilience"
)

// Policies holds the call protection for each class of external call.
type Policies struct {
	Quote       resilience.Policy
	BridgeStat  resilience.Policy
	Order       resilience.Policy
	OrderStatus resilience.Policy
	Market      resilience.Policy
}

// PolicyConfig tunes the breakers, retries and per-call timeouts.
type PolicyConfig struct {
	Breaker resilience.BreakerConfig
	Retry   resilience.RetryConfig

	QuoteTimeout  time.Duration
	StatusTimeout time.Duration
	OrderTimeout  time.Duration
}

// DefaultPolicyConfig uses quote 15s, status checks 5s, order placement 30s.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Breaker:       resilience.DefaultBreakerConfig(),
		Retry:         resilience.DefaultRetryConfig(),
		QuoteTimeout:  15 * time.Second,
		StatusTimeout: 5 * time.Second,
		OrderTimeout:  30 * time.Second,
	}
}

// NewPolicies returns one breaker per upstream shared by every call class
// against it.
func NewPolicies(cfg PolicyConfig, obs resilience.Observer, opts ...resilience.BreakerOption) Policies {
	bridge := resilience.NewBreaker("bridge", cfg.Breaker, opts...)
	exchange := resilience.NewBreaker("exchange", cfg.Breaker, opts...)

	// Placing an order is not idempotent on the exchange side; a timed out
	// submit is not blindly repeated.
	orderRetry := cfg.Retry
	orderRetry.Retryable = []resilience.Category{resilience.CategoryNetwork}

	return Policies{
		Quote:       resilience.Policy{Name: "bridge_quote", Timeout: cfg.QuoteTimeout, Breaker: bridge, Retry: cfg.Retry, Observe: obs},
		BridgeStat:  resilience.Policy{Name: "bridge_status", Timeout: cfg.StatusTimeout, Breaker: bridge, Retry: cfg.Retry, Observe: obs},
		Order:       resilience.Policy{Name: "order_submit", Timeout: cfg.OrderTimeout, Breaker: exchange, Retry: orderRetry, Observe: obs},
		OrderStatus: resilience.Policy{Name: "order_status", Timeout: cfg.StatusTimeout, Breaker: exchange, Retry: cfg.Retry, Observe: obs},
		Market:      resilience.Policy{Name: "market_lookup", Timeout: cfg.StatusTimeout, Breaker: exchange, Retry: cfg.Retry, Observe: obs},
	}
}
