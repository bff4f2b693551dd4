package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Observer is told the outcome and latency of every protected call.
type Observer func(policy, outcome string, took time.Duration)

// Policy bundles the protection applied to one class of external call.
type Policy struct {
	Name    string
	Timeout time.Duration
	Breaker *Breaker
	Retry   RetryConfig
	Sleep   Sleeper
	Observe Observer
}

// Do runs fn with a per-attempt timeout inside the breaker, retried under the
// policy's allow-list. A rejected call surfaces as a transient error with
// code CIRCUIT_OPEN.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := Retry(ctx, p.Retry, p.Sleep, func(ctx context.Context) (T, error) {
		var out T
		call := func(ctx context.Context) error {
			if p.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.Timeout)
				defer cancel()
			}
			r, err := fn(ctx)
			if err != nil {
				return err
			}
			out = r
			return nil
		}
		if p.Breaker == nil {
			return out, call(ctx)
		}
		return out, p.Breaker.Execute(ctx, call)
	})
	if p.Observe != nil {
		p.Observe(p.Name, outcome(err), time.Since(start))
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		var zero T
		return zero, domain.TransientError(domain.CodeCircuitOpen, err)
	}
	return v, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrCircuitOpen):
		return "rejected"
	case Categorize(err) == CategoryTimeout:
		return "timeout"
	default:
		return "error"
	}
}
