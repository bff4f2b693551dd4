package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Category is a coarse error class used by the retry allow-list.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryTimeout   Category = "timeout"
	CategoryServer    Category = "server"
	CategoryRateLimit Category = "rate_limit"
	CategoryOther     Category = "other"
)

// Categorize classifies err for retry decisions.
func Categorize(err error) Category {
	if err == nil {
		return CategoryOther
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		return CategoryOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CategoryNetwork
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return CategoryRateLimit
	}
	if errors.Is(err, domain.ErrUpstream) {
		return CategoryServer
	}
	return CategoryOther
}

// RetryConfig tunes Retry.
type RetryConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64
	Retryable   []Category
}

// DefaultRetryConfig retries network, timeout and upstream 5xx failures up to
// three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Initial:     200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
		Retryable:   []Category{CategoryNetwork, CategoryTimeout, CategoryServer},
	}
}

func (c RetryConfig) retryable(err error) bool {
	cat := Categorize(err)
	for _, r := range c.Retryable {
		if r == cat {
			return true
		}
	}
	return false
}

func (c RetryConfig) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.Initial
	eb.Multiplier = c.Multiplier
	eb.MaxInterval = c.MaxDelay
	eb.RandomizationFactor = c.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry invokes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, sleep Sleeper, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}
	bo := cfg.newBackOff()
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.retryable(err) {
			return zero, err
		}
		if serr := sleep(ctx, bo.NextBackOff()); serr != nil {
			return zero, err
		}
	}
}
