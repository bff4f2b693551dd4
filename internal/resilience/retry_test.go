package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 5

	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			calls := 0
			v, err := Retry(context.Background(), cfg, noSleep, func(context.Context) (string, error) {
				calls++
				if calls < n {
					return "", context.DeadlineExceeded
				}
				return "ok", nil
			})
			require.NoError(t, err)
			assert.Equal(t, "ok", v)
			assert.Equal(t, n, calls)
		})
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryConfig(), noSleep, func(context.Context) (int, error) {
		calls++
		return 0, domain.ValidationError("BAD", "nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursAttemptBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryConfig(), noSleep, func(context.Context) (int, error) {
		calls++
		return 0, domain.TransientError(domain.CodeUpstreamUnavailable, domain.ErrUpstream)
	})
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, 3, calls)
}

func TestRetryBackoffGrows(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.Jitter = 0
	cfg.Initial = 100 * time.Millisecond
	cfg.MaxDelay = 300 * time.Millisecond

	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	_, _ = Retry(context.Background(), cfg, sleep, func(context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	})
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond,
	}, delays)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategoryTimeout, Categorize(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, CategoryServer, Categorize(domain.TransientError("X", domain.ErrUpstream)))
	assert.Equal(t, CategoryOther, Categorize(domain.ErrCircuitOpen))
	assert.Equal(t, CategoryOther, Categorize(errors.New("plain")))
}

func TestDoSurfacesCircuitOpenAsTransient(t *testing.T) {
	b := NewBreaker("quote", DefaultBreakerConfig())
	b.ForceOpen()

	calls := 0
	_, err := Do(context.Background(), Policy{Name: "quote", Breaker: b, Retry: DefaultRetryConfig(), Sleep: noSleep},
		func(context.Context) (int, error) {
			calls++
			return 1, nil
		})
	require.Error(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.Equal(t, domain.CodeCircuitOpen, domain.CodeOf(err))
}

func TestDoAppliesTimeoutPerAttempt(t *testing.T) {
	var seen []string
	p := Policy{
		Name:    "status",
		Timeout: 10 * time.Millisecond,
		Retry:   RetryConfig{MaxAttempts: 2, Retryable: []Category{CategoryTimeout}},
		Sleep:   noSleep,
		Observe: func(policy, outcome string, _ time.Duration) { seen = append(seen, policy+":"+outcome) },
	}
	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"status:timeout"}, seen)
}
