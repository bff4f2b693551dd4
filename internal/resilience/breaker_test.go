package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker("test", BreakerConfig{
		Window:          10 * time.Second,
		Buckets:         10,
		VolumeThreshold: 4,
		ErrorPercent:    50,
		ResetTimeout:    5 * time.Second,
	}, WithClock(clock.Now))
}

func TestBreakerForceOpenSkipsCall(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})
	b.ForceOpen()

	var calls int
	err := b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Zero(t, calls)

	b.ForceClose()
	err = b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBreakerForceOpenIgnoresResetTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	b.ForceOpen()
	clock.Advance(time.Minute)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerTripsOnErrorRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	require.NoError(t, b.Execute(context.Background(), ok))
	require.NoError(t, b.Execute(context.Background(), ok))
	require.ErrorIs(t, b.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, StateClosed, b.State(), "below volume threshold")

	require.ErrorIs(t, b.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresValidationErrors(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return domain.ValidationError("BAD", "bad input")
		})
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerWindowExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	clock.Advance(11 * time.Second)
	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(5 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	release := make(chan struct{})
	started := make(chan struct{})
	var trialCalls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			trialCalls.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func(context.Context) error {
		trialCalls.Add(1)
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), trialCalls.Load())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []string
	b := NewBreaker("test", BreakerConfig{VolumeThreshold: 1, ErrorPercent: 50, ResetTimeout: time.Second},
		WithClock(clock.Now),
		OnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		}))

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	clock.Advance(time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>open"}, transitions)
}
