// Package resilience wraps external calls with timeouts, a circuit breaker and
// bounded retries.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// State is a circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Window is the rolling period over which outcomes are counted.
	Window time.Duration
	// Buckets splits Window into this many slots.
	Buckets int
	// VolumeThreshold is the minimum number of calls in the window before
	// the error rate is evaluated.
	VolumeThreshold int
	// ErrorPercent trips the breaker when failures/total reaches it.
	ErrorPercent float64
	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the settings used for every external provider
// unless overridden.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:          10 * time.Second,
		Buckets:         10,
		VolumeThreshold: 5,
		ErrorPercent:    50,
		ResetTimeout:    30 * time.Second,
	}
}

type bucket struct {
	start    time.Time
	success  int
	failures int
}

// Breaker is a rolling-window circuit breaker. The zero value is not usable;
// construct with NewBreaker.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
	buckets  []bucket
	forced   bool

	trial    atomic.Bool
	onChange func(name string, from, to State)
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// OnStateChange registers a callback invoked after every state change.
func OnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = def.VolumeThreshold
	}
	if cfg.ErrorPercent <= 0 {
		cfg.ErrorPercent = def.ErrorPercent
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &Breaker{
		name:    name,
		cfg:     cfg,
		now:     time.Now,
		buckets: make([]bucket, cfg.Buckets),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, advancing OPEN to HALF_OPEN once the reset
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Execute runs fn unless the breaker is open. It returns domain.ErrCircuitOpen
// without invoking fn when the call is rejected.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.record(trial, callErr == nil || !countsAsFailure(callErr))
	return callErr
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	switch b.state {
	case StateOpen:
		return false, domain.ErrCircuitOpen
	case StateHalfOpen:
		if !b.trial.CompareAndSwap(false, true) {
			return false, domain.ErrCircuitOpen
		}
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial.Store(false)
		if b.state != StateHalfOpen {
			return
		}
		if ok {
			b.resetLocked()
			b.setLocked(StateClosed)
		} else {
			b.openLocked()
		}
		return
	}
	if b.state != StateClosed {
		return
	}
	bk := b.currentBucketLocked()
	if ok {
		bk.success++
		return
	}
	bk.failures++
	total, failures := b.totalsLocked()
	if total >= b.cfg.VolumeThreshold &&
		float64(failures)*100/float64(total) >= b.cfg.ErrorPercent {
		b.openLocked()
	}
}

// ForceOpen trips the breaker until ForceClose is called.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	b.openLocked()
}

// ForceClose closes the breaker and clears the rolling window.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = false
	b.resetLocked()
	b.trial.Store(false)
	b.setLocked(StateClosed)
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && !b.forced && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.setLocked(StateHalfOpen)
	}
}

func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.setLocked(StateOpen)
}

func (b *Breaker) setLocked(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if b.onChange != nil {
		b.onChange(b.name, from, s)
	}
}

func (b *Breaker) resetLocked() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

func (b *Breaker) bucketWidth() time.Duration {
	return b.cfg.Window / time.Duration(b.cfg.Buckets)
}

func (b *Breaker) currentBucketLocked() *bucket {
	width := b.bucketWidth()
	now := b.now()
	start := now.Truncate(width)
	idx := int((now.UnixNano() / int64(width)) % int64(len(b.buckets)))
	bk := &b.buckets[idx]
	if !bk.start.Equal(start) {
		*bk = bucket{start: start}
	}
	return bk
}

func (b *Breaker) totalsLocked() (total, failures int) {
	cutoff := b.now().Add(-b.cfg.Window)
	for _, bk := range b.buckets {
		if bk.start.IsZero() || !bk.start.After(cutoff) {
			continue
		}
		total += bk.success + bk.failures
		failures += bk.failures
	}
	return total, failures
}

// countsAsFailure excludes errors that say nothing about upstream health.
func countsAsFailure(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotFound, domain.KindAuth, domain.KindState, domain.KindPermanent:
		return false
	}
	return true
}
