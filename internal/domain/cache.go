package domain

import (
	"context"
	"time"
)

// MarketCache holds resolved market metadata shared across processes.
// Get returns ErrNotFound on a miss.
type MarketCache interface {
	Get(ctx context.Context, id string) (Market, error)
	Set(ctx context.Context, market Market) error
	Invalidate(ctx context.Context, id string) error
}

// ApprovalCache remembers wallets whose exchange approvals were confirmed
// on-chain, per order side. Entries expire on wall-clock TTL only; there is
// no revocation hook, so a revoked approval surfaces as a failed submit.
type ApprovalCache interface {
	Approved(wallet string, side OrderSide) bool
	MarkApproved(wallet string, side OrderSide)
}

// LockManager hands out leased locks. Acquire returns ErrLockHeld when the
// key is taken; the unlock func is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter reports whether key may make another call within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one entry read back from a capped stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries intent events to WebSocket hubs (pub/sub) and alerts
// to durable capped streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
