// Package memory holds the in-process caches and the single-instance lock
// manager and rate limiter used by dev mode and as the first cache tier.
package memory

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// DefaultApprovalTTL is how long a confirmed on-chain approval is trusted.
const DefaultApprovalTTL = 24 * time.Hour

// ApprovalCache implements domain.ApprovalCache. Entries expire on wall-clock
// TTL; a revoked approval is only noticed after expiry.
type ApprovalCache struct {
	items *ttlcache.Cache[string, struct{}]
}

// NewApprovalCache creates an ApprovalCache with the given TTL.
func NewApprovalCache(ttl time.Duration) *ApprovalCache {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &ApprovalCache{
		items: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

func approvalKey(wallet string, side domain.OrderSide) string {
	return normalizeAddress(wallet) + ":" + string(side)
}

func (c *ApprovalCache) Approved(wallet string, side domain.OrderSide) bool {
	return c.items.Get(approvalKey(wallet, side)) != nil
}

func (c *ApprovalCache) MarkApproved(wallet string, side domain.OrderSide) {
	c.items.Set(approvalKey(wallet, side), struct{}{}, ttlcache.DefaultTTL)
}

var _ domain.ApprovalCache = (*ApprovalCache)(nil)
