package memory

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
)

// CredentialCache keeps exchange API credentials per signing address so each
// derived key goes through the L1 key-derivation handshake once per TTL.
type CredentialCache struct {
	items *ttlcache.Cache[string, crypto.APICreds]
}

// NewCredentialCache creates a CredentialCache.
func NewCredentialCache(ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &CredentialCache{
		items: ttlcache.New[string, crypto.APICreds](
			ttlcache.WithTTL[string, crypto.APICreds](ttl),
			ttlcache.WithDisableTouchOnHit[string, crypto.APICreds](),
		),
	}
}

func (c *CredentialCache) Get(address string) (crypto.APICreds, bool) {
	item := c.items.Get(normalizeAddress(address))
	if item == nil {
		return crypto.APICreds{}, false
	}
	return item.Value(), true
}

func (c *CredentialCache) Set(address string, creds crypto.APICreds) {
	c.items.Set(normalizeAddress(address), creds, ttlcache.DefaultTTL)
}

// Forget drops credentials the exchange rejected.
func (c *CredentialCache) Forget(address string) {
	c.items.Delete(normalizeAddress(address))
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
