package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// ReferralStore records referral attributions, one per intent.
type ReferralStore struct {
	mu        sync.RWMutex
	referrals []domain.ReferralAttribution
}

var _ domain.ReferralStore = (*ReferralStore)(nil)

// NewReferralStore returns an empty ReferralStore.
func NewReferralStore() *ReferralStore { return &ReferralStore{} }

// Record implements domain.ReferralStore.
func (s *ReferralStore) Record(_ context.Context, a domain.ReferralAttribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.referrals {
		if r.IntentID == a.IntentID {
			return nil
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	s.referrals = append(s.referrals, a)
	return nil
}

// All returns recorded attributions.
func (s *ReferralStore) All() []domain.ReferralAttribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReferralAttribution, len(s.referrals))
	copy(out, s.referrals)
	return out
}

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{} }

// Log implements domain.AuditStore.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: now(),
	})
	return nil
}

// Latest implements domain.AuditStore.
func (s *AuditStore) Latest(_ context.Context, event string) (domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Event == event {
			return s.entries[i], nil
		}
	}
	return domain.AuditEntry{}, domain.ErrNotFound
}
