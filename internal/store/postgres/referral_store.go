package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// ReferralStore implements domain.ReferralStore using PostgreSQL.
type ReferralStore struct {
	pool *pgxpool.Pool
}

// NewReferralStore creates a new ReferralStore backed by the given pool.
func NewReferralStore(pool *pgxpool.Pool) *ReferralStore {
	return &ReferralStore{pool: pool}
}

// Record stores an attribution once per intent; repeats are ignored.
func (s *ReferralStore) Record(ctx context.Context, a domain.ReferralAttribution) error {
	const query = `
		INSERT INTO referral_attributions (intent_id, user_id, referral_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (intent_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, a.IntentID, a.UserID, a.ReferralCode); err != nil {
		return fmt.Errorf("postgres: record referral for %s: %w", a.IntentID, err)
	}
	return nil
}
