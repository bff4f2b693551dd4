package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an operational audit entry (archival runs, dead-lettered jobs,
// wallet deployments). detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	_, err = s.pool.Exec(ctx, query, event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// Latest returns the newest entry recorded for event.
func (s *AuditStore) Latest(ctx context.Context, event string) (domain.AuditEntry, error) {
	const query = `SELECT id, event, detail, created_at FROM audit_log
		WHERE event = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	var (
		e          domain.AuditEntry
		detailJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, event).Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.AuditEntry{}, domain.ErrNotFound
		}
		return domain.AuditEntry{}, fmt.Errorf("postgres: latest audit entry %s: %w", event, err)
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
		}
	}
	return e, nil
}
