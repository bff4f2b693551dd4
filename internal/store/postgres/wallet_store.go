package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

var _ domain.WalletStore = (*WalletStore)(nil)

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetByUserID returns the user's destination wallet.
func (s *WalletStore) GetByUserID(ctx context.Context, userID string) (domain.DestinationWallet, error) {
	var w domain.DestinationWallet
	var walletType, status string
	var version int16
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, address, owner_address, wallet_type, deployment_status,
		       encrypted_signature, derivation_version, eoa_owner_added, created_at, updated_at
		FROM destination_wallets WHERE user_id = $1`, userID,
	).Scan(
		&w.UserID, &w.Address, &w.OwnerAddress, &walletType, &status,
		&w.EncryptedSignature, &version, &w.EOAOwnerAdded, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return domain.DestinationWallet{}, domain.ErrNotFound
		}
		return domain.DestinationWallet{}, fmt.Errorf("postgres: get wallet for %s: %w", userID, err)
	}
	w.WalletType = domain.WalletType(walletType)
	w.DeploymentStatus = domain.DeploymentStatus(status)
	w.DerivationVersion = domain.DerivationVersion(version)
	return w, nil
}

// Create inserts a wallet. A second wallet for the same user yields
// domain.ErrAlreadyExists.
func (s *WalletStore) Create(ctx context.Context, w domain.DestinationWallet) error {
	const query = `
		INSERT INTO destination_wallets (
			user_id, address, owner_address, wallet_type, deployment_status,
			encrypted_signature, derivation_version, eoa_owner_added
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		w.UserID, w.Address, w.OwnerAddress, string(w.WalletType), string(w.DeploymentStatus),
		w.EncryptedSignature, int16(w.DerivationVersion), w.EOAOwnerAdded,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create wallet for %s: %w", w.UserID, err)
	}
	return nil
}

// UpdateSignature replaces the sealed signature.
func (s *WalletStore) UpdateSignature(ctx context.Context, userID, encryptedSignature string) error {
	return s.exec(ctx, "update wallet signature",
		`UPDATE destination_wallets SET encrypted_signature = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, encryptedSignature)
}

// MarkDeployed records the on-chain address of a deployed wallet.
func (s *WalletStore) MarkDeployed(ctx context.Context, userID, address string) error {
	return s.exec(ctx, "mark wallet deployed",
		`UPDATE destination_wallets
		 SET deployment_status = 'deployed', address = COALESCE(NULLIF($2, ''), address), updated_at = NOW()
		 WHERE user_id = $1`,
		userID, address)
}

// MarkOwnerAdded flags that the user's EOA was added as a wallet owner.
func (s *WalletStore) MarkOwnerAdded(ctx context.Context, userID string) error {
	return s.exec(ctx, "mark wallet owner added",
		`UPDATE destination_wallets SET eoa_owner_added = TRUE, updated_at = NOW() WHERE user_id = $1`,
		userID)
}

func (s *WalletStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
