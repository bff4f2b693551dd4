package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// DeploymentChecker reports whether contract code exists at an address.
type DeploymentChecker interface {
	IsDeployed(ctx context.Context, address string) (bool, error)
}

// WalletService provisions the per-user destination wallet and recovers its
// signing key on demand. Keys are derived, used and dropped; only the sealed
// derivation signature is stored.
type WalletService struct {
	wallets  domain.WalletStore
	deriver  *crypto.KeyDeriver
	sealer   *crypto.Sealer
	relayer  domain.WalletRelayer
	deployed DeploymentChecker
	logger   *slog.Logger
}

// NewWalletService creates a WalletService. relayer and deployed may be nil;
// without a relayer users trade directly from their derived key.
func NewWalletService(
	wallets domain.WalletStore,
	deriver *crypto.KeyDeriver,
	sealer *crypto.Sealer,
	relayer domain.WalletRelayer,
	deployed DeploymentChecker,
	logger *slog.Logger,
) *WalletService {
	return &WalletService{
		wallets:  wallets,
		deriver:  deriver,
		sealer:   sealer,
		relayer:  relayer,
		deployed: deployed,
		logger:   logger.With(slog.String("component", "wallet_service")),
	}
}

// Provision returns the user's wallet, creating and deploying it when
// needed. signature is the owner's personal_sign over the derivation message
// of the wallet's version (V2 for new wallets).
func (s *WalletService) Provision(ctx context.Context, userID, owner, signature string) (domain.DestinationWallet, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		w, err = s.create(ctx, userID, owner, signature)
		if err != nil {
			return domain.DestinationWallet{}, err
		}
	case err != nil:
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: load wallet: %w", err)
	default:
		if err := s.refreshSignature(ctx, &w, signature); err != nil {
			return domain.DestinationWallet{}, err
		}
	}

	if w.Deployed() {
		return w, nil
	}
	return s.deploy(ctx, w, signature)
}

func (s *WalletService) create(ctx context.Context, userID, owner, signature string) (domain.DestinationWallet, error) {
	version := domain.DerivationV2
	if !s.deriver.VerifySignature(signature, owner, version) {
		return domain.DestinationWallet{}, domain.AuthError("signature does not match owner address")
	}
	addr, err := s.deriver.DeriveAddress(signature, userID, version)
	if err != nil {
		return domain.DestinationWallet{}, domain.ValidationError("INVALID_SIGNATURE", err.Error())
	}
	sealed, err := s.sealer.Seal(signature, userID)
	if err != nil {
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: seal signature: %w", err)
	}

	w := domain.DestinationWallet{
		UserID:             userID,
		OwnerAddress:       owner,
		WalletType:         domain.WalletTypeSafe,
		DeploymentStatus:   domain.DeploymentPending,
		EncryptedSignature: sealed,
		DerivationVersion:  version,
	}
	if s.relayer == nil {
		w.Address = addr.Hex()
		w.WalletType = domain.WalletTypeEOA
		w.DeploymentStatus = domain.DeploymentDeployed
	}

	if err := s.wallets.Create(ctx, w); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent request created it first.
			return s.wallets.GetByUserID(ctx, userID)
		}
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: create wallet: %w", err)
	}
	s.logger.InfoContext(ctx, "wallet provisioned",
		slog.String("user_id", userID),
		slog.String("signer", addr.Hex()),
		slog.String("type", string(w.WalletType)),
	)
	return w, nil
}

func (s *WalletService) refreshSignature(ctx context.Context, w *domain.DestinationWallet, signature string) error {
	if !s.deriver.VerifySignature(signature, w.OwnerAddress, w.DerivationVersion) {
		return domain.AuthError("signature does not match wallet owner")
	}
	current, err := s.sealer.Open(w.EncryptedSignature, w.UserID)
	if err == nil && current == signature {
		return nil
	}
	// The derived key must not change under an existing wallet.
	if err == nil {
		oldAddr, _ := s.deriver.DeriveAddress(current, w.UserID, w.DerivationVersion)
		newAddr, derr := s.deriver.DeriveAddress(signature, w.UserID, w.DerivationVersion)
		if derr != nil || oldAddr != newAddr {
			return domain.AuthError("signature derives a different signing key")
		}
	}
	sealed, err := s.sealer.Seal(signature, w.UserID)
	if err != nil {
		return fmt.Errorf("wallet_service: seal signature: %w", err)
	}
	if err := s.wallets.UpdateSignature(ctx, w.UserID, sealed); err != nil {
		return fmt.Errorf("wallet_service: update signature: %w", err)
	}
	w.EncryptedSignature = sealed
	return nil
}

func (s *WalletService) deploy(ctx context.Context, w domain.DestinationWallet, signature string) (domain.DestinationWallet, error) {
	if w.Address != "" && s.deployed != nil {
		live, err := s.deployed.IsDeployed(ctx, w.Address)
		if err == nil && live {
			return s.markDeployed(ctx, w, w.Address)
		}
	}
	if s.relayer == nil {
		return s.markDeployed(ctx, w, w.Address)
	}

	key, err := s.deriver.DeriveKey(signature, w.UserID, w.DerivationVersion)
	if err != nil {
		return domain.DestinationWallet{}, domain.ValidationError("INVALID_SIGNATURE", err.Error())
	}
	addr, err := s.relayer.DeployWallet(ctx, w.OwnerAddress, crypto.KeyHex(key))
	if err != nil {
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: deploy wallet: %w", err)
	}
	return s.markDeployed(ctx, w, addr)
}

func (s *WalletService) markDeployed(ctx context.Context, w domain.DestinationWallet, addr string) (domain.DestinationWallet, error) {
	if err := s.wallets.MarkDeployed(ctx, w.UserID, addr); err != nil {
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: mark deployed: %w", err)
	}
	if !w.EOAOwnerAdded {
		if err := s.wallets.MarkOwnerAdded(ctx, w.UserID); err != nil {
			return domain.DestinationWallet{}, fmt.Errorf("wallet_service: mark owner added: %w", err)
		}
		w.EOAOwnerAdded = true
	}
	w.Address = addr
	w.DeploymentStatus = domain.DeploymentDeployed
	s.logger.InfoContext(ctx, "wallet deployed",
		slog.String("user_id", w.UserID),
		slog.String("address", addr),
	)
	return w, nil
}

// SigningKey returns the hex private key controlling w.
func (s *WalletService) SigningKey(ctx context.Context, w domain.DestinationWallet) (string, error) {
	sig, err := s.sealer.Open(w.EncryptedSignature, w.UserID)
	if err != nil {
		return "", fmt.Errorf("wallet_service: open signature: %w", err)
	}
	key, err := s.deriver.DeriveKey(sig, w.UserID, w.DerivationVersion)
	if err != nil {
		return "", fmt.Errorf("wallet_service: derive key: %w", err)
	}
	return crypto.KeyHex(key), nil
}

// Wallet loads the stored wallet for userID.
func (s *WalletService) Wallet(ctx context.Context, userID string) (domain.DestinationWallet, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return domain.DestinationWallet{}, fmt.Errorf("wallet_service: load wallet: %w", err)
	}
	return w, nil
}
