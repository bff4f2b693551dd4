package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// WalletStore keeps destination wallets keyed by user.
type WalletStore struct {
	mu      sync.RWMutex
	wallets map[string]domain.DestinationWallet
}

var _ domain.WalletStore = (*WalletStore)(nil)

// NewWalletStore returns an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[string]domain.DestinationWallet)}
}

// GetByUserID implements domain.WalletStore.
func (s *WalletStore) GetByUserID(_ context.Context, userID string) (domain.DestinationWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return domain.DestinationWallet{}, domain.ErrNotFound
	}
	return w, nil
}

// Create implements domain.WalletStore.
func (s *WalletStore) Create(_ context.Context, w domain.DestinationWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[w.UserID]; ok {
		return domain.ErrAlreadyExists
	}
	t := now()
	w.CreatedAt, w.UpdatedAt = t, t
	s.wallets[w.UserID] = w
	return nil
}

// UpdateSignature implements domain.WalletStore.
func (s *WalletStore) UpdateSignature(_ context.Context, userID, encryptedSignature string) error {
	return s.mutate(userID, func(w *domain.DestinationWallet) {
		w.EncryptedSignature = encryptedSignature
	})
}

// MarkDeployed implements domain.WalletStore.
func (s *WalletStore) MarkDeployed(_ context.Context, userID, address string) error {
	return s.mutate(userID, func(w *domain.DestinationWallet) {
		if address != "" {
			w.Address = address
		}
		w.DeploymentStatus = domain.DeploymentDeployed
	})
}

// MarkOwnerAdded implements domain.WalletStore.
func (s *WalletStore) MarkOwnerAdded(_ context.Context, userID string) error {
	return s.mutate(userID, func(w *domain.DestinationWallet) {
		w.EOAOwnerAdded = true
	})
}

func (s *WalletStore) mutate(userID string, fn func(*domain.DestinationWallet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&w)
	w.UpdatedAt = now()
	s.wallets[userID] = w
	return nil
}
