package service

import (
	"context"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	storemem "github.com/alanyoungcy/crosstrade/internal/store/memory"
)

type fakeDeployment struct{ live bool }

func (f fakeDeployment) IsDeployed(context.Context, string) (bool, error) { return f.live, nil }

func TestProvisionWithoutRelayerUsesDerivedKey(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	w, err := h.wallets.Provision(ctx, "user-1", h.owner, h.signature)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletTypeEOA, w.WalletType)
	assert.Equal(t, domain.DerivationV2, w.DerivationVersion)
	assert.True(t, w.Deployed())

	key, err := h.wallets.SigningKey(ctx, w)
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key, 137)
	require.NoError(t, err)
	assert.Equal(t, w.Address, signer.Address().Hex())

	again, err := h.wallets.Provision(ctx, "user-1", h.owner, h.signature)
	require.NoError(t, err)
	assert.Equal(t, w.Address, again.Address)
	assert.Equal(t, w.EncryptedSignature, again.EncryptedSignature)
}

func TestProvisionDeploysThroughRelayer(t *testing.T) {
	relayer := &fakeRelayer{address: "0x00000000000000000000000000000000000000cc"}
	h := newHarness(t, harnessOpts{relayer: relayer})
	ctx := context.Background()

	w, err := h.wallets.Provision(ctx, "user-1", h.owner, h.signature)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletTypeSafe, w.WalletType)
	assert.Equal(t, relayer.address, w.Address)
	assert.True(t, w.EOAOwnerAdded)

	stored, err := h.walletDB.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.Deployed())
	assert.Equal(t, relayer.address, stored.Address)

	_, err = h.wallets.Provision(ctx, "user-1", h.owner, h.signature)
	require.NoError(t, err)
	assert.Equal(t, 1, relayer.deployCalls)
}

func TestProvisionSkipsDeployWhenCodeExists(t *testing.T) {
	deriver, err := crypto.NewKeyDeriver("server-secret", "crosstrade.test")
	require.NoError(t, err)
	sealer, err := crypto.NewSealer("seal-secret")
	require.NoError(t, err)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonal(key, deriver.Message(domain.DerivationV2))
	require.NoError(t, err)
	sealed, err := sealer.Seal(sig, "user-9")
	require.NoError(t, err)

	db := storemem.NewWalletStore()
	require.NoError(t, db.Create(context.Background(), domain.DestinationWallet{
		UserID:             "user-9",
		Address:            "0x00000000000000000000000000000000000000dd",
		OwnerAddress:       ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		WalletType:         domain.WalletTypeSafe,
		DeploymentStatus:   domain.DeploymentPending,
		EncryptedSignature: sealed,
		DerivationVersion:  domain.DerivationV2,
		CreatedAt:          time.Now(),
	}))
	relayer := &fakeRelayer{address: "0xnever"}
	svc := NewWalletService(db, deriver, sealer, relayer, fakeDeployment{live: true}, testLogger())

	w, err := svc.Provision(context.Background(), "user-9", "", sig)
	require.NoError(t, err)
	assert.True(t, w.Deployed())
	assert.Equal(t, "0x00000000000000000000000000000000000000dd", w.Address)
	assert.Zero(t, relayer.deployCalls)
}

func TestProvisionRejectsWrongSigner(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	_, err := h.wallets.Provision(ctx, "user-1", h.owner, h.signature)
	require.NoError(t, err)

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonal(other, h.deriver.Message(domain.DerivationV2))
	require.NoError(t, err)

	_, err = h.wallets.Provision(ctx, "user-1", h.owner, sig)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}
