package domain

import "time"

// DerivationVersion selects the signing-key derivation formula.
type DerivationVersion int

const (
	// DerivationV1 is keccak256(signature).
	//
	// Deprecated: kept only for wallets created before V2.
	DerivationV1 DerivationVersion = 1
	// DerivationV2 binds the key to the server secret, the user and the domain.
	DerivationV2 DerivationVersion = 2
)

// WalletType is the kind of destination-chain wallet.
type WalletType string

const (
	WalletTypeSafe  WalletType = "safe"
	WalletTypeProxy WalletType = "proxy"

	// WalletTypeEOA trades directly from the derived key, used when no
	// wallet relayer is configured.
	WalletTypeEOA WalletType = "eoa"
)

// DeploymentStatus tracks whether the smart wallet exists on-chain.
type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentDeployed DeploymentStatus = "deployed"
	DeploymentFailed   DeploymentStatus = "failed"
)

// DestinationWallet is the per-user smart wallet on the destination chain.
type DestinationWallet struct {
	UserID             string
	Address            string
	OwnerAddress       string // origin-chain EOA that signed the derivation message
	WalletType         WalletType
	DeploymentStatus   DeploymentStatus
	EncryptedSignature string
	DerivationVersion  DerivationVersion
	EOAOwnerAdded      bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Deployed reports whether the wallet contract is live.
func (w DestinationWallet) Deployed() bool {
	return w.DeploymentStatus == DeploymentDeployed
}
