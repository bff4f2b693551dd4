// Package crypto derives destination-chain signing keys, verifies origin-chain
// signatures, seals stored signatures and signs exchange requests.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

const signatureLen = 65

// KeyDeriver turns an origin-chain signature into a destination-chain
// secp256k1 key. Derived keys live only in memory.
type KeyDeriver struct {
	serverSecret []byte
	domain       string
}

// NewKeyDeriver returns a KeyDeriver bound to the server secret and the
// application domain that appears in the V2 message.
func NewKeyDeriver(serverSecret, domain string) (*KeyDeriver, error) {
	if serverSecret == "" {
		return nil, errors.New("crypto: server secret must not be empty")
	}
	if domain == "" {
		return nil, errors.New("crypto: domain must not be empty")
	}
	return &KeyDeriver{serverSecret: []byte(serverSecret), domain: domain}, nil
}

// Message returns the fixed text a user signs to authorize wallet derivation
// for the given version.
func (d *KeyDeriver) Message(version domain.DerivationVersion) string {
	switch version {
	case domain.DerivationV1:
		return "Sign this message to create your trading wallet."
	default:
		return fmt.Sprintf("%s wants you to authorize your trading wallet.\n\nThis signature never leaves the server.\n\nVersion: 2", d.domain)
	}
}

// DeriveKey derives the signing key for userID from signature. V2 requires a
// user id.
func (d *KeyDeriver) DeriveKey(signature, userID string, version domain.DerivationVersion) (*ecdsa.PrivateKey, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return nil, err
	}
	var seed []byte
	switch version {
	case domain.DerivationV1:
		seed = ethcrypto.Keccak256(sig)
	case domain.DerivationV2:
		if userID == "" {
			return nil, errors.New("crypto: v2 derivation requires a user id")
		}
		seed = ethcrypto.Keccak256(sig, d.serverSecret, []byte(userID), []byte(d.domain))
	default:
		return nil, fmt.Errorf("crypto: unknown derivation version %d", version)
	}
	key, err := ethcrypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("crypto: derived seed is not a valid key: %w", err)
	}
	return key, nil
}

// DeriveAddress returns the address of the key DeriveKey would produce.
func (d *KeyDeriver) DeriveAddress(signature, userID string, version domain.DerivationVersion) (common.Address, error) {
	key, err := d.DeriveKey(signature, userID, version)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// VerifySignature reports whether signature is a personal_sign over the
// version's message by claimedAddress. Addresses compare case-insensitively.
func (d *KeyDeriver) VerifySignature(signature, claimedAddress string, version domain.DerivationVersion) bool {
	signer, err := RecoverPersonalSign(d.Message(version), signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(signer.Hex(), strings.TrimSpace(claimedAddress))
}

// RecoverPersonalSign recovers the address that produced an EIP-191
// personal_sign signature over message.
func RecoverPersonalSign(message, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignPersonal produces a personal_sign signature with v in {27,28}.
func SignPersonal(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("crypto: personal sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// KeyHex returns the hex encoding of key without a 0x prefix.
func KeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}

func decodeSignature(signature string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: signature is not hex: %w", err)
	}
	if len(raw) != signatureLen {
		return nil, fmt.Errorf("crypto: signature must be %d bytes, got %d", signatureLen, len(raw))
	}
	return raw, nil
}
