package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Exchange contracts that verify order signatures on Polygon.
var (
	CTFExchange     = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskExchange = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")

	// NegRiskAdapter converts positions for neg-risk markets and needs
	// operator rights on outcome tokens.
	NegRiskAdapter = common.HexToAddress("0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296")
)

const clobAuthMessage = "This message attests that I control the given wallet"

var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// Signature types understood by the exchange.
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

// OrderPayload holds the signed fields of a CLOB order. Large numbers are
// decimal strings to survive JSON round trips.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // see SignatureType*
}

// Signer signs CLOB auth and order messages with a derived user key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	authDomain []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, chainID), nil
}

// NewSignerFromKey wraps an in-memory key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		authDomain: domainSeparator(authDomainTypeHash, "ClobAuthDomain", "1", chainID, nil),
	}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address { return s.address }

// SignPersonal signs message with the EIP-191 personal-sign prefix.
func (s *Signer) SignPersonal(message string) (string, error) {
	return SignPersonal(s.privateKey, message)
}

// SignAuthMessage signs the ClobAuth message used to create or derive L2 API
// credentials.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(s.address.Bytes(), 32),
			ethcrypto.Keccak256([]byte(strconv.FormatInt(timestamp, 10))),
			bigIntTo32Bytes(big.NewInt(nonce)),
			ethcrypto.Keccak256([]byte(clobAuthMessage)),
		),
	)
	return s.signDigest(eip712Hash(s.authDomain, structHash))
}

// SignOrder signs order for the CTF exchange, or the neg-risk exchange when
// negRisk is set.
func (s *Signer) SignOrder(order OrderPayload, negRisk bool) (string, error) {
	exchange := CTFExchange
	if negRisk {
		exchange = NegRiskExchange
	}
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	sep := domainSeparator(exchangeDomainTypeHash, "Polymarket CTF Exchange", "1", s.chainID, &exchange)
	return s.signDigest(eip712Hash(sep, structHash))
}

func domainSeparator(typeHash []byte, name, version string, chainID int64, verifying *common.Address) []byte {
	parts := [][]byte{
		typeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		bigIntTo32Bytes(big.NewInt(chainID)),
	}
	if verifying != nil {
		parts = append(parts, common.LeftPadBytes(verifying.Bytes(), 32))
	}
	return ethcrypto.Keccak256(concatBytes(parts...))
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest returns the hex-encoded r || s || v signature with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	nums := []struct {
		name, val string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	parsed := make(map[string]*big.Int, len(nums))
	for _, n := range nums {
		v, ok := new(big.Int).SetString(n.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", n.name, n.val)
		}
		parsed[n.name] = v
	}

	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			bigIntTo32Bytes(parsed["salt"]),
			common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
			bigIntTo32Bytes(parsed["tokenId"]),
			bigIntTo32Bytes(parsed["makerAmount"]),
			bigIntTo32Bytes(parsed["takerAmount"]),
			bigIntTo32Bytes(parsed["expiration"]),
			bigIntTo32Bytes(parsed["nonce"]),
			bigIntTo32Bytes(parsed["feeRateBps"]),
			bigIntTo32Bytes(big.NewInt(int64(o.Side))),
			bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
