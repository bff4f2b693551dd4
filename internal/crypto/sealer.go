package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen  = 32
	sealPrefix = "v1:"
	sealInfo   = "crosstrade/signature-seal/v1"
)

// Sealer encrypts stored signatures with AES-256-GCM. The key is expanded
// from the configured secret with HKDF-SHA256 and every Seal draws a fresh
// random nonce.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("crypto: encryption secret must not be empty")
	}
	key := make([]byte, aesKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("crypto: deriving seal key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext. binding is authenticated but not encrypted; the
// same value must be given to Open.
func (s *Sealer) Seal(plaintext, binding string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return sealPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed, binding string) (string, error) {
	if !strings.HasPrefix(sealed, sealPrefix) {
		return "", errors.New("crypto: unsupported sealed format")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decoding sealed value: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", errors.New("crypto: sealed value too short")
	}
	pt, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(binding))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(pt), nil
}
