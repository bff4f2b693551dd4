package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// APICreds are the L2 credentials the exchange issues per signing address.
type APICreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"` // base64-encoded
	Passphrase string `json:"passphrase"`
}

// L2Headers returns the HTTP headers for an authenticated CLOB request at
// unixTS. The signature is base64(HMAC-SHA256(b64decode(secret),
// timestamp+method+path+body)).
func (c APICreds) L2Headers(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	secret, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		if secret, err = base64.StdEncoding.DecodeString(c.Secret); err != nil {
			secret = []byte(c.Secret)
		}
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// String returns a redacted representation suitable for logging.
func (c APICreds) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICreds{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}

// WebhookSigner authenticates inbound bridge webhooks with a shared secret.
type WebhookSigner struct {
	secret []byte
}

// NewWebhookSigner returns a signer for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of body.
func (w *WebhookSigner) Sign(body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares header against the expected digest of body in constant
// time. An optional "sha256=" prefix on header is accepted.
func (w *WebhookSigner) Verify(body []byte, header string) bool {
	if len(w.secret) == 0 {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
