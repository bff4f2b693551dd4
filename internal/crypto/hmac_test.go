package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSigner(t *testing.T) {
	w := NewWebhookSigner("shared")
	body := []byte(`{"requestId":"r1","status":"success"}`)
	sig := w.Sign(body)

	assert.True(t, w.Verify(body, sig))
	assert.True(t, w.Verify(body, "sha256="+sig))
	assert.False(t, w.Verify([]byte(`{"requestId":"r1","status":"failure"}`), sig))
	assert.False(t, w.Verify(body, "nothex"))
	assert.False(t, NewWebhookSigner("other").Verify(body, sig))
	assert.False(t, NewWebhookSigner("").Verify(body, NewWebhookSigner("").Sign(body)))
}

func TestL2HeadersDeterministic(t *testing.T) {
	c := APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	a := c.L2Headers("0xabc", "GET", "/data/order/1", "", 1700000000)
	b := c.L2Headers("0xabc", "GET", "/data/order/1", "", 1700000000)
	assert.Equal(t, a, b)
	assert.Equal(t, "1700000000", a["POLY_TIMESTAMP"])
	assert.NotEqual(t, a["POLY_SIGNATURE"], c.L2Headers("0xabc", "DELETE", "/order", "", 1700000000)["POLY_SIGNATURE"])
	assert.NotContains(t, c.String(), "c2VjcmV0")
}
