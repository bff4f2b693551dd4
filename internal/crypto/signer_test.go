package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignOrderDependsOnExchange(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	order := OrderPayload{
		Salt: "1", Maker: s.Address().Hex(), Signer: s.Address().Hex(),
		Taker: "0x0000000000000000000000000000000000000000", TokenID: "123",
		MakerAmount: "500000", TakerAmount: "1000000", Expiration: "0",
		Nonce: "0", FeeRateBps: "0", Side: 0, SignatureType: SignatureTypeEOA,
	}
	ctf, err := s.SignOrder(order, false)
	require.NoError(t, err)
	neg, err := s.SignOrder(order, true)
	require.NoError(t, err)
	assert.Len(t, ctf, 132)
	assert.NotEqual(t, ctf, neg)

	again, err := s.SignOrder(order, false)
	require.NoError(t, err)
	assert.Equal(t, ctf, again, "RFC6979 signatures are deterministic")
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	require.NoError(t, err)
	_, err = s.SignOrder(OrderPayload{Salt: "x"}, false)
	require.Error(t, err)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)
	sig, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	assert.Len(t, sig, 132)
	v := sig[len(sig)-2:]
	assert.Contains(t, []string{"1b", "1c"}, v)
}
