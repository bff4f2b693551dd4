package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type mapCreds struct {
	mu sync.Mutex
	m  map[string]crypto.APICreds
}

func (c *mapCreds) Get(a string) (crypto.APICreds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[a]
	return v, ok
}

func (c *mapCreds) Set(a string, v crypto.APICreds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[a] = v
}

func (c *mapCreds) Forget(a string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, a)
}

func TestMapOrderStatus(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		raw      string
		matched  string
		original string
		want     domain.OrderStatus
	}{
		{"MATCHED", "0", "0", domain.OrderStatusFilled},
		{"live", "0", "10", domain.OrderStatusOpen},
		{"live", "4", "10", domain.OrderStatusPartial},
		{"live", "10", "10", domain.OrderStatusFilled},
		{"cancelled", "0", "10", domain.OrderStatusFailed},
		{"cancelled", "3", "10", domain.OrderStatusPartial},
		{"something-new", "0", "10", domain.OrderStatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.raw+"/"+tt.matched, func(t *testing.T) {
			assert.Equal(t, tt.want, MapOrderStatus(tt.raw, d(tt.matched), d(tt.original)))
		})
	}
}

func TestToDomainMarket(t *testing.T) {
	m := APIMarket{
		ID:           "m1",
		Active:       true,
		Outcomes:     `["Yes","No"]`,
		ClobTokenIDs: `["111","222"]`,
		NegRisk:      true,
	}
	dm := m.ToDomainMarket()
	assert.Equal(t, [2]string{"111", "222"}, dm.TokenIDs)
	assert.Equal(t, domain.MarketStatusActive, dm.Status)
	assert.True(t, dm.NegRisk)

	tok, err := dm.TokenFor(domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, "222", tok)
}

func TestGetOrderBookSortsLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token_id"))
		_, _ = io.WriteString(w, `{"asset_id":"tok",
			"bids":[{"price":"0.40","size":"5"},{"price":"0.45","size":"1"}],
			"asks":[{"price":"0.60","size":"5"},{"price":"0.55","size":"2"},{"price":"0.50","size":"0"}]}`)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, 137, 0, nil, slog.Default())
	book, err := c.GetOrderBook(context.Background(), "tok")
	require.NoError(t, err)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "0.45", bid.String())
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "0.55", ask.String(), "empty levels are dropped")
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 0)
	_, err := g.GetMarket(context.Background(), "m1")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestSubmitOrderDerivesCredentialsOnce(t *testing.T) {
	var derives, posts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/auth/derive-api-key":
			derives++
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			_, _ = io.WriteString(w, `{"apiKey":"key","secret":"c2VjcmV0","passphrase":"pp"}`)
		case "/order":
			posts++
			assert.Equal(t, "key", r.Header.Get("POLY_API_KEY"))
			var body APIPostOrder
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BUY", body.Order.Side)
			assert.Equal(t, "GTC", body.OrderType)
			// 10 shares at 0.5 costs 5 USDC.
			assert.Equal(t, "5000000", body.Order.MakerAmount)
			assert.Equal(t, "10000000", body.Order.TakerAmount)
			assert.Equal(t, crypto.SignatureTypeGnosisSafe, body.Order.SignatureType)
			_, _ = io.WriteString(w, `{"success":true,"orderID":"o1","status":"live"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	creds := &mapCreds{m: map[string]crypto.APICreds{}}
	c := NewClobClient(srv.URL, 137, 0, creds, slog.Default())
	req := domain.OrderRequest{
		TokenID:    "123",
		Side:       domain.OrderSideBuy,
		Price:      decimal.RequireFromString("0.5"),
		Size:       decimal.NewFromInt(10),
		Signer:     testKey,
		Funder:     "0x1111111111111111111111111111111111111111",
		WalletType: domain.WalletTypeSafe,
	}

	for i := 0; i < 2; i++ {
		res, err := c.SubmitOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "o1", res.OrderID)
		assert.Equal(t, domain.OrderStatusOpen, res.Status)
	}
	assert.Equal(t, 1, derives)
	assert.Equal(t, 2, posts)
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/derive-api-key" {
			_, _ = io.WriteString(w, `{"apiKey":"key","secret":"c2VjcmV0","passphrase":"pp"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":false,"errorMsg":"not enough balance / allowance"}`)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, 137, 0, &mapCreds{m: map[string]crypto.APICreds{}}, slog.Default())
	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		TokenID: "1",
		Side:    domain.OrderSideSell,
		Price:   decimal.RequireFromString("0.3"),
		Size:    decimal.NewFromInt(2),
		Signer:  testKey,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
	assert.Equal(t, domain.CodeOrderSubmitFailed, domain.CodeOf(err))
}
