package polymarket

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcDecimals is the base-unit precision of both collateral and outcome
// token amounts on the exchange.
const usdcDecimals = 6

// CredentialStore caches L2 API credentials per signing address.
type CredentialStore interface {
	Get(address string) (crypto.APICreds, bool)
	Set(address string, creds crypto.APICreds)
	Forget(address string)
}

// ClobClient is the REST client for the central limit order book. Every
// call is made on behalf of a derived signing key passed in by the caller;
// the client holds no key of its own.
type ClobClient struct {
	t       transport
	chainID int64
	creds   CredentialStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewClobClient creates a CLOB client; baseURL is e.g.
// "https://clob.polymarket.com".
func NewClobClient(baseURL string, chainID int64, rps float64, creds CredentialStore, logger *slog.Logger) *ClobClient {
	return &ClobClient{
		t:       newTransport(baseURL, rps, int(rps)+1),
		chainID: chainID,
		creds:   creds,
		logger:  logger.With(slog.String("component", "polymarket_clob")),
		now:     time.Now,
	}
}

// GetOrderBook returns the book for tokenID, best prices first.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	var book APIOrderBook
	if err := c.t.getJSON(ctx, "/book?token_id="+url.QueryEscape(tokenID), nil, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	ob := book.ToDomainOrderBook()
	if ob.TokenID == "" {
		ob.TokenID = tokenID
	}
	ob.Timestamp = c.now()
	return ob, nil
}

// SubmitOrder signs req with its derived key and posts it.
func (c *ClobClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	signer, err := crypto.NewSigner(req.Signer, c.chainID)
	if err != nil {
		return domain.OrderResult{}, domain.PermanentError(domain.CodeOrderSubmitFailed, "invalid signing key", domain.ErrSigningFailed)
	}

	signed, err := c.buildOrder(signer, req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	creds, err := c.credentials(ctx, signer)
	if err != nil {
		return domain.OrderResult{}, err
	}

	orderType := "GTC"
	if req.Immediate {
		orderType = "FOK"
	}
	body, err := json.Marshal(APIPostOrder{Order: signed, Owner: creds.Key, OrderType: orderType})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: marshal order: %w", err)
	}

	respBody, err := c.authed(ctx, signer, creds, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !res.Success || res.OrderID == "" {
		return domain.OrderResult{OrderID: res.OrderID, Status: domain.OrderStatusFailed, Message: res.ErrorMsg},
			domain.PermanentError(domain.CodeOrderSubmitFailed, res.ErrorMsg, domain.ErrInvalidOrder)
	}

	status := MapOrderStatus(res.Status, decimal.Zero, decimal.Zero)
	if status == domain.OrderStatusFailed {
		status = domain.OrderStatusOpen
	}
	return domain.OrderResult{OrderID: res.OrderID, Status: status, Message: res.ErrorMsg}, nil
}

// GetOrderStatus looks up an order placed by signer.
func (c *ClobClient) GetOrderStatus(ctx context.Context, orderID, signerKey string) (domain.OrderState, error) {
	signer, err := crypto.NewSigner(signerKey, c.chainID)
	if err != nil {
		return domain.OrderState{}, domain.PermanentError(domain.CodeOrderFailed, "invalid signing key", domain.ErrSigningFailed)
	}
	creds, err := c.credentials(ctx, signer)
	if err != nil {
		return domain.OrderState{}, err
	}
	respBody, err := c.authed(ctx, signer, creds, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}
	var o APIOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	st := o.ToDomainOrderState()
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	return st, nil
}

// CancelOrder cancels a single order placed by signer.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID, signerKey string) error {
	signer, err := crypto.NewSigner(signerKey, c.chainID)
	if err != nil {
		return domain.PermanentError(domain.CodeOrderFailed, "invalid signing key", domain.ErrSigningFailed)
	}
	creds, err := c.credentials(ctx, signer)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"orderID": orderID})
	respBody, err := c.authed(ctx, signer, creds, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var res struct {
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &res); err == nil {
		if reason, ok := res.NotCanceled[orderID]; ok {
			return domain.PermanentError(domain.CodeOrderFailed, "cancel rejected: "+reason, nil)
		}
	}
	return nil
}

// buildOrder converts req into a signed wire order. Amounts are in 6-decimal
// base units: a BUY gives price*size collateral for size shares, a SELL the
// reverse.
func (c *ClobClient) buildOrder(signer *crypto.Signer, req domain.OrderRequest) (APISignedOrder, error) {
	if !req.Price.IsPositive() || !req.Size.IsPositive() {
		return APISignedOrder{}, domain.PermanentError(domain.CodeInvalidPrice, "price and size must be positive", domain.ErrInvalidOrder)
	}
	shares := baseUnits(req.Size)
	notional := baseUnits(req.Size.Mul(req.Price))

	payload := crypto.OrderPayload{
		Maker:         req.Funder,
		Signer:        signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: signatureType(req.WalletType),
	}
	if payload.Maker == "" {
		payload.Maker = payload.Signer
		payload.SignatureType = crypto.SignatureTypeEOA
	}
	if req.Side == domain.OrderSideSell {
		payload.Side = 1
		payload.MakerAmount, payload.TakerAmount = shares, notional
	} else {
		payload.MakerAmount, payload.TakerAmount = notional, shares
	}

	salt, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return APISignedOrder{}, fmt.Errorf("polymarket/clob: salt: %w", err)
	}
	payload.Salt = salt.String()

	sig, err := signer.SignOrder(payload, req.NegRisk)
	if err != nil {
		return APISignedOrder{}, domain.PermanentError(domain.CodeOrderSubmitFailed, "order signing failed", domain.ErrSigningFailed)
	}
	return APISignedOrder{
		Salt:          salt.Int64(),
		Maker:         payload.Maker,
		Signer:        payload.Signer,
		Taker:         payload.Taker,
		TokenID:       payload.TokenID,
		MakerAmount:   payload.MakerAmount,
		TakerAmount:   payload.TakerAmount,
		Expiration:    payload.Expiration,
		Nonce:         payload.Nonce,
		FeeRateBps:    payload.FeeRateBps,
		Side:          string(req.Side),
		SignatureType: payload.SignatureType,
		Signature:     sig,
	}, nil
}

func baseUnits(d decimal.Decimal) string {
	return d.Shift(usdcDecimals).Truncate(0).String()
}

func signatureType(t domain.WalletType) int {
	switch t {
	case domain.WalletTypeSafe:
		return crypto.SignatureTypeGnosisSafe
	case domain.WalletTypeProxy:
		return crypto.SignatureTypePolyProxy
	default:
		return crypto.SignatureTypeEOA
	}
}

// authed sends an L2-authenticated request. Rejected credentials are
// dropped from the cache so the next call derives fresh ones.
func (c *ClobClient) authed(ctx context.Context, signer *crypto.Signer, creds crypto.APICreds, method, path string, body []byte) ([]byte, error) {
	address := signer.Address().Hex()
	headers := creds.L2Headers(address, method, path, string(body), c.now().Unix())
	resp, err := c.t.do(ctx, method, path, body, headers)
	if errors.Is(err, domain.ErrUnauthorized) && c.creds != nil {
		c.creds.Forget(address)
	}
	return resp, err
}

// credentials returns cached L2 credentials for signer, deriving them with
// an L1 ClobAuth signature when missing. An address that never created a key
// gets one created.
func (c *ClobClient) credentials(ctx context.Context, signer *crypto.Signer) (crypto.APICreds, error) {
	address := signer.Address().Hex()
	if c.creds != nil {
		if creds, ok := c.creds.Get(address); ok {
			return creds, nil
		}
	}

	creds, err := c.requestCreds(ctx, signer, http.MethodGet, "/auth/derive-api-key")
	if errors.Is(err, domain.ErrNotFound) || domain.KindOf(err) == domain.KindPermanent {
		c.logger.InfoContext(ctx, "no api key for signer, creating one", slog.String("address", address))
		creds, err = c.requestCreds(ctx, signer, http.MethodPost, "/auth/api-key")
	}
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: api credentials: %w", err)
	}
	if c.creds != nil {
		c.creds.Set(address, creds)
	}
	return creds, nil
}

func (c *ClobClient) requestCreds(ctx context.Context, signer *crypto.Signer, method, path string) (crypto.APICreds, error) {
	ts := c.now().Unix()
	sig, err := signer.SignAuthMessage(ts, 0)
	if err != nil {
		return crypto.APICreds{}, err
	}
	headers := map[string]string{
		"POLY_ADDRESS":   signer.Address().Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts, 10),
		"POLY_NONCE":     "0",
	}
	body, err := c.t.do(ctx, method, path, nil, headers)
	if err != nil {
		return crypto.APICreds{}, err
	}
	var resp APICredsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crypto.APICreds{}, fmt.Errorf("decode credentials: %w", err)
	}
	if resp.APIKey == "" {
		return crypto.APICreds{}, errors.New("empty api key")
	}
	return crypto.APICreds{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}, nil
}
