package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APILevel is one price level of a CLOB book response.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIOrderBook is the CLOB /book response.
type APIOrderBook struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
}

// APIOrder is an order as returned by the CLOB order lookup.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// APIOrderResult is the response from posting an order.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// APIPostOrder is the body of POST /order.
type APIPostOrder struct {
	Order     APISignedOrder `json:"order"`
	Owner     string         `json:"owner"`
	OrderType string         `json:"orderType"`
}

// APISignedOrder is the wire form of a signed order. Side is sent as
// "BUY"/"SELL" while the signed struct uses 0/1.
type APISignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// APICredsResponse is returned by the API key derive and create endpoints.
type APICredsResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API. Outcomes and
// ClobTokenIDs are JSON-encoded string arrays.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`
	ClobTokenIDs  string   `json:"clobTokenIds"`
	NegRisk       bool     `json:"negRisk"`
	AcceptsOrders flexBool `json:"acceptingOrders"`
	Tokens        []Token  `json:"tokens"`
}

// Token is the legacy token entry inside a market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomainMarket normalizes a Gamma market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
		Outcomes:    [2]string{"Yes", "No"},
	}

	switch {
	case m.Closed:
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active):
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusSettled
	}

	var outcomes, tokenIDs []string
	_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)
	_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs)
	for i := 0; i < 2 && i < len(tokenIDs); i++ {
		dm.TokenIDs[i] = tokenIDs[i]
		if i < len(outcomes) && outcomes[i] != "" {
			dm.Outcomes[i] = outcomes[i]
		}
	}
	if len(tokenIDs) == 0 {
		for i, tok := range m.Tokens {
			if i >= 2 {
				break
			}
			dm.TokenIDs[i] = tok.TokenID
			if tok.Outcome != "" {
				dm.Outcomes[i] = tok.Outcome
			}
		}
	}
	return dm
}

// ToDomainOrderBook normalizes a book and sorts it best price first.
func (b *APIOrderBook) ToDomainOrderBook() domain.OrderBook {
	book := domain.OrderBook{
		TokenID: b.AssetID,
		Bids:    parseLevels(b.Bids),
		Asks:    parseLevels(b.Asks),
	}
	sortLevels(book.Bids, true)
	sortLevels(book.Asks, false)
	return book
}

func parseLevels(in []APILevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(l.Size)
		if err != nil || !s.IsPositive() {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// sortLevels is an insertion sort; books are short and usually presorted.
func sortLevels(levels []domain.PriceLevel, desc bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			a, b := levels[j-1].Price, levels[j].Price
			if (desc && a.GreaterThanOrEqual(b)) || (!desc && a.LessThanOrEqual(b)) {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

// ToDomainOrderState normalizes an order lookup.
func (a *APIOrder) ToDomainOrderState() domain.OrderState {
	matched, _ := decimal.NewFromString(a.SizeMatched)
	original, _ := decimal.NewFromString(a.OriginalSize)
	price, _ := decimal.NewFromString(a.Price)
	st := domain.OrderState{
		OrderID:    a.ID,
		Status:     MapOrderStatus(a.Status, matched, original),
		FilledSize: matched,
	}
	if matched.IsPositive() {
		st.AvgPrice = price
	}
	return st
}

// MapOrderStatus folds the CLOB status vocabulary onto
// {open, partial, filled, failed}. A dead order that matched some size is
// reported as partial.
func MapOrderStatus(raw string, matched, original decimal.Decimal) domain.OrderStatus {
	switch strings.ToLower(raw) {
	case "matched", "filled":
		return domain.OrderStatusFilled
	case "live", "open", "delayed", "unmatched":
		if matched.IsPositive() {
			if original.IsPositive() && matched.GreaterThanOrEqual(original) {
				return domain.OrderStatusFilled
			}
			return domain.OrderStatusPartial
		}
		return domain.OrderStatusOpen
	case "cancelled", "canceled", "expired", "failed", "rejected":
		if matched.IsPositive() {
			return domain.OrderStatusPartial
		}
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusOpen
	}
}
