package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/service"
)

// IntentAPI is the part of the intent service the HTTP surface drives.
type IntentAPI interface {
	CreateIntent(ctx context.Context, req service.CreateIntentRequest) (domain.TradeIntent, error)
	UpdateOriginTxHash(ctx context.Context, id, txHash, signature string) (domain.TradeIntent, error)
	RetryIntent(ctx context.Context, id string) (domain.TradeIntent, error)
	GetIntentWithEvents(ctx context.Context, id string) (domain.TradeIntent, []domain.IntentEvent, error)
}

// IntentHandler serves the trade intent endpoints.
type IntentHandler struct {
	intents IntentAPI
	logger  *slog.Logger
}

// NewIntentHandler creates an IntentHandler.
func NewIntentHandler(intents IntentAPI, logger *slog.Logger) *IntentHandler {
	return &IntentHandler{intents: intents, logger: logHandler(logger, "intents")}
}

type createIntentBody struct {
	UserID       string `json:"userId" validate:"required,max=128"`
	OwnerAddress string `json:"ownerAddress" validate:"required,eth_addr"`
	Signature    string `json:"signature" validate:"required,hexadecimal"`

	MarketID string `json:"marketId" validate:"required,max=256"`
	Outcome  string `json:"outcome" validate:"required,oneof=YES NO"`
	Action   string `json:"action" validate:"required,oneof=BUY SELL"`

	OriginChainID  int64  `json:"originChainId" validate:"required_if=Action BUY,omitempty,gt=0"`
	OriginCurrency string `json:"originCurrency" validate:"required_if=Action BUY,omitempty,max=64"`
	InputAmountWei string `json:"inputAmountWei" validate:"required_if=Action BUY,omitempty,numeric"`
	SlippageBps    int    `json:"slippageBps" validate:"gte=0,lte=10000"`

	AmountShares *decimal.Decimal `json:"amountShares"`
	OrderType    string           `json:"orderType" validate:"omitempty,oneof=MARKET LIMIT"`
	LimitPrice   *decimal.Decimal `json:"limitPrice"`

	ClientRequestID string `json:"clientRequestId" validate:"omitempty,max=128"`
	ReferralCode    string `json:"referralCode" validate:"omitempty,max=64"`
}

func (b createIntentBody) request() service.CreateIntentRequest {
	return service.CreateIntentRequest{
		UserID:          b.UserID,
		OwnerAddress:    b.OwnerAddress,
		Signature:       b.Signature,
		MarketID:        b.MarketID,
		Outcome:         domain.Outcome(b.Outcome),
		Action:          domain.TradeAction(b.Action),
		OriginChainID:   b.OriginChainID,
		OriginCurrency:  b.OriginCurrency,
		InputAmountWei:  b.InputAmountWei,
		SlippageBps:     b.SlippageBps,
		AmountShares:    nullDecimal(b.AmountShares),
		OrderKind:       domain.OrderKind(b.OrderType),
		LimitPrice:      nullDecimal(b.LimitPrice),
		ClientRequestID: b.ClientRequestID,
		ReferralCode:    b.ReferralCode,
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

type originTxBody struct {
	TxHash    string `json:"txHash" validate:"required"`
	Signature string `json:"signature" validate:"omitempty,hexadecimal"`
}

// intentResponse is an intent with its ordered audit trail.
type intentResponse struct {
	domain.TradeIntent
	Events []domain.IntentEvent `json:"events,omitempty"`
}

// Create registers a new intent. A replayed clientRequestId returns the
// original intent.
// POST /api/intents
func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createIntentBody
	if err := decodeBody(w, r, &body); err != nil {
		writeDecodeError(w, r, h.logger, err)
		return
	}

	in, err := h.intents.CreateIntent(r.Context(), body.request())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, in)
}

// SubmitOriginTx records the user's broadcast origin-chain transaction.
// POST /api/intents/{id}/origin-tx
func (h *IntentHandler) SubmitOriginTx(w http.ResponseWriter, r *http.Request) {
	var body originTxBody
	if err := decodeBody(w, r, &body); err != nil {
		writeDecodeError(w, r, h.logger, err)
		return
	}

	in, err := h.intents.UpdateOriginTxHash(r.Context(), r.PathValue("id"), body.TxHash, body.Signature)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// Retry re-enters order placement for a NEEDS_RETRY or DEST_FUNDED intent.
// POST /api/intents/{id}/retry
func (h *IntentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	in, err := h.intents.RetryIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// Get returns an intent and its events.
// GET /api/intents/{id}
func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	in, events, err := h.intents.GetIntentWithEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{TradeIntent: in, Events: events})
}
