package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentState is a lifecycle state of a TradeIntent.
type IntentState string

const (
	StateCreated           IntentState = "CREATED"
	StateWalletDeploying   IntentState = "WALLET_DEPLOYING"
	StateWalletReady       IntentState = "WALLET_READY"
	StateRelayQuoted       IntentState = "RELAY_QUOTED"
	StateOriginTxSubmitted IntentState = "ORIGIN_TX_SUBMITTED"
	StateRelayExecuting    IntentState = "RELAY_EXECUTING"
	StateDestFunded        IntentState = "DEST_FUNDED"
	StateOrderSubmitting   IntentState = "ORDER_SUBMITTING"
	StateOrderPlaced       IntentState = "ORDER_PLACED"
	StateFilled            IntentState = "FILLED"
	StatePartialFill       IntentState = "PARTIAL_FILL"
	StateNeedsRetry        IntentState = "NEEDS_RETRY"
	StateFailed            IntentState = "FAILED"
	StateCancelled         IntentState = "CANCELLED"
)

// Outcome is the binary side of a prediction-market trade.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// TradeAction is the direction of the trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// OrderKind selects how the execution price is chosen.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// Stable error codes recorded on intents.
const (
	CodeRelayFailed           = "RELAY_FAILED"
	CodeOrderFailed           = "ORDER_FAILED"
	CodeOrderSubmitFailed     = "ORDER_SUBMIT_FAILED"
	CodeInsufficientAllowance = "INSUFFICIENT_ALLOWANCE"
	CodeNoLiquidity           = "NO_LIQUIDITY"
	CodeMarketClosed          = "MARKET_CLOSED"
	CodeTokenNotFound         = "TOKEN_NOT_FOUND"
	CodeInvalidPrice          = "INVALID_PRICE"
	CodeCircuitOpen           = "CIRCUIT_OPEN"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeInternal              = "INTERNAL"
)

// OriginTx is the unsigned origin-chain transaction the user must sign and
// broadcast to start the bridge.
type OriginTx struct {
	ChainID int64  `json:"chainId"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
}

// TradeIntent is the persisted record of a user's requested cross-chain
// trade and its position in the lifecycle.
type TradeIntent struct {
	ID       string      `json:"id"`
	UserID   string      `json:"userId"`
	MarketID string      `json:"marketId"`
	Outcome  Outcome     `json:"outcome"`
	Action   TradeAction `json:"action"`

	OriginChainID       int64  `json:"originChainId"`
	OriginCurrency      string `json:"originCurrency"`
	InputAmountWei      string `json:"inputAmountWei,omitempty"`
	DestinationChainID  int64  `json:"destinationChainId"`
	DestinationCurrency string `json:"destinationCurrency"`
	DestinationAddress  string `json:"destinationAddress"`
	ExpectedDestAmount  string `json:"expectedDestAmount,omitempty"`
	MinDestAmount       string `json:"minDestAmount,omitempty"`
	SlippageBps         int    `json:"slippageBps"`

	// AmountShares is the share count for SELL intents.
	AmountShares decimal.NullDecimal `json:"amountShares"`

	RelayQuoteID   string    `json:"relayQuoteId,omitempty"`
	RelayRequestID string    `json:"relayRequestId,omitempty"`
	OriginTx       *OriginTx `json:"originTx,omitempty"`
	OriginTxHash   string    `json:"originTxHash,omitempty"`
	DestTxHash     string    `json:"destTxHash,omitempty"`

	OrderID    string              `json:"orderId,omitempty"`
	OrderKind  OrderKind           `json:"orderType"`
	LimitPrice decimal.NullDecimal `json:"limitPrice"`
	FilledSize decimal.Decimal     `json:"filledSize"`
	AvgPrice   decimal.Decimal     `json:"avgPrice"`

	State       IntentState `json:"state"`
	ErrorCode   string      `json:"errorCode,omitempty"`
	ErrorDetail string      `json:"errorDetail,omitempty"`

	// EncryptedSignature is the sealed origin-chain signature. It is never
	// serialized to clients.
	EncryptedSignature string `json:"-"`
	ClientRequestID    string `json:"clientRequestId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IntentUpdate carries the optional field changes applied together with a
// state transition. Nil fields are left untouched.
type IntentUpdate struct {
	RelayRequestID     *string
	OriginTxHash       *string
	DestTxHash         *string
	OrderID            *string
	EncryptedSignature *string
	FilledSize         *decimal.Decimal
	AvgPrice           *decimal.Decimal
	ErrorCode          *string
	ErrorDetail        *string
}

// WithError returns a copy of u carrying the sanitized (code, detail) pair.
func (u IntentUpdate) WithError(code, detail string) IntentUpdate {
	c, d := Sanitize(code, detail)
	u.ErrorCode = &c
	u.ErrorDetail = &d
	return u
}

// Apply writes the non-nil fields of u onto intent.
func (u IntentUpdate) Apply(intent *TradeIntent) {
	if u.RelayRequestID != nil {
		intent.RelayRequestID = *u.RelayRequestID
	}
	if u.OriginTxHash != nil {
		intent.OriginTxHash = *u.OriginTxHash
	}
	if u.DestTxHash != nil {
		intent.DestTxHash = *u.DestTxHash
	}
	if u.OrderID != nil {
		intent.OrderID = *u.OrderID
	}
	if u.EncryptedSignature != nil {
		intent.EncryptedSignature = *u.EncryptedSignature
	}
	if u.FilledSize != nil {
		intent.FilledSize = *u.FilledSize
	}
	if u.AvgPrice != nil {
		intent.AvgPrice = *u.AvgPrice
	}
	if u.ErrorCode != nil {
		intent.ErrorCode = *u.ErrorCode
	}
	if u.ErrorDetail != nil {
		intent.ErrorDetail = *u.ErrorDetail
	}
}

// Event kinds appended to the intent audit trail and emitted to the
// notification sink.
const (
	EventIntentCreated      = "intent_created"
	EventStateChanged       = "state_changed"
	EventFillProgress       = "fill_progress"
	EventRelayPollExhausted = "relay_poll_exhausted"
	EventOrderPollExhausted = "order_poll_exhausted"
)

// IntentEvent is an immutable audit record owned by a single intent.
type IntentEvent struct {
	ID        string         `json:"id"`
	IntentID  string         `json:"intentId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}
