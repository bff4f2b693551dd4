package domain

import (
	"context"
	"strings"
)

// QuoteRequest asks the bridge for a route from the origin to the
// destination chain.
type QuoteRequest struct {
	OriginChainID       int64
	DestinationChainID  int64
	OriginCurrency      string
	DestinationCurrency string
	Amount              string // base units on the origin chain
	Sender              string
	Recipient           string
}

// Quote is the bridge's answer to a QuoteRequest.
type Quote struct {
	QuoteID            string
	RequestID          string
	OriginTx           OriginTx
	DestAmountExpected string
	DestAmountMin      string
}

// RelayStatus is the bridge provider's raw status vocabulary.
type RelayStatus string

const (
	RelayWaiting   RelayStatus = "waiting"
	RelayPending   RelayStatus = "pending"
	RelaySubmitted RelayStatus = "submitted"
	RelaySuccess   RelayStatus = "success"
	RelayFailure   RelayStatus = "failure"
	RelayRefund    RelayStatus = "refund"
)

// BridgePhase is the internal normalization of RelayStatus.
type BridgePhase string

const (
	BridgePending   BridgePhase = "pending"
	BridgeExecuting BridgePhase = "executing"
	BridgeExecuted  BridgePhase = "executed"
	BridgeFailed    BridgePhase = "failed"
)

// Phase maps a provider status onto the internal phase. Unknown values are
// treated as pending so the poller keeps watching.
func (s RelayStatus) Phase() BridgePhase {
	switch RelayStatus(strings.ToLower(string(s))) {
	case RelaySubmitted:
		return BridgeExecuting
	case RelaySuccess:
		return BridgeExecuted
	case RelayFailure, RelayRefund:
		return BridgeFailed
	default:
		return BridgePending
	}
}

// BridgeStatus is the normalized result of a status lookup.
type BridgeStatus struct {
	Status      RelayStatus
	InTxHashes  []string
	OutTxHashes []string
	Error       string
}

// DestTxHash returns the first destination-chain transaction hash, if any.
func (s BridgeStatus) DestTxHash() string {
	if len(s.OutTxHashes) == 0 {
		return ""
	}
	return s.OutTxHashes[0]
}

// BridgeProvider is the cross-chain relay service.
type BridgeProvider interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Status(ctx context.Context, requestID string) (BridgeStatus, error)
}

// RelayWebhook is the decoded body of an inbound bridge webhook.
type RelayWebhook struct {
	QuoteID      string      `json:"quoteId,omitempty"`
	RequestID    string      `json:"requestId,omitempty"`
	Status       RelayStatus `json:"status"`
	OriginTxHash string      `json:"originTxHash,omitempty"`
	DestTxHash   string      `json:"destTxHash,omitempty"`
	Error        string      `json:"error,omitempty"`
}
