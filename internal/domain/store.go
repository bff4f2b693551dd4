package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// IntentStore persists trade intents and their audit events.
type IntentStore interface {
	// Create inserts intent together with its creation event. A duplicate
	// ClientRequestID returns ErrAlreadyExists.
	Create(ctx context.Context, intent TradeIntent, event IntentEvent) error
	GetByID(ctx context.Context, id string) (TradeIntent, error)
	GetByClientRequestID(ctx context.Context, clientRequestID string) (TradeIntent, error)
	// GetByRelayID looks up by bridge quote id or request id.
	GetByRelayID(ctx context.Context, relayID string) (TradeIntent, error)
	GetByOrderID(ctx context.Context, orderID string) (TradeIntent, error)
	// Transition moves the intent from -> to, applying update and appending
	// event in one atomic step. It returns ErrStateConflict when the stored
	// state is no longer from.
	Transition(ctx context.Context, id string, from, to IntentState, update IntentUpdate, event IntentEvent) (TradeIntent, error)
	// Patch applies update without changing state and appends event.
	Patch(ctx context.Context, id string, update IntentUpdate, event IntentEvent) (TradeIntent, error)
	ListEvents(ctx context.Context, intentID string) ([]IntentEvent, error)
	// ListTerminal returns terminal intents last updated inside the
	// [Since, Until) window of opts, oldest first.
	ListTerminal(ctx context.Context, opts ListOpts) ([]TradeIntent, error)
}

// WalletStore persists destination wallets.
type WalletStore interface {
	GetByUserID(ctx context.Context, userID string) (DestinationWallet, error)
	Create(ctx context.Context, w DestinationWallet) error
	UpdateSignature(ctx context.Context, userID, encryptedSignature string) error
	MarkDeployed(ctx context.Context, userID, address string) error
	MarkOwnerAdded(ctx context.Context, userID string) error
}

// ReferralAttribution links an intent to the referral code it was created with.
type ReferralAttribution struct {
	IntentID     string
	UserID       string
	ReferralCode string
	CreatedAt    time.Time
}

// ReferralStore records referral attribution.
type ReferralStore interface {
	Record(ctx context.Context, a ReferralAttribution) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// Latest returns the newest entry for event, or ErrNotFound.
	Latest(ctx context.Context, event string) (AuditEntry, error)
}
