package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// ReferralRecorder stores referral attribution for newly created intents.
// It runs as a notification subscriber so a slow or failing write never
// delays intent creation.
type ReferralRecorder struct {
	store domain.ReferralStore
}

// NewReferralRecorder creates a ReferralRecorder.
func NewReferralRecorder(store domain.ReferralStore) *ReferralRecorder {
	return &ReferralRecorder{store: store}
}

// Name identifies the subscriber in logs.
func (r *ReferralRecorder) Name() string { return "referral" }

// Handle records the referral code carried by an intent_created
// notification. Other notifications are ignored.
func (r *ReferralRecorder) Handle(ctx context.Context, n domain.Notification) error {
	if n.Kind != domain.EventIntentCreated {
		return nil
	}
	code, _ := n.Payload["referralCode"].(string)
	if code == "" {
		return nil
	}
	userID, _ := n.Payload["userId"].(string)
	err := r.store.Record(ctx, domain.ReferralAttribution{
		IntentID:     n.IntentID,
		UserID:       userID,
		ReferralCode: code,
		CreatedAt:    n.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("referral: record %s: %w", n.IntentID, err)
	}
	return nil
}
