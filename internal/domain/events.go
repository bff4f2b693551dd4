package domain

import (
	"context"
	"time"
)

// Notification is a post-commit event delivered to sink subscribers.
type Notification struct {
	IntentID  string         `json:"intentId"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives fire-and-forget notifications. Emit must never block
// and never fails the caller.
type EventSink interface {
	Emit(ctx context.Context, intentID, kind string, payload map[string]any)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, string, map[string]any) {}

// Channel and stream names on the signal bus.
const (
	IntentChannelPrefix = "intents:"
	AlertStream         = "alerts"
)

// IntentChannel is the pub/sub channel carrying notifications for one intent.
func IntentChannel(intentID string) string { return IntentChannelPrefix + intentID }
