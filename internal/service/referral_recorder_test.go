package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	storemem "github.com/alanyoungcy/crosstrade/internal/store/memory"
)

func TestReferralRecorder(t *testing.T) {
	store := storemem.NewReferralStore()
	r := NewReferralRecorder(store)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, domain.Notification{
		IntentID: "i1",
		Kind:     domain.EventStateChanged,
		Payload:  map[string]any{"referralCode": "ignored"},
	}))
	require.NoError(t, r.Handle(ctx, domain.Notification{
		IntentID: "i2",
		Kind:     domain.EventIntentCreated,
		Payload:  map[string]any{"userId": "u1"},
	}))
	require.NoError(t, r.Handle(ctx, domain.Notification{
		IntentID:  "i3",
		Kind:      domain.EventIntentCreated,
		Payload:   map[string]any{"userId": "u1", "referralCode": "friend"},
		Timestamp: time.Now(),
	}))

	got := store.All()
	require.Len(t, got, 1)
	assert.Equal(t, "i3", got[0].IntentID)
	assert.Equal(t, "friend", got[0].ReferralCode)
	assert.Equal(t, "u1", got[0].UserID)
}

func TestTimingTracer(t *testing.T) {
	tr := NewTimingTracer(time.Hour, testLogger())
	tr.Mark("i1", "RELAY_QUOTED")
	tr.Mark("i1", "FILLED")
	tr.Mark("i2", "RELAY_QUOTED")
	assert.Equal(t, 2, tr.Len())

	tr.Complete(context.Background(), "i1", "FILLED")
	assert.Equal(t, 1, tr.Len())

	// Completing twice is harmless.
	tr.Complete(context.Background(), "i1", "FILLED")
	assert.Equal(t, 1, tr.Len())
}
