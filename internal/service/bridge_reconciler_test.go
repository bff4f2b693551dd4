package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

func relayJob(id string, attempt int) scheduler.Job {
	return scheduler.NewJob(scheduler.KindRelayStatus, id, attempt)
}

func TestBuyFlowEndToEnd(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.submitted(t)

	h.bridge.status = domain.BridgeStatus{Status: domain.RelaySuccess, OutTxHashes: []string{"0xdest"}}
	require.NoError(t, h.reconciler.HandleJob(ctx, relayJob(in.ID, 1)))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, out.State)
	assert.Equal(t, "o1", out.OrderID)
	assert.Equal(t, "0xdest", out.DestTxHash)

	subs := h.exchange.submissions()
	require.Len(t, subs, 1)
	req := subs[0]
	assert.Equal(t, "tok-yes", req.TokenID)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.True(t, dec("0.52").Equal(req.Price), req.Price.String())
	assert.True(t, dec("19.03").Equal(req.Size), req.Size.String())
	assert.True(t, req.Immediate)
	assert.Equal(t, domain.WalletTypeEOA, req.WalletType)
	assert.Equal(t, out.DestinationAddress, req.Funder)
	assert.True(t, out.FilledSize.Equal(req.Size))

	assert.Equal(t, []string{
		domain.EventIntentCreated,
		domain.EventStateChanged, // ORIGIN_TX_SUBMITTED
		domain.EventStateChanged, // DEST_FUNDED
		domain.EventStateChanged, // ORDER_SUBMITTING
		domain.EventStateChanged, // FILLED
	}, h.eventTypes(t, in.ID))
	assert.Equal(t, 1, h.sched.count(scheduler.KindRelayStatus))
}

func TestRelayPollPendingReschedules(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := h.submitted(t)

	require.NoError(t, h.reconciler.HandleJob(context.Background(), relayJob(in.ID, 5)))

	job, ok := h.sched.last(scheduler.KindRelayStatus)
	require.True(t, ok)
	assert.Equal(t, 6, job.job.Attempt)
	assert.Equal(t, time.Second, job.delay)
}

func TestRelayPollExecutingAdvancesOnce(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.submitted(t)

	h.bridge.status = domain.BridgeStatus{Status: domain.RelaySubmitted}
	require.NoError(t, h.reconciler.HandleJob(ctx, relayJob(in.ID, 1)))
	require.NoError(t, h.reconciler.HandleJob(ctx, relayJob(in.ID, 2)))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRelayExecuting, out.State)
	assert.Len(t, h.eventTypes(t, in.ID), 3)
}

func TestRelayFailureFailsIntent(t *testing.T) {
	for _, status := range []domain.RelayStatus{domain.RelayFailure, domain.RelayRefund} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, harnessOpts{})
			ctx := context.Background()
			in := h.submitted(t)

			h.bridge.status = domain.BridgeStatus{Status: status, Error: "solver timeout"}
			require.NoError(t, h.reconciler.HandleJob(ctx, relayJob(in.ID, 1)))

			out, err := h.intents.GetIntent(ctx, in.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StateFailed, out.State)
			assert.Equal(t, domain.CodeRelayFailed, out.ErrorCode)
			assert.Equal(t, "solver timeout", out.ErrorDetail)
			assert.Equal(t, 1, h.sched.count(scheduler.KindRelayStatus))
		})
	}
}

func TestRelayPollExhaustion(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.submitted(t)

	err := h.reconciler.HandleJob(ctx, relayJob(in.ID, 60))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPollingExhausted))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOriginTxSubmitted, out.State)
	assert.Contains(t, h.eventTypes(t, in.ID), domain.EventRelayPollExhausted)
	assert.Contains(t, h.sink.kinds(), domain.EventRelayPollExhausted)
	assert.Equal(t, 1, h.sched.count(scheduler.KindRelayStatus))
}

func TestRelayStatusErrorKeepsPolling(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := h.submitted(t)
	h.bridge.statusErr = domain.TransientError(domain.CodeUpstreamUnavailable, domain.ErrUpstream)

	require.NoError(t, h.reconciler.HandleJob(context.Background(), relayJob(in.ID, 1)))
	job, ok := h.sched.last(scheduler.KindRelayStatus)
	require.True(t, ok)
	assert.Equal(t, 2, job.job.Attempt)
}

func TestRelayPollIgnoresSettledIntent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := h.funded(t)
	h.bridge.status = domain.BridgeStatus{Status: domain.RelayFailure}

	require.NoError(t, h.reconciler.HandleJob(context.Background(), relayJob(in.ID, 3)))
	out, err := h.intents.GetIntent(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDestFunded, out.State)
}

func TestHandleWebhook(t *testing.T) {
	body := []byte(`{"requestId":"r1","status":"success","destTxHash":"0xdest"}`)

	t.Run("valid signature funds and schedules placement", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		in := h.submitted(t)

		out, err := h.reconciler.HandleWebhook(context.Background(), body, "sha256="+h.hooks.Sign(body))
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, domain.StateDestFunded, out.State)

		job, ok := h.sched.last(scheduler.KindPlaceOrder)
		require.True(t, ok)
		assert.Equal(t, in.ID, job.job.IntentID)
		assert.Empty(t, h.exchange.submissions())

		// Redelivery changes nothing.
		again, err := h.reconciler.HandleWebhook(context.Background(), body, h.hooks.Sign(body))
		require.NoError(t, err)
		assert.Equal(t, domain.StateDestFunded, again.State)
		assert.Equal(t, 1, h.sched.count(scheduler.KindPlaceOrder))
	})

	t.Run("bad signature", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.submitted(t)

		_, err := h.reconciler.HandleWebhook(context.Background(), body, "deadbeef")
		require.Error(t, err)
		assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	})

	t.Run("unknown intent", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		other := []byte(`{"quoteId":"zzz","status":"success"}`)

		_, err := h.reconciler.HandleWebhook(context.Background(), other, h.hooks.Sign(other))
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		bad := []byte(`{`)

		_, err := h.reconciler.HandleWebhook(context.Background(), bad, h.hooks.Sign(bad))
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})
}

func TestWebhookAndPollerSuccessRace(t *testing.T) {
	body := []byte(`{"requestId":"r1","status":"success","destTxHash":"0xdest"}`)

	for i := 0; i < 25; i++ {
		h := newHarness(t, harnessOpts{})
		ctx := context.Background()
		in := h.submitted(t)
		h.bridge.status = domain.BridgeStatus{Status: domain.RelaySuccess, OutTxHashes: []string{"0xdest"}}

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.reconciler.HandleWebhook(ctx, body, h.hooks.Sign(body))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, h.reconciler.HandleJob(ctx, relayJob(in.ID, 1)))
		}()
		close(start)
		wg.Wait()

		funded := 0
		for _, n := range h.sink.notifications() {
			if n.Kind == domain.EventStateChanged && n.Payload["to"] == string(domain.StateDestFunded) {
				funded++
			}
		}
		assert.Equal(t, 1, funded)

		// Placement starts either inline from the poller or as a job from
		// the webhook, never both.
		triggers := h.sched.count(scheduler.KindPlaceOrder) + len(h.exchange.submissions())
		assert.Equal(t, 1, triggers)
	}
}
