package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

func TestCreateBuyIntentQuotesBridge(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	req := h.buyRequest()
	req.ReferralCode = "friend"
	in, err := h.intents.CreateIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, domain.StateRelayQuoted, in.State)
	assert.Equal(t, "q1", in.RelayQuoteID)
	assert.Equal(t, "r1", in.RelayRequestID)
	require.NotNil(t, in.OriginTx)
	assert.Equal(t, int64(8453), in.OriginTx.ChainID)
	assert.Equal(t, "9900000", in.MinDestAmount)
	assert.Equal(t, int64(137), in.DestinationChainID)
	assert.Equal(t, domain.OrderKindMarket, in.OrderKind)

	w, err := h.walletDB.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, w.Address, in.DestinationAddress)
	assert.Equal(t, domain.WalletTypeEOA, w.WalletType)
	assert.True(t, w.Deployed())
	assert.NotContains(t, w.EncryptedSignature, h.signature)

	assert.Equal(t, []string{domain.EventIntentCreated}, h.eventTypes(t, in.ID))
	require.Equal(t, []string{domain.EventIntentCreated}, h.sink.kinds())
	assert.Equal(t, "friend", h.sink.events[0].Payload["referralCode"])
}

func TestCreateIntentIsIdempotentOnClientRequestID(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	req := h.buyRequest()
	req.ClientRequestID = "client-1"
	first, err := h.intents.CreateIntent(ctx, req)
	require.NoError(t, err)
	second, err := h.intents.CreateIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.bridge.quoteCalls)
}

func TestCreateIntentValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	cases := []struct {
		name   string
		mutate func(*CreateIntentRequest)
		code   string
	}{
		{"bad owner", func(r *CreateIntentRequest) { r.OwnerAddress = "nope" }, "INVALID_ADDRESS"},
		{"missing market", func(r *CreateIntentRequest) { r.MarketID = "" }, "INVALID_MARKET"},
		{"bad outcome", func(r *CreateIntentRequest) { r.Outcome = "MAYBE" }, "INVALID_OUTCOME"},
		{"amount too small", func(r *CreateIntentRequest) { r.InputAmountWei = "1000" }, "AMOUNT_TOO_SMALL"},
		{"amount too large", func(r *CreateIntentRequest) { r.InputAmountWei = "100000000000000000000" }, "AMOUNT_TOO_LARGE"},
		{"slippage", func(r *CreateIntentRequest) { r.SlippageBps = 5000 }, "SLIPPAGE_TOO_HIGH"},
		{"limit without price", func(r *CreateIntentRequest) { r.OrderKind = domain.OrderKindLimit }, domain.CodeInvalidPrice},
		{"limit out of range", func(r *CreateIntentRequest) {
			r.OrderKind = domain.OrderKindLimit
			r.LimitPrice = decimal.NewNullDecimal(dec("0.995"))
		}, domain.CodeInvalidPrice},
		{"sell without shares", func(r *CreateIntentRequest) { r.Action = domain.ActionSell }, "INVALID_SHARES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.buyRequest()
			tc.mutate(&req)
			_, err := h.intents.CreateIntent(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
			assert.Equal(t, tc.code, domain.CodeOf(err))
		})
	}
	assert.Zero(t, h.bridge.quoteCalls)
}

func TestCreateIntentRejectsForeignSignature(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	req := h.buyRequest()
	req.OwnerAddress = "0x00000000000000000000000000000000000000bb"

	_, err := h.intents.CreateIntent(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestCreateSellIntentSchedulesPlacement(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	in, err := h.intents.CreateIntent(context.Background(), h.sellRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StateOrderSubmitting, in.State)
	assert.True(t, in.AmountShares.Valid)
	assert.Zero(t, h.bridge.quoteCalls)

	job, ok := h.sched.last(scheduler.KindPlaceOrder)
	require.True(t, ok)
	assert.Equal(t, scheduler.NewJob(scheduler.KindPlaceOrder, in.ID, 1).ID, job.job.ID)
	assert.Zero(t, job.delay)
}

func TestUpdateOriginTxHash(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	in, err := h.intents.CreateIntent(ctx, h.buyRequest())
	require.NoError(t, err)

	_, err = h.intents.UpdateOriginTxHash(ctx, in.ID, "0x1234", "")
	assert.Equal(t, "INVALID_TX_HASH", domain.CodeOf(err))

	out, err := h.intents.UpdateOriginTxHash(ctx, in.ID, testTxHash, "0xorigin-sig")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOriginTxSubmitted, out.State)
	assert.Equal(t, testTxHash, out.OriginTxHash)
	assert.NotEmpty(t, out.EncryptedSignature)

	job, ok := h.sched.last(scheduler.KindRelayStatus)
	require.True(t, ok)
	assert.Equal(t, 1, job.job.Attempt)
	assert.Equal(t, 2*time.Second, job.delay)

	t.Run("same hash again is a no-op", func(t *testing.T) {
		again, err := h.intents.UpdateOriginTxHash(ctx, in.ID, testTxHash, "0xorigin-sig")
		require.NoError(t, err)
		assert.Equal(t, domain.StateOriginTxSubmitted, again.State)
		assert.Equal(t, 1, h.sched.count(scheduler.KindRelayStatus))
	})
}

func TestHandleRelayExecutionAppliesOnce(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.submitted(t)

	first, applied, err := h.intents.HandleRelayExecution(ctx, in.ID, "0xdest")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StateDestFunded, first.State)
	assert.Equal(t, "0xdest", first.DestTxHash)

	second, applied, err := h.intents.HandleRelayExecution(ctx, in.ID, "0xdest")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.StateDestFunded, second.State)

	assert.Equal(t, []string{
		domain.EventIntentCreated,
		domain.EventStateChanged,
		domain.EventStateChanged,
	}, h.eventTypes(t, in.ID))
}

func TestUpdateIntentStateRejectsIllegalTransition(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in, err := h.intents.CreateIntent(ctx, h.buyRequest())
	require.NoError(t, err)

	_, err = h.intents.UpdateIntentState(ctx, in.ID, domain.StateFilled, domain.IntentUpdate{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	cur, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRelayQuoted, cur.State)
}

func TestUpdateIntentStateNotifiesObserver(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	var seen []domain.IntentState
	h.intents.WithTransitionObserver(func(_, to domain.IntentState) { seen = append(seen, to) })

	in, err := h.intents.CreateIntent(ctx, h.buyRequest())
	require.NoError(t, err)
	update := domain.IntentUpdate{}.WithError("user_cancelled", "cancelled\nby user")
	out, err := h.intents.UpdateIntentState(ctx, in.ID, domain.StateCancelled, update)
	require.NoError(t, err)

	assert.Equal(t, []domain.IntentState{domain.StateCancelled}, seen)
	assert.Equal(t, "USER_CANCELLED", out.ErrorCode)
	assert.Equal(t, "cancelled", out.ErrorDetail)
}

func TestGetIntentWithEvents(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := h.funded(t)

	got, events, err := h.intents.GetIntentWithEvents(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	require.Len(t, events, 3)
	assert.Equal(t, domain.StateDestFunded, domain.IntentState(events[2].Payload["to"].(string)))

	_, _, err = h.intents.GetIntentWithEvents(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRetryIntent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.funded(t)

	h.exchange.submitErr = domain.PermanentError(domain.CodeOrderSubmitFailed, "not enough balance", domain.ErrInvalidOrder)
	failed, err := h.executor.PlaceOrder(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNeedsRetry, failed.State)
	assert.Equal(t, domain.CodeOrderSubmitFailed, failed.ErrorCode)
	assert.Equal(t, "not enough balance", failed.ErrorDetail)

	h.exchange.submitErr = nil
	done, err := h.intents.RetryIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, done.State)
	assert.Equal(t, "o1", done.OrderID)

	_, err = h.intents.RetryIntent(ctx, in.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindState, domain.KindOf(err))
	assert.Equal(t, "NOT_RETRYABLE", domain.CodeOf(err))
}

func TestRecordFillKeepsState(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := h.funded(t)

	out, err := h.intents.RecordFill(ctx, in.ID, dec("3"), dec("0.5"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateDestFunded, out.State)
	assert.True(t, dec("3").Equal(out.FilledSize))
	assert.Contains(t, h.sink.kinds(), domain.EventFillProgress)
}
