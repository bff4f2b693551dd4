package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

func TestOrderPollDelay(t *testing.T) {
	cfg := DefaultOrderPollConfig()
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 4*time.Second, cfg.Delay(4))
	assert.Equal(t, 10*time.Second, cfg.Delay(25))
}

// placedIntent returns an intent resting at ORDER_PLACED.
func placedIntent(t *testing.T, h *harness) domain.TradeIntent {
	t.Helper()
	in := h.funded(t)
	h.exchange.result = domain.OrderResult{OrderID: "o1", Status: domain.OrderStatusOpen}
	out, err := h.executor.PlaceOrder(context.Background(), in.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateOrderPlaced, out.State)
	return out
}

func orderJob(id string, attempt int) scheduler.Job {
	return scheduler.NewJob(scheduler.KindOrderStatus, id, attempt)
}

func TestOrderPollOpenReschedules(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := placedIntent(t, h)
	h.exchange.state = domain.OrderState{Status: domain.OrderStatusOpen}

	require.NoError(t, h.poller.HandleJob(context.Background(), orderJob(in.ID, 3)))
	job, ok := h.sched.last(scheduler.KindOrderStatus)
	require.True(t, ok)
	assert.Equal(t, 4, job.job.Attempt)
	assert.Equal(t, 4*time.Second, job.delay)
}

func TestOrderPollFilled(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := placedIntent(t, h)
	scheduled := h.sched.count(scheduler.KindOrderStatus)

	h.exchange.state = domain.OrderState{Status: domain.OrderStatusFilled, FilledSize: dec("19.03"), AvgPrice: dec("0.51")}
	require.NoError(t, h.poller.HandleJob(ctx, orderJob(in.ID, 1)))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, out.State)
	assert.True(t, dec("0.51").Equal(out.AvgPrice))
	assert.Equal(t, scheduled, h.sched.count(scheduler.KindOrderStatus))
}

func TestOrderPollFailedNeedsRetry(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := placedIntent(t, h)

	h.exchange.state = domain.OrderState{Status: domain.OrderStatusFailed}
	require.NoError(t, h.poller.HandleJob(ctx, orderJob(in.ID, 1)))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNeedsRetry, out.State)
	assert.Equal(t, domain.CodeOrderFailed, out.ErrorCode)
}

func TestRetryAfterFailedOrderPlacesNewOrder(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := placedIntent(t, h)

	h.exchange.state = domain.OrderState{Status: domain.OrderStatusFailed}
	require.NoError(t, h.poller.HandleJob(ctx, orderJob(in.ID, 1)))
	failed, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateNeedsRetry, failed.State)
	polls := h.sched.count(scheduler.KindOrderStatus)

	h.exchange.result = domain.OrderResult{OrderID: "o2", Status: domain.OrderStatusOpen}
	out, err := h.intents.RetryIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOrderPlaced, out.State)
	assert.Equal(t, "o2", out.OrderID)
	assert.Len(t, h.exchange.submissions(), 2)

	assert.Equal(t, polls+1, h.sched.count(scheduler.KindOrderStatus))
	poll, ok := h.sched.last(scheduler.KindOrderStatus)
	require.True(t, ok)
	assert.Equal(t, 1, poll.job.Attempt)

	h.exchange.state = domain.OrderState{Status: domain.OrderStatusFilled, FilledSize: dec("19.03"), AvgPrice: dec("0.52")}
	require.NoError(t, h.poller.HandleJob(ctx, poll.job))
	done, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, done.State)
}

func TestOrderPollExhaustion(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	in := placedIntent(t, h)
	scheduled := h.sched.count(scheduler.KindOrderStatus)

	h.exchange.state = domain.OrderState{Status: domain.OrderStatusOpen}
	require.NoError(t, h.poller.HandleJob(ctx, orderJob(in.ID, 30)))

	out, err := h.intents.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOrderPlaced, out.State)
	assert.Contains(t, h.eventTypes(t, in.ID), domain.EventOrderPollExhausted)
	assert.Equal(t, scheduled, h.sched.count(scheduler.KindOrderStatus))
}

func TestOrderPollSkipsSettledIntent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	in := h.funded(t)

	require.NoError(t, h.poller.HandleJob(context.Background(), orderJob(in.ID, 1)))
	assert.Zero(t, h.sched.count(scheduler.KindOrderStatus))
}
