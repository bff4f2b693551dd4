package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

// OrderPollConfig tunes order status polling.
type OrderPollConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultOrderPollConfig backs off linearly from 1s to 10s over 30 attempts.
func DefaultOrderPollConfig() OrderPollConfig {
	return OrderPollConfig{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 30}
}

// Delay returns the wait before the given attempt.
func (c OrderPollConfig) Delay(attempt int) time.Duration {
	d := c.Base * time.Duration(attempt)
	if d > c.Max {
		return c.Max
	}
	return d
}

// OrderStatusPoller follows a placed order until it fills, fails or the
// attempt budget runs out.
type OrderStatusPoller struct {
	intents  *IntentService
	exchange domain.Exchange
	wallets  *WalletService
	sched    scheduler.Scheduler
	policy   resilience.Policy
	cfg      OrderPollConfig
	logger   *slog.Logger
}

// NewOrderStatusPoller creates an OrderStatusPoller.
func NewOrderStatusPoller(
	intents *IntentService,
	exchange domain.Exchange,
	wallets *WalletService,
	sched scheduler.Scheduler,
	policy resilience.Policy,
	cfg OrderPollConfig,
	logger *slog.Logger,
) *OrderStatusPoller {
	def := DefaultOrderPollConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &OrderStatusPoller{
		intents:  intents,
		exchange: exchange,
		wallets:  wallets,
		sched:    sched,
		policy:   policy,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_status_poller")),
	}
}

// HandleJob is the order_status job handler.
func (p *OrderStatusPoller) HandleJob(ctx context.Context, job scheduler.Job) error {
	in, err := p.intents.GetIntent(ctx, job.IntentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if in.OrderID == "" || (in.State != domain.StateOrderPlaced && in.State != domain.StatePartialFill) {
		return nil
	}

	wallet, err := p.wallets.Wallet(ctx, in.UserID)
	if err != nil {
		return err
	}
	key, err := p.wallets.SigningKey(ctx, wallet)
	if err != nil {
		return err
	}

	st, err := resilience.Do(ctx, p.policy, func(ctx context.Context) (domain.OrderState, error) {
		return p.exchange.GetOrderStatus(ctx, in.OrderID, key)
	})
	if err != nil {
		p.logger.WarnContext(ctx, "order status lookup failed",
			slog.String("intent_id", in.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", err.Error()),
		)
		return p.next(ctx, in, job)
	}

	done, err := p.apply(ctx, in, st)
	if err != nil && !errors.Is(err, domain.ErrStateConflict) {
		return err
	}
	if done {
		return nil
	}
	return p.next(ctx, in, job)
}

// apply maps an observed order state onto the intent. PARTIAL_FILL is
// terminal for the lifecycle, so later fills are recorded as progress.
func (p *OrderStatusPoller) apply(ctx context.Context, in domain.TradeIntent, st domain.OrderState) (bool, error) {
	fill := domain.IntentUpdate{FilledSize: &st.FilledSize, AvgPrice: &st.AvgPrice}

	switch st.Status {
	case domain.OrderStatusFilled:
		if in.State == domain.StatePartialFill {
			_, err := p.intents.RecordFill(ctx, in.ID, st.FilledSize, st.AvgPrice)
			return true, err
		}
		_, err := p.intents.transition(ctx, in, domain.StateFilled, fill)
		return true, err

	case domain.OrderStatusPartial:
		if in.State == domain.StateOrderPlaced {
			_, err := p.intents.transition(ctx, in, domain.StatePartialFill, fill)
			return false, err
		}
		if !st.FilledSize.Equal(in.FilledSize) {
			_, err := p.intents.RecordFill(ctx, in.ID, st.FilledSize, st.AvgPrice)
			return false, err
		}
		return false, nil

	case domain.OrderStatusFailed:
		if in.State == domain.StateOrderPlaced {
			update := domain.IntentUpdate{}.WithError(domain.CodeOrderFailed, "order "+in.OrderID+" was not filled")
			_, err := p.intents.transition(ctx, in, domain.StateNeedsRetry, update)
			return true, err
		}
		// The unfilled remainder of a partial fill was cancelled.
		if st.FilledSize.Sign() > 0 && !st.FilledSize.Equal(in.FilledSize) {
			_, err := p.intents.RecordFill(ctx, in.ID, st.FilledSize, st.AvgPrice)
			return true, err
		}
		return true, nil

	default:
		return false, nil
	}
}

func (p *OrderStatusPoller) next(ctx context.Context, in domain.TradeIntent, job scheduler.Job) error {
	if job.Attempt >= p.cfg.MaxAttempts {
		p.logger.WarnContext(ctx, "order polling exhausted",
			slog.String("intent_id", in.ID),
			slog.String("order_id", in.OrderID),
			slog.Int("attempts", job.Attempt),
		)
		return p.intents.RecordEvent(ctx, in.ID, domain.EventOrderPollExhausted, map[string]any{
			"attempts": job.Attempt,
			"orderId":  in.OrderID,
			"state":    string(in.State),
		})
	}
	next := job.Next()
	return p.sched.Schedule(ctx, next, p.cfg.Delay(next.Attempt))
}
