package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

// BridgePollConfig tunes relay status polling.
type BridgePollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultBridgePollConfig polls every second for at most 60 attempts.
func DefaultBridgePollConfig() BridgePollConfig {
	return BridgePollConfig{Interval: time.Second, MaxAttempts: 60}
}

// BridgeReconciler drives intents through the bridge phases from two
// sources: scheduled status polls and signed provider webhooks. Both feed
// the same reconcile step, so whichever arrives second is a no-op.
type BridgeReconciler struct {
	intents *IntentService
	bridge  domain.BridgeProvider
	placer  OrderPlacer
	sched   scheduler.Scheduler
	hooks   *crypto.WebhookSigner
	policy  resilience.Policy
	cfg     BridgePollConfig
	logger  *slog.Logger
}

// NewBridgeReconciler creates a BridgeReconciler.
func NewBridgeReconciler(
	intents *IntentService,
	bridge domain.BridgeProvider,
	placer OrderPlacer,
	sched scheduler.Scheduler,
	hooks *crypto.WebhookSigner,
	policy resilience.Policy,
	cfg BridgePollConfig,
	logger *slog.Logger,
) *BridgeReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &BridgeReconciler{
		intents: intents,
		bridge:  bridge,
		placer:  placer,
		sched:   sched,
		hooks:   hooks,
		policy:  policy,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "bridge_reconciler")),
	}
}

// HandleJob is the relay_status job handler. It returns
// domain.ErrPollingExhausted once the attempt budget is spent so the job is
// dead-lettered.
func (r *BridgeReconciler) HandleJob(ctx context.Context, job scheduler.Job) error {
	in, err := r.intents.GetIntent(ctx, job.IntentID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.WarnContext(ctx, "relay poll for unknown intent", slog.String("intent_id", job.IntentID))
		return nil
	}
	if err != nil {
		return err
	}
	if !bridging(in.State) {
		return nil
	}
	if job.Attempt > r.cfg.MaxAttempts {
		return r.exhaust(ctx, in, job.Attempt-1)
	}

	requestID := in.RelayRequestID
	if requestID == "" {
		requestID = in.RelayQuoteID
	}
	st, err := resilience.Do(ctx, r.policy, func(ctx context.Context) (domain.BridgeStatus, error) {
		return r.bridge.Status(ctx, requestID)
	})
	if err != nil {
		r.logger.WarnContext(ctx, "relay status lookup failed",
			slog.String("intent_id", in.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", err.Error()),
		)
		return r.next(ctx, in, job)
	}

	done, err := r.reconcile(ctx, in, st.Status.Phase(), st.DestTxHash(), st.Error, true)
	if err != nil {
		r.logger.WarnContext(ctx, "relay reconcile failed",
			slog.String("intent_id", in.ID),
			slog.String("error", err.Error()),
		)
	}
	if done {
		return nil
	}
	return r.next(ctx, in, job)
}

func (r *BridgeReconciler) next(ctx context.Context, in domain.TradeIntent, job scheduler.Job) error {
	if job.Attempt >= r.cfg.MaxAttempts {
		return r.exhaust(ctx, in, job.Attempt)
	}
	if err := r.sched.Schedule(ctx, job.Next(), r.cfg.Interval); err != nil {
		return fmt.Errorf("bridge_reconciler: reschedule %s: %w", in.ID, err)
	}
	return nil
}

func (r *BridgeReconciler) exhaust(ctx context.Context, in domain.TradeIntent, attempts int) error {
	r.logger.WarnContext(ctx, "relay polling exhausted",
		slog.String("intent_id", in.ID),
		slog.Int("attempts", attempts),
	)
	if err := r.intents.RecordEvent(ctx, in.ID, domain.EventRelayPollExhausted, map[string]any{
		"attempts": attempts,
		"state":    string(in.State),
	}); err != nil {
		r.logger.ErrorContext(ctx, "record poll exhaustion failed",
			slog.String("intent_id", in.ID),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("bridge_reconciler: intent %s: %w", in.ID, domain.ErrPollingExhausted)
}

// HandleWebhook verifies and applies a bridge status callback.
func (r *BridgeReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (domain.TradeIntent, error) {
	if r.hooks == nil || !r.hooks.Verify(body, signature) {
		return domain.TradeIntent{}, domain.AuthError("invalid webhook signature")
	}
	var hook domain.RelayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return domain.TradeIntent{}, domain.ValidationError("INVALID_PAYLOAD", "webhook body is not valid JSON")
	}

	in, err := r.lookup(ctx, hook)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	r.logger.InfoContext(ctx, "relay webhook received",
		slog.String("intent_id", in.ID),
		slog.String("status", string(hook.Status)),
	)
	if !bridging(in.State) {
		return in, nil
	}
	if _, err := r.reconcile(ctx, in, hook.Status.Phase(), hook.DestTxHash, hook.Error, false); err != nil {
		return domain.TradeIntent{}, err
	}
	return r.intents.GetIntent(ctx, in.ID)
}

func (r *BridgeReconciler) lookup(ctx context.Context, hook domain.RelayWebhook) (domain.TradeIntent, error) {
	for _, id := range []string{hook.QuoteID, hook.RequestID} {
		if id == "" {
			continue
		}
		in, err := r.intents.GetByRelayID(ctx, id)
		if err == nil {
			return in, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TradeIntent{}, fmt.Errorf("bridge_reconciler: lookup %s: %w", id, err)
		}
	}
	return domain.TradeIntent{}, fmt.Errorf("bridge_reconciler: no intent for webhook: %w", domain.ErrNotFound)
}

// reconcile applies one observed bridge phase. done reports that polling
// can stop. placeInline runs order placement in the caller; otherwise a
// place_order job is scheduled.
func (r *BridgeReconciler) reconcile(ctx context.Context, in domain.TradeIntent, phase domain.BridgePhase, destTx, detail string, placeInline bool) (bool, error) {
	switch phase {
	case domain.BridgeExecuted:
		if destTx == "" {
			return false, nil
		}
		_, applied, err := r.intents.HandleRelayExecution(ctx, in.ID, destTx)
		if err != nil {
			return false, err
		}
		if applied {
			r.startPlacement(ctx, in.ID, placeInline)
		}
		return true, nil

	case domain.BridgeFailed:
		if detail == "" {
			detail = "bridge reported failure"
		}
		update := domain.IntentUpdate{}.WithError(domain.CodeRelayFailed, detail)
		_, err := r.intents.UpdateIntentState(ctx, in.ID, domain.StateFailed, update)
		if errors.Is(err, domain.ErrStateConflict) {
			return true, nil
		}
		return err == nil, err

	case domain.BridgeExecuting:
		if in.State == domain.StateOriginTxSubmitted {
			_, err := r.intents.UpdateIntentState(ctx, in.ID, domain.StateRelayExecuting, domain.IntentUpdate{})
			if err != nil && !errors.Is(err, domain.ErrStateConflict) {
				return false, err
			}
		}
		return false, nil

	default:
		return false, nil
	}
}

func (r *BridgeReconciler) startPlacement(ctx context.Context, id string, inline bool) {
	if inline && r.placer != nil {
		if _, err := r.placer.PlaceOrder(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "inline order placement failed",
				slog.String("intent_id", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := r.sched.Schedule(ctx, scheduler.NewJob(scheduler.KindPlaceOrder, id, 1), 0); err != nil {
		r.logger.ErrorContext(ctx, "schedule placement failed",
			slog.String("intent_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func bridging(s domain.IntentState) bool {
	return s == domain.StateOriginTxSubmitted || s == domain.StateRelayExecuting
}
