package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/lifecycle"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

var (
	txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

	// Exchange prices are probabilities quoted in whole cents.
	minOrderPrice = decimal.RequireFromString("0.01")
	maxOrderPrice = decimal.RequireFromString("0.99")
)

// CreateIntentRequest is the validated input for a new trade intent.
type CreateIntentRequest struct {
	UserID       string
	OwnerAddress string
	Signature    string

	MarketID string
	Outcome  domain.Outcome
	Action   domain.TradeAction

	OriginChainID  int64
	OriginCurrency string
	InputAmountWei string
	SlippageBps    int

	// AmountShares is required for SELL.
	AmountShares decimal.NullDecimal

	OrderKind  domain.OrderKind
	LimitPrice decimal.NullDecimal

	ClientRequestID string
	ReferralCode    string
}

// IntentConfig holds the destination leg every intent settles on.
type IntentConfig struct {
	DestinationChainID  int64
	DestinationCurrency string
	RelayFirstPoll      time.Duration
}

// OrderPlacer places the exchange order for a funded intent.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, intentID string) (domain.TradeIntent, error)
}

// TransitionObserver is told about every committed state change.
type TransitionObserver func(from, to domain.IntentState)

// IntentService owns the trade intent lifecycle. Every state change goes
// through UpdateIntentState or one of the helpers built on it.
type IntentService struct {
	store    domain.IntentStore
	wallets  *WalletService
	risk     *RiskService
	bridge   domain.BridgeProvider
	sched    scheduler.Scheduler
	sink     domain.EventSink
	sealer   *crypto.Sealer
	tracer   *TimingTracer
	policies Policies
	cfg      IntentConfig
	placer   OrderPlacer
	observe  TransitionObserver
	now      func() time.Time
	logger   *slog.Logger
}

// NewIntentService creates an IntentService with all required dependencies.
func NewIntentService(
	store domain.IntentStore,
	wallets *WalletService,
	risk *RiskService,
	bridge domain.BridgeProvider,
	sched scheduler.Scheduler,
	sink domain.EventSink,
	sealer *crypto.Sealer,
	tracer *TimingTracer,
	policies Policies,
	cfg IntentConfig,
	logger *slog.Logger,
) *IntentService {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if cfg.RelayFirstPoll <= 0 {
		cfg.RelayFirstPoll = 2 * time.Second
	}
	return &IntentService{
		store:    store,
		wallets:  wallets,
		risk:     risk,
		bridge:   bridge,
		sched:    sched,
		sink:     sink,
		sealer:   sealer,
		tracer:   tracer,
		policies: policies,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "intent_service")),
	}
}

// SetOrderPlacer wires the executor used by RetryIntent. The executor
// depends on this service, so it is attached after construction.
func (s *IntentService) SetOrderPlacer(p OrderPlacer) { s.placer = p }

// WithTransitionObserver installs a callback run after each state change.
func (s *IntentService) WithTransitionObserver(o TransitionObserver) *IntentService {
	s.observe = o
	return s
}

// CreateIntent validates req, provisions the user's wallet and persists a
// new intent. BUY intents are quoted by the bridge and wait at RELAY_QUOTED
// for the origin transaction; SELL intents go straight to order placement.
// A repeated ClientRequestID returns the intent created the first time.
func (s *IntentService) CreateIntent(ctx context.Context, req CreateIntentRequest) (domain.TradeIntent, error) {
	if req.ClientRequestID != "" {
		existing, err := s.store.GetByClientRequestID(ctx, req.ClientRequestID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TradeIntent{}, fmt.Errorf("intent_service: lookup client request: %w", err)
		}
	}

	if err := s.validate(ctx, &req); err != nil {
		return domain.TradeIntent{}, err
	}

	wallet, err := s.wallets.Provision(ctx, req.UserID, req.OwnerAddress, req.Signature)
	if err != nil {
		return domain.TradeIntent{}, err
	}

	intent := domain.TradeIntent{
		ID:                  uuid.NewString(),
		UserID:              req.UserID,
		MarketID:            req.MarketID,
		Outcome:             req.Outcome,
		Action:              req.Action,
		OriginChainID:       req.OriginChainID,
		OriginCurrency:      req.OriginCurrency,
		InputAmountWei:      req.InputAmountWei,
		DestinationChainID:  s.cfg.DestinationChainID,
		DestinationCurrency: s.cfg.DestinationCurrency,
		DestinationAddress:  wallet.Address,
		SlippageBps:         req.SlippageBps,
		AmountShares:        req.AmountShares,
		OrderKind:           req.OrderKind,
		LimitPrice:          req.LimitPrice,
		ClientRequestID:     req.ClientRequestID,
		CreatedAt:           s.now(),
	}

	if req.Action == domain.ActionBuy {
		quote, err := resilience.Do(ctx, s.policies.Quote, func(ctx context.Context) (domain.Quote, error) {
			return s.bridge.Quote(ctx, domain.QuoteRequest{
				OriginChainID:       req.OriginChainID,
				DestinationChainID:  s.cfg.DestinationChainID,
				OriginCurrency:      req.OriginCurrency,
				DestinationCurrency: s.cfg.DestinationCurrency,
				Amount:              req.InputAmountWei,
				Sender:              req.OwnerAddress,
				Recipient:           wallet.Address,
			})
		})
		if err != nil {
			return domain.TradeIntent{}, fmt.Errorf("intent_service: bridge quote: %w", err)
		}
		tx := quote.OriginTx
		intent.State = domain.StateRelayQuoted
		intent.RelayQuoteID = quote.QuoteID
		intent.RelayRequestID = quote.RequestID
		intent.OriginTx = &tx
		intent.ExpectedDestAmount = quote.DestAmountExpected
		intent.MinDestAmount = quote.DestAmountMin
	} else {
		intent.State = domain.StateOrderSubmitting
	}

	created := newEvent(domain.EventIntentCreated, map[string]any{
		"state":  string(intent.State),
		"action": string(intent.Action),
	})
	if err := s.store.Create(ctx, intent, created); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) && req.ClientRequestID != "" {
			return s.store.GetByClientRequestID(ctx, req.ClientRequestID)
		}
		return domain.TradeIntent{}, fmt.Errorf("intent_service: create intent: %w", err)
	}

	s.logger.InfoContext(ctx, "intent created",
		slog.String("intent_id", intent.ID),
		slog.String("user_id", intent.UserID),
		slog.String("action", string(intent.Action)),
		slog.String("state", string(intent.State)),
	)
	s.sink.Emit(ctx, intent.ID, domain.EventIntentCreated, map[string]any{
		"userId":       intent.UserID,
		"marketId":     intent.MarketID,
		"action":       string(intent.Action),
		"state":        string(intent.State),
		"referralCode": req.ReferralCode,
	})
	s.mark(intent.ID, string(intent.State))

	if intent.State == domain.StateOrderSubmitting {
		s.schedule(ctx, scheduler.NewJob(scheduler.KindPlaceOrder, intent.ID, 1), 0)
	}
	return intent, nil
}

func (s *IntentService) validate(ctx context.Context, req *CreateIntentRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.ValidationError("INVALID_USER", "userId is required")
	}
	if !common.IsHexAddress(req.OwnerAddress) {
		return domain.ValidationError("INVALID_ADDRESS", "ownerAddress is not an address")
	}
	if strings.TrimSpace(req.Signature) == "" {
		return domain.ValidationError("INVALID_SIGNATURE", "signature is required")
	}
	if strings.TrimSpace(req.MarketID) == "" {
		return domain.ValidationError("INVALID_MARKET", "marketId is required")
	}
	if req.Outcome != domain.OutcomeYes && req.Outcome != domain.OutcomeNo {
		return domain.ValidationError("INVALID_OUTCOME", "outcome must be YES or NO")
	}

	if req.OrderKind == "" {
		req.OrderKind = domain.OrderKindMarket
	}
	switch req.OrderKind {
	case domain.OrderKindMarket:
	case domain.OrderKindLimit:
		if err := validateLimitPrice(req.LimitPrice); err != nil {
			return err
		}
	default:
		return domain.ValidationError("INVALID_ORDER_TYPE", "orderType must be MARKET or LIMIT")
	}

	switch req.Action {
	case domain.ActionBuy:
		return s.risk.CheckBuy(ctx, *req)
	case domain.ActionSell:
		if !req.AmountShares.Valid || req.AmountShares.Decimal.Sign() <= 0 {
			return domain.ValidationError("INVALID_SHARES", "amountShares must be positive for SELL")
		}
		return nil
	default:
		return domain.ValidationError("INVALID_ACTION", "action must be BUY or SELL")
	}
}

func validateLimitPrice(p decimal.NullDecimal) error {
	if !p.Valid {
		return domain.ValidationError(domain.CodeInvalidPrice, "limitPrice is required for LIMIT orders")
	}
	if p.Decimal.LessThan(minOrderPrice) || p.Decimal.GreaterThan(maxOrderPrice) {
		return domain.ValidationError(domain.CodeInvalidPrice,
			fmt.Sprintf("limitPrice %s outside [%s, %s]", p.Decimal, minOrderPrice, maxOrderPrice))
	}
	return nil
}

// UpdateOriginTxHash records the user's broadcast origin transaction and
// starts bridge polling. Repeating the call with the same hash is a no-op.
func (s *IntentService) UpdateOriginTxHash(ctx context.Context, id, txHash, signature string) (domain.TradeIntent, error) {
	if !txHashPattern.MatchString(txHash) {
		return domain.TradeIntent{}, domain.ValidationError("INVALID_TX_HASH", "txHash must be a 32-byte hex string")
	}
	in, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	if in.State != domain.StateRelayQuoted && strings.EqualFold(in.OriginTxHash, txHash) {
		return in, nil
	}

	update := domain.IntentUpdate{OriginTxHash: &txHash}
	if signature != "" {
		sealed, err := s.sealer.Seal(signature, in.ID)
		if err != nil {
			return domain.TradeIntent{}, fmt.Errorf("intent_service: seal signature: %w", err)
		}
		update.EncryptedSignature = &sealed
	}

	out, err := s.transition(ctx, in, domain.StateOriginTxSubmitted, update)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	s.schedule(ctx, scheduler.NewJob(scheduler.KindRelayStatus, in.ID, 1), s.cfg.RelayFirstPoll)
	return out, nil
}

// HandleRelayExecution moves a bridging intent to DEST_FUNDED. applied is
// false when the intent had already moved past the bridge.
func (s *IntentService) HandleRelayExecution(ctx context.Context, id, destTxHash string) (domain.TradeIntent, bool, error) {
	in, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, false, err
	}
	if in.State != domain.StateOriginTxSubmitted && in.State != domain.StateRelayExecuting {
		return in, false, nil
	}
	out, err := s.transition(ctx, in, domain.StateDestFunded, domain.IntentUpdate{DestTxHash: &destTxHash})
	if errors.Is(err, domain.ErrStateConflict) {
		cur, gerr := s.GetIntent(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return domain.TradeIntent{}, false, err
	}
	return out, true, nil
}

// UpdateIntentState loads the intent, validates from -> to against the
// lifecycle and commits the change together with its audit event.
func (s *IntentService) UpdateIntentState(ctx context.Context, id string, to domain.IntentState, update domain.IntentUpdate) (domain.TradeIntent, error) {
	in, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	return s.transition(ctx, in, to, update)
}

// transition commits in.State -> to. A concurrent writer surfaces as
// ErrStateConflict wrapped in a state error.
func (s *IntentService) transition(ctx context.Context, in domain.TradeIntent, to domain.IntentState, update domain.IntentUpdate) (domain.TradeIntent, error) {
	from := in.State
	if _, err := lifecycle.Transition(from, to, in.ID); err != nil {
		return domain.TradeIntent{}, err
	}

	payload := map[string]any{"from": string(from), "to": string(to)}
	if update.ErrorCode != nil {
		payload["errorCode"] = *update.ErrorCode
	}
	if update.ErrorDetail != nil {
		payload["errorDetail"] = *update.ErrorDetail
	}
	if update.OrderID != nil {
		payload["orderId"] = *update.OrderID
	}

	out, err := s.store.Transition(ctx, in.ID, from, to, update, newEvent(domain.EventStateChanged, payload))
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return domain.TradeIntent{}, domain.StateError("STATE_CONFLICT",
				fmt.Sprintf("intent %s is no longer %s", in.ID, from), err)
		}
		return domain.TradeIntent{}, fmt.Errorf("intent_service: transition %s: %w", in.ID, err)
	}

	s.logger.InfoContext(ctx, "intent state changed",
		slog.String("intent_id", in.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	s.sink.Emit(ctx, in.ID, domain.EventStateChanged, withUser(payload, out.UserID))
	if s.observe != nil {
		s.observe(from, to)
	}
	s.mark(in.ID, string(to))
	if s.tracer != nil && lifecycle.IsTerminal(to) {
		s.tracer.Complete(ctx, in.ID, string(to))
	}
	return out, nil
}

// GetIntent returns the intent with the given id.
func (s *IntentService) GetIntent(ctx context.Context, id string) (domain.TradeIntent, error) {
	in, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, fmt.Errorf("intent_service: get intent %s: %w", id, err)
	}
	return in, nil
}

// GetByRelayID finds the intent carrying a bridge quote or request id.
func (s *IntentService) GetByRelayID(ctx context.Context, relayID string) (domain.TradeIntent, error) {
	return s.store.GetByRelayID(ctx, relayID)
}

// GetIntentWithEvents returns the intent and its audit trail, oldest first.
func (s *IntentService) GetIntentWithEvents(ctx context.Context, id string) (domain.TradeIntent, []domain.IntentEvent, error) {
	in, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, nil, fmt.Errorf("intent_service: list events %s: %w", id, err)
	}
	return in, events, nil
}

// RetryIntent re-runs order placement for an intent waiting in
// NEEDS_RETRY or DEST_FUNDED.
func (s *IntentService) RetryIntent(ctx context.Context, id string) (domain.TradeIntent, error) {
	in, err := s.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, err
	}
	if !lifecycle.CanRetry(in.State) {
		return domain.TradeIntent{}, domain.StateError("NOT_RETRYABLE",
			fmt.Sprintf("intent %s in state %s cannot be retried", id, in.State), domain.ErrInvalidTransition)
	}
	if s.placer == nil {
		return domain.TradeIntent{}, errors.New("intent_service: no order placer configured")
	}
	s.logger.InfoContext(ctx, "intent retry requested", slog.String("intent_id", id))
	return s.placer.PlaceOrder(ctx, id)
}

// RecordFill stores fill progress without changing state.
func (s *IntentService) RecordFill(ctx context.Context, id string, filled, avgPrice decimal.Decimal) (domain.TradeIntent, error) {
	payload := map[string]any{
		"filledSize": filled.String(),
		"avgPrice":   avgPrice.String(),
	}
	out, err := s.store.Patch(ctx, id,
		domain.IntentUpdate{FilledSize: &filled, AvgPrice: &avgPrice},
		newEvent(domain.EventFillProgress, payload))
	if err != nil {
		return domain.TradeIntent{}, fmt.Errorf("intent_service: record fill %s: %w", id, err)
	}
	s.sink.Emit(ctx, id, domain.EventFillProgress, withUser(payload, out.UserID))
	return out, nil
}

// RecordEvent appends an audit event without touching the intent fields.
func (s *IntentService) RecordEvent(ctx context.Context, id, kind string, payload map[string]any) error {
	out, err := s.store.Patch(ctx, id, domain.IntentUpdate{}, newEvent(kind, payload))
	if err != nil {
		return fmt.Errorf("intent_service: record event %s: %w", id, err)
	}
	s.sink.Emit(ctx, id, kind, withUser(payload, out.UserID))
	return nil
}

// schedule enqueues job. Failures are logged; webhooks and manual retry
// still move the intent forward.
func (s *IntentService) schedule(ctx context.Context, job scheduler.Job, delay time.Duration) {
	if err := s.sched.Schedule(ctx, job, delay); err != nil {
		s.logger.ErrorContext(ctx, "schedule job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *IntentService) mark(id, stage string) {
	if s.tracer != nil {
		s.tracer.Mark(id, stage)
	}
}

// withUser copies payload and tags it with the owning user for subscribers.
func withUser(payload map[string]any, userID string) map[string]any {
	out := maps.Clone(payload)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out["userId"] = userID
	return out
}

func newEvent(kind string, payload map[string]any) domain.IntentEvent {
	return domain.IntentEvent{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
