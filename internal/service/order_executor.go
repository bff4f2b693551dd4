package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
)

// OrderConfig tunes order placement.
type OrderConfig struct {
	// PriceBuffer is added to the best ask (BUY) or taken from the best bid
	// (SELL) for MARKET orders.
	PriceBuffer decimal.Decimal

	LockTTL time.Duration

	// CircuitRetryDelay and MaxPlaceAttempts bound re-placement while the
	// exchange breaker is open.
	CircuitRetryDelay time.Duration
	MaxPlaceAttempts  int

	StatusFirstPoll time.Duration
}

// DefaultOrderConfig returns a 2 cent market buffer.
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		PriceBuffer:       decimal.RequireFromString("0.02"),
		LockTTL:           45 * time.Second,
		CircuitRetryDelay: 30 * time.Second,
		MaxPlaceAttempts:  5,
		StatusFirstPoll:   time.Second,
	}
}

// OrderExecutor resolves, signs and submits the exchange order for a funded
// intent.
type OrderExecutor struct {
	intents   *IntentService
	markets   *MarketService
	exchange  domain.Exchange
	wallets   *WalletService
	approvals domain.ApprovalCache
	checker   domain.ApprovalChecker
	relayer   domain.WalletRelayer
	locks     domain.LockManager
	sched     scheduler.Scheduler
	policies  Policies
	cfg       OrderConfig
	logger    *slog.Logger
}

// NewOrderExecutor creates an OrderExecutor. checker and relayer may be nil.
func NewOrderExecutor(
	intents *IntentService,
	markets *MarketService,
	exchange domain.Exchange,
	wallets *WalletService,
	approvals domain.ApprovalCache,
	checker domain.ApprovalChecker,
	relayer domain.WalletRelayer,
	locks domain.LockManager,
	sched scheduler.Scheduler,
	policies Policies,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderExecutor {
	def := DefaultOrderConfig()
	if cfg.PriceBuffer.Sign() <= 0 {
		cfg.PriceBuffer = def.PriceBuffer
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.CircuitRetryDelay <= 0 {
		cfg.CircuitRetryDelay = def.CircuitRetryDelay
	}
	if cfg.MaxPlaceAttempts <= 0 {
		cfg.MaxPlaceAttempts = def.MaxPlaceAttempts
	}
	if cfg.StatusFirstPoll <= 0 {
		cfg.StatusFirstPoll = def.StatusFirstPoll
	}
	return &OrderExecutor{
		intents:   intents,
		markets:   markets,
		exchange:  exchange,
		wallets:   wallets,
		approvals: approvals,
		checker:   checker,
		relayer:   relayer,
		locks:     locks,
		sched:     sched,
		policies:  policies,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "order_executor")),
	}
}

// PlaceOrder places the order for intentID. Placement failures are recorded
// on the intent as NEEDS_RETRY and returned with a nil error; the returned
// error reports only what could not be recorded.
func (e *OrderExecutor) PlaceOrder(ctx context.Context, intentID string) (domain.TradeIntent, error) {
	return e.place(ctx, intentID, 1)
}

// HandleJob is the place_order job handler.
func (e *OrderExecutor) HandleJob(ctx context.Context, job scheduler.Job) error {
	_, err := e.place(ctx, job.IntentID, job.Attempt)
	if domain.CodeOf(err) == domain.CodeCircuitOpen {
		// Already rescheduled or recorded.
		return nil
	}
	return err
}

func (e *OrderExecutor) place(ctx context.Context, id string, attempt int) (domain.TradeIntent, error) {
	unlock, err := e.locks.Acquire(ctx, "place:"+id, e.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		e.logger.InfoContext(ctx, "placement already in progress", slog.String("intent_id", id))
		return e.intents.GetIntent(ctx, id)
	}
	if err != nil {
		return domain.TradeIntent{}, fmt.Errorf("order_executor: acquire lock: %w", err)
	}
	defer unlock()

	in, err := e.intents.GetIntent(ctx, id)
	if err != nil {
		return domain.TradeIntent{}, err
	}

	switch in.State {
	case domain.StateDestFunded, domain.StateNeedsRetry:
		// A new placement cycle; any order id left by a failed order is dead.
		none := ""
		in, err = e.intents.transition(ctx, in, domain.StateOrderSubmitting, domain.IntentUpdate{OrderID: &none})
		if err != nil {
			return domain.TradeIntent{}, err
		}
	case domain.StateOrderSubmitting:
		if in.OrderID != "" {
			return e.reuseOrder(ctx, in)
		}
	default:
		return in, nil
	}

	req, err := e.prepare(ctx, in)
	if err != nil {
		return e.fail(ctx, in, err)
	}

	res, err := resilience.Do(ctx, e.policies.Order, func(ctx context.Context) (domain.OrderResult, error) {
		return e.exchange.SubmitOrder(ctx, req)
	})
	if err != nil {
		if domain.CodeOf(err) == domain.CodeCircuitOpen && attempt < e.cfg.MaxPlaceAttempts {
			e.logger.WarnContext(ctx, "exchange circuit open, deferring placement",
				slog.String("intent_id", in.ID),
				slog.Int("attempt", attempt),
			)
			next := scheduler.NewJob(scheduler.KindPlaceOrder, in.ID, attempt+1)
			if serr := e.sched.Schedule(ctx, next, e.cfg.CircuitRetryDelay); serr == nil {
				return in, err
			}
		}
		return e.fail(ctx, in, err)
	}

	e.logger.InfoContext(ctx, "order submitted",
		slog.String("intent_id", in.ID),
		slog.String("order_id", res.OrderID),
		slog.String("status", string(res.Status)),
		slog.String("price", req.Price.String()),
		slog.String("size", req.Size.String()),
	)

	switch res.Status {
	case domain.OrderStatusFilled:
		return e.intents.transition(ctx, in, domain.StateFilled, domain.IntentUpdate{
			OrderID:    &res.OrderID,
			FilledSize: &req.Size,
			AvgPrice:   &req.Price,
		})
	case domain.OrderStatusOpen, domain.OrderStatusPartial:
		out, err := e.intents.transition(ctx, in, domain.StateOrderPlaced, domain.IntentUpdate{OrderID: &res.OrderID})
		if err != nil {
			return domain.TradeIntent{}, err
		}
		e.pollStatus(ctx, out.ID)
		return out, nil
	default:
		msg := res.Message
		if msg == "" {
			msg = "exchange rejected order"
		}
		return e.fail(ctx, in, domain.PermanentError(domain.CodeOrderFailed, msg, domain.ErrInvalidOrder))
	}
}

// reuseOrder finishes a submitting intent that already holds an exchange
// order id from this placement cycle.
func (e *OrderExecutor) reuseOrder(ctx context.Context, in domain.TradeIntent) (domain.TradeIntent, error) {
	out, err := e.intents.transition(ctx, in, domain.StateOrderPlaced, domain.IntentUpdate{})
	if err != nil {
		return domain.TradeIntent{}, err
	}
	e.pollStatus(ctx, out.ID)
	return out, nil
}

func (e *OrderExecutor) pollStatus(ctx context.Context, id string) {
	job := scheduler.NewJob(scheduler.KindOrderStatus, id, 1)
	if err := e.sched.Schedule(ctx, job, e.cfg.StatusFirstPoll); err != nil {
		e.logger.ErrorContext(ctx, "schedule order status failed",
			slog.String("intent_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// fail records cause on the intent and moves it to NEEDS_RETRY.
func (e *OrderExecutor) fail(ctx context.Context, in domain.TradeIntent, cause error) (domain.TradeIntent, error) {
	code, detail := domain.SanitizeError(cause)
	e.logger.WarnContext(ctx, "order placement failed",
		slog.String("intent_id", in.ID),
		slog.String("code", code),
		slog.String("detail", detail),
	)
	update := domain.IntentUpdate{}.WithError(code, detail)
	return e.intents.transition(ctx, in, domain.StateNeedsRetry, update)
}

func (e *OrderExecutor) prepare(ctx context.Context, in domain.TradeIntent) (domain.OrderRequest, error) {
	market, err := e.markets.GetMarket(ctx, in.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderRequest{}, domain.PermanentError("MARKET_NOT_FOUND", "market "+in.MarketID+" not found", err)
		}
		return domain.OrderRequest{}, err
	}
	if !market.Tradable() {
		return domain.OrderRequest{}, domain.PermanentError(domain.CodeMarketClosed,
			"market "+in.MarketID+" is not accepting orders", nil)
	}
	token, err := market.TokenFor(in.Outcome)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	wallet, err := e.wallets.Wallet(ctx, in.UserID)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	key, err := e.wallets.SigningKey(ctx, wallet)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	side := domain.SideFor(in.Action)
	price, err := e.price(ctx, in, token, side)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	size, err := orderSize(in, price)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	if err := e.ensureApprovals(ctx, wallet, key, side, size.Mul(price)); err != nil {
		return domain.OrderRequest{}, err
	}

	return domain.OrderRequest{
		IntentID:   in.ID,
		TokenID:    token,
		NegRisk:    market.NegRisk,
		Side:       side,
		Price:      price,
		Size:       size,
		Signer:     key,
		Funder:     wallet.Address,
		WalletType: wallet.WalletType,
		Immediate:  in.OrderKind != domain.OrderKindLimit,
	}, nil
}

func (e *OrderExecutor) price(ctx context.Context, in domain.TradeIntent, token string, side domain.OrderSide) (decimal.Decimal, error) {
	if in.OrderKind == domain.OrderKindLimit {
		if err := validateLimitPrice(in.LimitPrice); err != nil {
			return decimal.Zero, err
		}
		return in.LimitPrice.Decimal, nil
	}

	book, err := resilience.Do(ctx, e.policies.Market, func(ctx context.Context) (domain.OrderBook, error) {
		return e.exchange.GetOrderBook(ctx, token)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return MarketPrice(book, side, e.cfg.PriceBuffer)
}

// MarketPrice returns the best opposing price moved by buffer toward
// crossing, rounded to the cent and clamped to [0.01, 0.99].
func MarketPrice(book domain.OrderBook, side domain.OrderSide, buffer decimal.Decimal) (decimal.Decimal, error) {
	var (
		best decimal.Decimal
		ok   bool
	)
	if side == domain.OrderSideBuy {
		best, ok = book.BestAsk()
		best = best.Add(buffer)
	} else {
		best, ok = book.BestBid()
		best = best.Sub(buffer)
	}
	if !ok {
		return decimal.Zero, domain.PermanentError(domain.CodeNoLiquidity,
			"no "+oppositeBook(side)+" on token "+book.TokenID, nil)
	}
	p := best.Round(2)
	if p.LessThan(minOrderPrice) {
		p = minOrderPrice
	}
	if p.GreaterThan(maxOrderPrice) {
		p = maxOrderPrice
	}
	return p, nil
}

func oppositeBook(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "asks"
	}
	return "bids"
}

// orderSize is the bridged collateral divided by price for BUY, truncated
// to whole cents of a share, and the requested shares for SELL.
func orderSize(in domain.TradeIntent, price decimal.Decimal) (decimal.Decimal, error) {
	if in.Action == domain.ActionSell {
		if !in.AmountShares.Valid || in.AmountShares.Decimal.Sign() <= 0 {
			return decimal.Zero, domain.PermanentError("INVALID_SIZE", "sell intent has no share amount", nil)
		}
		return in.AmountShares.Decimal, nil
	}

	raw := in.MinDestAmount
	if raw == "" {
		raw = in.ExpectedDestAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.PermanentError("INVALID_SIZE", "no destination amount on intent", err)
	}
	// Collateral has 6 decimals.
	size := amount.Shift(-6).Div(price).Truncate(2)
	if size.Sign() <= 0 {
		return decimal.Zero, domain.PermanentError("INVALID_SIZE", "order size rounds to zero", nil)
	}
	return size, nil
}

func (e *OrderExecutor) ensureApprovals(ctx context.Context, w domain.DestinationWallet, key string, side domain.OrderSide, notional decimal.Decimal) error {
	if e.approvals != nil && e.approvals.Approved(w.Address, side) {
		return nil
	}
	if e.checker == nil {
		return nil
	}

	ok, err := e.checker.HasApprovals(ctx, w.Address, side, notional)
	if err != nil {
		return domain.TransientError(domain.CodeUpstreamUnavailable, err)
	}
	if !ok && e.relayer != nil && w.WalletType != domain.WalletTypeEOA {
		e.logger.InfoContext(ctx, "requesting exchange approvals",
			slog.String("wallet", w.Address),
			slog.String("side", string(side)),
		)
		if err := e.relayer.ApproveExchanges(ctx, w.Address, key, side); err != nil {
			return err
		}
		ok, err = e.checker.HasApprovals(ctx, w.Address, side, notional)
		if err != nil {
			return domain.TransientError(domain.CodeUpstreamUnavailable, err)
		}
	}
	if !ok {
		return domain.PermanentError(domain.CodeInsufficientAllowance,
			"wallet "+w.Address+" has not approved the exchange for "+string(side), nil)
	}
	if e.approvals != nil {
		e.approvals.MarkApproved(w.Address, side)
	}
	return nil
}
