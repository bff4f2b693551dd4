package service

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/cache/memory"
	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/resilience"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
	storemem "github.com/alanyoungcy/crosstrade/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- bridge ---

type fakeBridge struct {
	mu         sync.Mutex
	quote      domain.Quote
	quoteErr   error
	quoteCalls int
	status     domain.BridgeStatus
	statusErr  error
}

func (b *fakeBridge) Quote(_ context.Context, _ domain.QuoteRequest) (domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteCalls++
	return b.quote, b.quoteErr
}

func (b *fakeBridge) Status(_ context.Context, _ string) (domain.BridgeStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.statusErr
}

// --- exchange ---

type fakeExchange struct {
	mu          sync.Mutex
	market      domain.Market
	marketErr   error
	marketCalls int
	book        domain.OrderBook
	result      domain.OrderResult
	submitErr   error
	submitted   []domain.OrderRequest
	state       domain.OrderState
	stateErr    error
}

func (e *fakeExchange) GetMarket(_ context.Context, _ string) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marketCalls++
	return e.market, e.marketErr
}

func (e *fakeExchange) GetOrderBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.book
	b.TokenID = tokenID
	return b, nil
}

func (e *fakeExchange) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitErr != nil {
		return domain.OrderResult{}, e.submitErr
	}
	e.submitted = append(e.submitted, req)
	return e.result, nil
}

func (e *fakeExchange) GetOrderStatus(_ context.Context, orderID, _ string) (domain.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	st.OrderID = orderID
	return st, e.stateErr
}

func (e *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }

func (e *fakeExchange) submissions() []domain.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.OrderRequest(nil), e.submitted...)
}

// --- wallet relayer and approvals ---

type fakeRelayer struct {
	mu           sync.Mutex
	address      string
	deployCalls  int
	approveCalls int
	onApprove    func()
}

func (r *fakeRelayer) DeployWallet(context.Context, string, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployCalls++
	return r.address, nil
}

func (r *fakeRelayer) ApproveExchanges(context.Context, string, string, domain.OrderSide) error {
	r.mu.Lock()
	r.approveCalls++
	fn := r.onApprove
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

type fakeChecker struct {
	mu       sync.Mutex
	approved bool
	calls    int
}

func (c *fakeChecker) HasApprovals(context.Context, string, domain.OrderSide, decimal.Decimal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.approved, nil
}

func (c *fakeChecker) approve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approved = true
}

// --- scheduler and sink ---

type scheduledJob struct {
	job   scheduler.Job
	delay time.Duration
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (s *recordingScheduler) Schedule(_ context.Context, job scheduler.Job, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduledJob{job: job, delay: delay})
	return nil
}

func (s *recordingScheduler) last(kind scheduler.Kind) (scheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.jobs) - 1; i >= 0; i-- {
		if s.jobs[i].job.Kind == kind {
			return s.jobs[i], true
		}
	}
	return scheduledJob{}, false
}

func (s *recordingScheduler) count(kind scheduler.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.job.Kind == kind {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Notification
}

func (s *recordingSink) Emit(_ context.Context, intentID, kind string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.Notification{IntentID: intentID, Kind: kind, Payload: payload})
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, n := range s.events {
		out[i] = n.Kind
	}
	return out
}

func (s *recordingSink) notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.events...)
}

// --- harness ---

const (
	testTxHash        = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testWebhookSecret = "hook-secret"
)

type harnessOpts struct {
	relayer      domain.WalletRelayer
	checker      domain.ApprovalChecker
	orderBreaker *resilience.Breaker
}

type harness struct {
	store      *storemem.IntentStore
	walletDB   *storemem.WalletStore
	bridge     *fakeBridge
	exchange   *fakeExchange
	sched      *recordingScheduler
	sink       *recordingSink
	locks      *memory.LockManager
	deriver    *crypto.KeyDeriver
	hooks      *crypto.WebhookSigner
	wallets    *WalletService
	intents    *IntentService
	executor   *OrderExecutor
	reconciler *BridgeReconciler
	poller     *OrderStatusPoller

	ownerKey  *ecdsa.PrivateKey
	owner     string
	signature string
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	logger := testLogger()

	deriver, err := crypto.NewKeyDeriver("server-secret", "crosstrade.test")
	require.NoError(t, err)
	sealer, err := crypto.NewSealer("seal-secret")
	require.NoError(t, err)

	ownerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.SignPersonal(ownerKey, deriver.Message(domain.DerivationV2))
	require.NoError(t, err)

	h := &harness{
		store:    storemem.NewIntentStore(),
		walletDB: storemem.NewWalletStore(),
		bridge: &fakeBridge{
			quote: domain.Quote{
				QuoteID:            "q1",
				RequestID:          "r1",
				OriginTx:           domain.OriginTx{ChainID: 8453, To: "0x00000000000000000000000000000000000000aa", Data: "0x", Value: "1000000000000000000"},
				DestAmountExpected: "10000000",
				DestAmountMin:      "9900000",
			},
			status: domain.BridgeStatus{Status: domain.RelayPending},
		},
		exchange: &fakeExchange{
			market: domain.Market{
				ID:       "m1",
				Outcomes: [2]string{"Yes", "No"},
				TokenIDs: [2]string{"tok-yes", "tok-no"},
				Status:   domain.MarketStatusActive,
			},
			book: domain.OrderBook{
				Bids: []domain.PriceLevel{{Price: dec("0.48"), Size: dec("100")}},
				Asks: []domain.PriceLevel{{Price: dec("0.50"), Size: dec("100")}},
			},
			result: domain.OrderResult{OrderID: "o1", Status: domain.OrderStatusFilled},
		},
		sched:     &recordingScheduler{},
		sink:      &recordingSink{},
		locks:     memory.NewLockManager(),
		deriver:   deriver,
		hooks:     crypto.NewWebhookSigner(testWebhookSecret),
		ownerKey:  ownerKey,
		owner:     ethcrypto.PubkeyToAddress(ownerKey.PublicKey).Hex(),
		signature: sig,
	}

	policies := Policies{
		Quote:       resilience.Policy{Name: "quote"},
		BridgeStat:  resilience.Policy{Name: "bridge_status"},
		Order:       resilience.Policy{Name: "order", Breaker: opts.orderBreaker},
		OrderStatus: resilience.Policy{Name: "order_status"},
		Market:      resilience.Policy{Name: "market"},
	}

	h.wallets = NewWalletService(h.walletDB, deriver, sealer, opts.relayer, nil, logger)
	risk := NewRiskService(memory.NewRateLimiter(time.Minute), DefaultRiskConfig(), logger)
	markets := NewMarketService(memory.NewMarketCache(time.Minute, 100), nil, h.exchange, policies.Market, logger)

	h.intents = NewIntentService(h.store, h.wallets, risk, h.bridge, h.sched, h.sink, sealer,
		NewTimingTracer(time.Hour, logger), policies,
		IntentConfig{DestinationChainID: 137, DestinationCurrency: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174"},
		logger)
	h.executor = NewOrderExecutor(h.intents, markets, h.exchange, h.wallets,
		memory.NewApprovalCache(time.Hour), opts.checker, opts.relayer, h.locks, h.sched,
		policies, DefaultOrderConfig(), logger)
	h.intents.SetOrderPlacer(h.executor)
	h.reconciler = NewBridgeReconciler(h.intents, h.bridge, h.executor, h.sched, h.hooks,
		policies.BridgeStat, DefaultBridgePollConfig(), logger)
	h.poller = NewOrderStatusPoller(h.intents, h.exchange, h.wallets, h.sched,
		policies.OrderStatus, DefaultOrderPollConfig(), logger)
	return h
}

func (h *harness) buyRequest() CreateIntentRequest {
	return CreateIntentRequest{
		UserID:         "user-1",
		OwnerAddress:   h.owner,
		Signature:      h.signature,
		MarketID:       "m1",
		Outcome:        domain.OutcomeYes,
		Action:         domain.ActionBuy,
		OriginChainID:  8453,
		OriginCurrency: "0x0000000000000000000000000000000000000000",
		InputAmountWei: "1000000000000000000",
		SlippageBps:    100,
	}
}

func (h *harness) sellRequest() CreateIntentRequest {
	return CreateIntentRequest{
		UserID:       "user-1",
		OwnerAddress: h.owner,
		Signature:    h.signature,
		MarketID:     "m1",
		Outcome:      domain.OutcomeNo,
		Action:       domain.ActionSell,
		AmountShares: decimal.NewNullDecimal(dec("5")),
		OrderKind:    domain.OrderKindLimit,
		LimitPrice:   decimal.NewNullDecimal(dec("0.40")),
	}
}

// submitted creates a BUY intent and records its origin transaction.
func (h *harness) submitted(t *testing.T) domain.TradeIntent {
	t.Helper()
	ctx := context.Background()
	in, err := h.intents.CreateIntent(ctx, h.buyRequest())
	require.NoError(t, err)
	in, err = h.intents.UpdateOriginTxHash(ctx, in.ID, testTxHash, "0xorigin-sig")
	require.NoError(t, err)
	return in
}

// funded creates a BUY intent and moves it to DEST_FUNDED.
func (h *harness) funded(t *testing.T) domain.TradeIntent {
	t.Helper()
	in := h.submitted(t)
	out, applied, err := h.intents.HandleRelayExecution(context.Background(), in.ID, "0xdest")
	require.NoError(t, err)
	require.True(t, applied)
	return out
}

func (h *harness) eventTypes(t *testing.T, id string) []string {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
