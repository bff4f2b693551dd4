// Package app provides the top-level application lifecycle for the crosstrade
// engine. It wires together stores, caches, platform clients, services, the
// job scheduler and notifications, and starts the goroutines the configured
// mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/config"
	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/metrics"
	"github.com/alanyoungcy/crosstrade/internal/notify"
	"github.com/alanyoungcy/crosstrade/internal/platform/chain"
	"github.com/alanyoungcy/crosstrade/internal/platform/polymarket"
	"github.com/alanyoungcy/crosstrade/internal/platform/relay"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
	"github.com/alanyoungcy/crosstrade/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("scheduler", a.cfg.Scheduler.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	rt, err := a.build(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: build services: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "api":
		return a.APIMode(ctx, deps, rt)
	case "worker":
		return a.WorkerMode(ctx, deps, rt)
	case "full":
		return a.FullMode(ctx, deps, rt)
	case "dev":
		return a.DevMode(ctx, deps, rt)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runtime is the service graph shared by every mode.
type runtime struct {
	metrics *metrics.Metrics
	events  *notify.Dispatcher
	jobs    *scheduler.Dispatcher
	timer   *scheduler.TimerScheduler
	tracer  *service.TimingTracer

	intents    *service.IntentService
	reconciler *service.BridgeReconciler
	executor   *service.OrderExecutor
	poller     *service.OrderStatusPoller
}

// build constructs the platform clients and services on top of deps and
// registers the job handlers.
func (a *App) build(ctx context.Context, deps *Dependencies) (*runtime, error) {
	cfg := a.cfg
	m := metrics.New()

	deriver, err := crypto.NewKeyDeriver(cfg.Security.ServerSecret, cfg.Security.KeyDomain)
	if err != nil {
		return nil, fmt.Errorf("key deriver: %w", err)
	}
	sealer, err := crypto.NewSealer(cfg.Security.SealSecret)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	hooks := crypto.NewWebhookSigner(cfg.Relay.WebhookSecret)

	// Notifications.
	events := notify.NewDispatcher(notify.DispatcherConfig{
		Buffer:  cfg.Notify.Buffer,
		Workers: cfg.Notify.Workers,
	}, a.logger)
	events.OnDrop(m.NotificationDropped)
	events.Subscribe(notify.NewBusPublisher(deps.SignalBus))
	events.Subscribe(notify.NewAlerter(a.senders(), deps.SignalBus, cfg.Notify.Events, a.logger))
	events.Subscribe(notify.NewAuditRecorder(deps.AuditStore))
	events.Subscribe(service.NewReferralRecorder(deps.ReferralStore))

	// Scheduler. The timer backend always exists: it is the whole scheduler
	// for the memory backend and the fallback for the Redis queue.
	jobs := scheduler.NewDispatcher(a.logger)
	jobs.SetObserver(m.ObserveJob)
	timer := scheduler.NewTimerScheduler(jobs, a.logger)
	var sched scheduler.Scheduler = timer
	if deps.Queue != nil {
		sched = scheduler.NewFallback(deps.Queue, timer, a.logger)
	}

	// Platform clients.
	bridge := relay.NewClient(cfg.Relay.BaseURL, cfg.Relay.APIKey, cfg.Relay.RPS)
	clob := polymarket.NewClobClient(cfg.Exchange.ClobHost, cfg.Chain.ChainID, cfg.Exchange.RPS, deps.Credentials, a.logger)
	gamma := polymarket.NewGammaClient(cfg.Exchange.GammaHost, cfg.Exchange.RPS)
	exchange := polymarket.NewExchange(clob, gamma)

	var (
		checker  domain.ApprovalChecker
		deployed service.DeploymentChecker
		relayer  domain.WalletRelayer
	)
	if cfg.Chain.RPCURL != "" {
		reader, eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			a.logger.WarnContext(ctx, "chain reader unavailable, approval and deployment checks disabled",
				slog.String("error", err.Error()),
			)
		} else {
			a.closers = append(a.closers, eth.Close)
			checker, deployed = reader, reader
		}
	}
	if cfg.WalletRelayer.Enabled {
		relayer = polymarket.NewRelayerClient(cfg.WalletRelayer.BaseURL, cfg.Chain.ChainID, crypto.APICreds{
			Key:        cfg.WalletRelayer.BuilderKey,
			Secret:     cfg.WalletRelayer.BuilderSecret,
			Passphrase: cfg.WalletRelayer.BuilderPassphrase,
		})
	}

	// Services.
	policies := service.NewPolicies(policyConfig(cfg.Resilience), m.ObserveCall, m.BreakerOption())
	riskCfg, err := riskConfig(cfg.Risk)
	if err != nil {
		return nil, err
	}
	risk := service.NewRiskService(deps.RateLimiter, riskCfg, a.logger)
	wallets := service.NewWalletService(deps.WalletStore, deriver, sealer, relayer, deployed, a.logger)
	markets := service.NewMarketService(deps.LocalMarkets, deps.SharedMarkets, exchange, policies.Market, a.logger)
	tracer := service.NewTimingTracer(2*time.Hour, a.logger)

	intents := service.NewIntentService(
		deps.IntentStore, wallets, risk, bridge, sched, events, sealer, tracer, policies,
		service.IntentConfig{
			DestinationChainID:  cfg.Chain.ChainID,
			DestinationCurrency: cfg.Chain.DestinationCurrency,
			RelayFirstPoll:      cfg.Relay.FirstPoll.Duration,
		},
		a.logger,
	).WithTransitionObserver(m.ObserveTransition)

	priceBuffer, err := decimal.NewFromString(cfg.Orders.PriceBuffer)
	if err != nil {
		return nil, fmt.Errorf("orders.price_buffer: %w", err)
	}
	executor := service.NewOrderExecutor(
		intents, markets, exchange, wallets, deps.Approvals, checker, relayer,
		deps.LockManager, sched, policies,
		service.OrderConfig{
			PriceBuffer:       priceBuffer,
			LockTTL:           cfg.Orders.LockTTL.Duration,
			CircuitRetryDelay: cfg.Orders.CircuitRetryDelay.Duration,
			MaxPlaceAttempts:  cfg.Orders.MaxPlaceAttempts,
			StatusFirstPoll:   cfg.Orders.StatusFirstPoll.Duration,
		},
		a.logger,
	)
	intents.SetOrderPlacer(executor)

	reconciler := service.NewBridgeReconciler(
		intents, bridge, executor, sched, hooks, policies.BridgeStat,
		service.BridgePollConfig{
			Interval:    cfg.Relay.PollInterval.Duration,
			MaxAttempts: cfg.Relay.MaxPolls,
		},
		a.logger,
	)
	poller := service.NewOrderStatusPoller(
		intents, exchange, wallets, sched, policies.OrderStatus,
		service.OrderPollConfig{
			Base:        cfg.Orders.StatusBase.Duration,
			Max:         cfg.Orders.StatusMax.Duration,
			MaxAttempts: cfg.Orders.StatusMaxAttempts,
		},
		a.logger,
	)

	jobs.Register(scheduler.KindRelayStatus, reconciler.HandleJob)
	jobs.Register(scheduler.KindPlaceOrder, executor.HandleJob)
	jobs.Register(scheduler.KindOrderStatus, poller.HandleJob)

	return &runtime{
		metrics:    m,
		events:     events,
		jobs:       jobs,
		timer:      timer,
		tracer:     tracer,
		intents:    intents,
		reconciler: reconciler,
		executor:   executor,
		poller:     poller,
	}, nil
}

// senders returns the configured operator alert channels.
func (a *App) senders() []notify.Sender {
	var out []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	return out
}

func policyConfig(c config.ResilienceConfig) service.PolicyConfig {
	pc := service.DefaultPolicyConfig()
	pc.Breaker.Window = c.BreakerWindow.Duration
	pc.Breaker.VolumeThreshold = c.BreakerVolume
	pc.Breaker.ErrorPercent = c.BreakerErrorPercent
	pc.Breaker.ResetTimeout = c.BreakerReset.Duration
	pc.Retry.MaxAttempts = c.RetryMaxAttempts
	pc.Retry.Initial = c.RetryInitial.Duration
	pc.Retry.MaxDelay = c.RetryMaxDelay.Duration
	if c.QuoteTimeout.Duration > 0 {
		pc.QuoteTimeout = c.QuoteTimeout.Duration
	}
	if c.StatusTimeout.Duration > 0 {
		pc.StatusTimeout = c.StatusTimeout.Duration
	}
	if c.OrderTimeout.Duration > 0 {
		pc.OrderTimeout = c.OrderTimeout.Duration
	}
	return pc
}

func riskConfig(c config.RiskConfig) (service.RiskConfig, error) {
	minWei, err := decimal.NewFromString(c.MinAmountWei)
	if err != nil {
		return service.RiskConfig{}, fmt.Errorf("risk.min_amount_wei: %w", err)
	}
	maxWei, err := decimal.NewFromString(c.MaxAmountWei)
	if err != nil {
		return service.RiskConfig{}, fmt.Errorf("risk.max_amount_wei: %w", err)
	}
	return service.RiskConfig{
		MinAmountWei:   minWei,
		MaxAmountWei:   maxWei,
		MaxSlippageBps: c.MaxSlippageBps,
		UserRateLimit:  c.UserRateLimit,
		UserRateWindow: c.UserRateWindow.Duration,
	}, nil
}
