package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// RiskConfig holds the tunable limits applied to BUY intents before a quote
// is requested.
type RiskConfig struct {
	MinAmountWei   decimal.Decimal
	MaxAmountWei   decimal.Decimal
	MaxSlippageBps int

	// UserRateLimit is the number of intents one user may create per
	// UserRateWindow. Zero disables the check.
	UserRateLimit  int
	UserRateWindow time.Duration
}

// DefaultRiskConfig returns limits of 0.001 to 10 units of an 18-decimal
// origin asset and 5% slippage.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MinAmountWei:   decimal.New(1, 15),
		MaxAmountWei:   decimal.New(1, 19),
		MaxSlippageBps: 500,
		UserRateLimit:  10,
		UserRateWindow: time.Minute,
	}
}

// RiskService provides pre-trade checks so that only sane requests reach the
// bridge.
type RiskService struct {
	limiter domain.RateLimiter
	cfg     RiskConfig
	logger  *slog.Logger
}

// NewRiskService creates a RiskService. limiter may be nil.
func NewRiskService(limiter domain.RateLimiter, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// CheckBuy validates a BUY request and returns the first failed check as a
// validation error.
//
// Checks performed:
//  1. Input amount within [MinAmountWei, MaxAmountWei]
//  2. Slippage within bounds
//  3. Market id and outcome present
//  4. Per-user creation rate
func (s *RiskService) CheckBuy(ctx context.Context, req CreateIntentRequest) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.InputAmountWei))
	if err != nil || !amount.IsInteger() || amount.Sign() <= 0 {
		return domain.ValidationError("INVALID_AMOUNT", "inputAmountWei must be a positive integer")
	}
	if amount.LessThan(s.cfg.MinAmountWei) {
		return domain.ValidationError("AMOUNT_TOO_SMALL",
			fmt.Sprintf("amount %s below minimum %s", amount, s.cfg.MinAmountWei))
	}
	if s.cfg.MaxAmountWei.Sign() > 0 && amount.GreaterThan(s.cfg.MaxAmountWei) {
		s.logger.WarnContext(ctx, "risk_service: amount exceeds limit",
			slog.String("user_id", req.UserID),
			slog.String("amount", amount.String()),
		)
		return domain.ValidationError("AMOUNT_TOO_LARGE",
			fmt.Sprintf("amount %s above maximum %s", amount, s.cfg.MaxAmountWei))
	}

	if req.SlippageBps < 0 || req.SlippageBps > s.cfg.MaxSlippageBps {
		return domain.ValidationError("SLIPPAGE_TOO_HIGH",
			fmt.Sprintf("slippage %d bps outside [0, %d]", req.SlippageBps, s.cfg.MaxSlippageBps))
	}

	if strings.TrimSpace(req.MarketID) == "" {
		return domain.ValidationError("INVALID_MARKET", "marketId is required")
	}
	if req.Outcome != domain.OutcomeYes && req.Outcome != domain.OutcomeNo {
		return domain.ValidationError("INVALID_OUTCOME", "outcome must be YES or NO")
	}

	return s.checkRate(ctx, req.UserID)
}

func (s *RiskService) checkRate(ctx context.Context, userID string) error {
	if s.limiter == nil || s.cfg.UserRateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "intents:"+userID, s.cfg.UserRateLimit, s.cfg.UserRateWindow)
	if err != nil {
		// Limiter outages do not block trading.
		s.logger.WarnContext(ctx, "risk_service: rate limiter unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		return domain.ValidationError("RATE_LIMITED", "too many intents, slow down")
	}
	return nil
}
