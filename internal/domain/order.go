package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// SideFor maps a trade action onto the exchange order side.
func SideFor(a TradeAction) OrderSide {
	if a == ActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus is the normalized exchange order status.
type OrderStatus string

const (
	OrderStatusOpen    OrderStatus = "open"
	OrderStatusPartial OrderStatus = "partial"
	OrderStatusFilled  OrderStatus = "filled"
	OrderStatusFailed  OrderStatus = "failed"
)

// OrderRequest is a fully resolved order ready for submission.
type OrderRequest struct {
	IntentID string
	TokenID  string
	NegRisk  bool
	Side     OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	Signer   string // hex private key of the derived signing key
	Funder   string // destination smart wallet address

	// WalletType selects the exchange signature type for Funder.
	WalletType WalletType

	// Immediate asks for fill-or-kill style execution at Price.
	Immediate bool
}

// OrderResult is the normalized response to an order submission.
type OrderResult struct {
	OrderID string
	Status  OrderStatus
	Message string
}

// OrderState is the normalized fill state of a placed order.
type OrderState struct {
	OrderID    string
	Status     OrderStatus
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
}

// Exchange is the destination-chain order book venue.
type Exchange interface {
	GetMarket(ctx context.Context, marketID string) (Market, error)
	GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID, signer string) (OrderState, error)
	CancelOrder(ctx context.Context, orderID, signer string) error
}

// ApprovalChecker reads on-chain approvals for a wallet.
type ApprovalChecker interface {
	// HasApprovals reports whether wallet has approved every exchange
	// contract for the given side (collateral allowance for BUY, outcome
	// token operator approval for SELL).
	HasApprovals(ctx context.Context, wallet string, side OrderSide, minAllowance decimal.Decimal) (bool, error)
}

// WalletRelayer deploys smart wallets and submits approval transactions
// on the user's behalf.
type WalletRelayer interface {
	DeployWallet(ctx context.Context, owner, signer string) (address string, err error)
	ApproveExchanges(ctx context.Context, wallet, signer string, side OrderSide) error
}
