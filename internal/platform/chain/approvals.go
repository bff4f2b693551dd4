// Package chain reads destination-chain state: collateral allowances,
// outcome-token operator approvals and smart-wallet deployment.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Polygon token contracts.
var (
	USDCe             = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	ConditionalTokens = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
)

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

const erc1155ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

// Caller is the subset of an Ethereum client used for reads.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Reader implements domain.ApprovalChecker against a JSON-RPC node.
type Reader struct {
	caller     Caller
	erc20      abi.ABI
	erc1155    abi.ABI
	collateral common.Address
	ctf        common.Address
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial: %w", err)
	}
	r, err := NewReader(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r, client, nil
}

// NewReader wraps caller.
func NewReader(caller Caller) (*Reader, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}
	erc1155, err := abi.JSON(strings.NewReader(erc1155ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc1155 abi: %w", err)
	}
	return &Reader{
		caller:     caller,
		erc20:      erc20,
		erc1155:    erc1155,
		collateral: USDCe,
		ctf:        ConditionalTokens,
	}, nil
}

// spenders are the contracts that move funds for an order on either
// exchange variant.
func spenders(side domain.OrderSide) []common.Address {
	if side == domain.OrderSideSell {
		return []common.Address{crypto.CTFExchange, crypto.NegRiskExchange, crypto.NegRiskAdapter}
	}
	return []common.Address{crypto.CTFExchange, crypto.NegRiskExchange}
}

// HasApprovals reports whether wallet can trade side on both exchanges. BUY
// needs a collateral allowance of at least minAllowance (in USDC) per
// spender; SELL needs operator approval on the outcome tokens.
func (r *Reader) HasApprovals(ctx context.Context, wallet string, side domain.OrderSide, minAllowance decimal.Decimal) (bool, error) {
	if !common.IsHexAddress(wallet) {
		return false, domain.ValidationError("INVALID_ADDRESS", "wallet is not an address")
	}
	owner := common.HexToAddress(wallet)
	need := minAllowance.Shift(6).BigInt()

	for _, spender := range spenders(side) {
		if side == domain.OrderSideSell {
			ok, err := r.IsApprovedForAll(ctx, owner, spender)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		have, err := r.Allowance(ctx, owner, spender)
		if err != nil {
			return false, err
		}
		if have.Cmp(need) < 0 {
			return false, nil
		}
	}
	return true, nil
}

// Allowance returns the collateral allowance owner granted spender.
func (r *Reader) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	data, err := r.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.collateral, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: allowance call: %w", err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("chain: invalid allowance response length %d", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// IsApprovedForAll reports whether operator may move owner's outcome tokens.
func (r *Reader) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	data, err := r.erc1155.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("chain: pack isApprovedForAll: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.ctf, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("chain: isApprovedForAll call: %w", err)
	}
	if len(out) < 32 {
		return false, fmt.Errorf("chain: invalid isApprovedForAll response length %d", len(out))
	}
	return new(big.Int).SetBytes(out[:32]).Sign() != 0, nil
}

// IsDeployed reports whether a contract exists at address.
func (r *Reader) IsDeployed(ctx context.Context, address string) (bool, error) {
	code, err := r.caller.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return false, fmt.Errorf("chain: code at %s: %w", address, err)
	}
	return len(code) > 0, nil
}

var _ domain.ApprovalChecker = (*Reader)(nil)
