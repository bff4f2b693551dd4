package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/crypto"
	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// RelayerClient talks to the gasless wallet relayer, which deploys smart
// wallets and submits approval transactions paid for by the operator. Each
// request carries the builder credentials and a personal-sign authorization
// from the wallet's derived signing key.
type RelayerClient struct {
	t       transport
	chainID int64
	builder crypto.APICreds
	now     func() time.Time
}

// NewRelayerClient creates a relayer client.
func NewRelayerClient(baseURL string, chainID int64, builder crypto.APICreds) *RelayerClient {
	return &RelayerClient{
		t:       newTransport(baseURL, 5, 5),
		chainID: chainID,
		builder: builder,
		now:     time.Now,
	}
}

type deployRequest struct {
	Owner     string `json:"owner"`
	Signer    string `json:"signer"`
	Type      string `json:"type"`
	ChainID   int64  `json:"chainId"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type deployResponse struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash"`
	State           string `json:"state"`
}

type approveRequest struct {
	Wallet    string   `json:"wallet"`
	Side      string   `json:"side"`
	Spenders  []string `json:"spenders"`
	ChainID   int64    `json:"chainId"`
	Timestamp int64    `json:"timestamp"`
	Signature string   `json:"signature"`
}

// DeployWallet deploys (or returns the already deployed) Safe controlled by
// signerKey for origin address owner.
func (r *RelayerClient) DeployWallet(ctx context.Context, owner, signerKey string) (string, error) {
	signer, err := crypto.NewSigner(signerKey, r.chainID)
	if err != nil {
		return "", domain.PermanentError("WALLET_DEPLOY_FAILED", "invalid signing key", domain.ErrSigningFailed)
	}
	req := deployRequest{
		Owner:     strings.ToLower(owner),
		Signer:    signer.Address().Hex(),
		Type:      "SAFE",
		ChainID:   r.chainID,
		Timestamp: r.now().Unix(),
	}
	req.Signature, err = signer.SignPersonal(fmt.Sprintf("deploy:%s:%s:%d", req.Signer, req.Owner, req.Timestamp))
	if err != nil {
		return "", err
	}

	var resp deployResponse
	if err := r.post(ctx, "/wallets", req, &resp); err != nil {
		return "", fmt.Errorf("polymarket/relayer: deploy wallet: %w", err)
	}
	if resp.Address == "" {
		return "", domain.PermanentError("WALLET_DEPLOY_FAILED", "relayer returned no address", nil)
	}
	return resp.Address, nil
}

// ApproveExchanges grants both exchange variants the allowance side needs:
// collateral for BUY, outcome-token operator rights for SELL.
func (r *RelayerClient) ApproveExchanges(ctx context.Context, wallet, signerKey string, side domain.OrderSide) error {
	signer, err := crypto.NewSigner(signerKey, r.chainID)
	if err != nil {
		return domain.PermanentError(domain.CodeInsufficientAllowance, "invalid signing key", domain.ErrSigningFailed)
	}
	req := approveRequest{
		Wallet:    wallet,
		Side:      string(side),
		Spenders:  []string{crypto.CTFExchange.Hex(), crypto.NegRiskExchange.Hex(), crypto.NegRiskAdapter.Hex()},
		ChainID:   r.chainID,
		Timestamp: r.now().Unix(),
	}
	req.Signature, err = signer.SignPersonal(fmt.Sprintf("approve:%s:%s:%d", strings.ToLower(wallet), side, req.Timestamp))
	if err != nil {
		return err
	}
	path := "/wallets/" + url.PathEscape(wallet) + "/approvals"
	if err := r.post(ctx, path, req, nil); err != nil {
		return fmt.Errorf("polymarket/relayer: approve exchanges: %w", err)
	}
	return nil
}

func (r *RelayerClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	headers := r.builder.L2Headers("", http.MethodPost, path, string(body), r.now().Unix())
	delete(headers, "POLY_ADDRESS")
	resp, err := r.t.do(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp, out)
}

var _ domain.WalletRelayer = (*RelayerClient)(nil)
