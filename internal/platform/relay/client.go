// Package relay is the bridge provider client. It quotes cross-chain routes
// and reports request status, normalized to domain types.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// Client is the REST client for the bridge relay API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a relay client; rps <= 0 disables client-side limiting.
func NewClient(baseURL, apiKey string, rps float64) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return c
}

// Quote requests an exact-input route from origin to destination.
func (c *Client) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	body, err := json.Marshal(APIQuoteRequest{
		User:                req.Sender,
		Recipient:           req.Recipient,
		OriginChainID:       req.OriginChainID,
		DestinationChainID:  req.DestinationChainID,
		OriginCurrency:      req.OriginCurrency,
		DestinationCurrency: req.DestinationCurrency,
		Amount:              req.Amount,
		TradeType:           "EXACT_INPUT",
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("relay: marshal quote: %w", err)
	}

	var q APIQuote
	if err := c.do(ctx, http.MethodPost, "/quote", body, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("relay: quote: %w", err)
	}
	return q.toDomain()
}

// Status returns the normalized status of a bridge request.
func (c *Client) Status(ctx context.Context, requestID string) (domain.BridgeStatus, error) {
	var s APIStatus
	path := "/intents/status/v2?requestId=" + url.QueryEscape(requestID)
	if err := c.do(ctx, http.MethodGet, path, nil, &s); err != nil {
		return domain.BridgeStatus{}, fmt.Errorf("relay: status %s: %w", requestID, err)
	}
	return domain.BridgeStatus{
		Status:      domain.RelayStatus(s.Status),
		InTxHashes:  s.InTxHashes,
		OutTxHashes: s.TxHashes,
		Error:       s.Details,
	}, nil
}

// toDomain picks the first deposit transaction as the origin payload.
func (q APIQuote) toDomain() (domain.Quote, error) {
	for _, step := range q.Steps {
		for _, item := range step.Items {
			if item.Data.To == "" {
				continue
			}
			return domain.Quote{
				QuoteID:   step.RequestID,
				RequestID: step.RequestID,
				OriginTx: domain.OriginTx{
					ChainID: item.Data.ChainID,
					To:      item.Data.To,
					Data:    item.Data.Data,
					Value:   item.Data.Value,
				},
				DestAmountExpected: q.Details.CurrencyOut.Amount,
				DestAmountMin:      q.Details.CurrencyOut.MinimumAmount,
			}, nil
		}
	}
	return domain.Quote{}, domain.PermanentError("QUOTE_UNAVAILABLE", "quote has no origin transaction", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if len(body) > 512 {
		body = body[:512]
	}
	msg := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return domain.TransientError(domain.CodeUpstreamUnavailable,
			fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, statusCode, msg))
	default:
		return domain.PermanentError("QUOTE_REJECTED", fmt.Sprintf("HTTP %d: %s", statusCode, msg), nil)
	}
}

var _ domain.BridgeProvider = (*Client)(nil)
