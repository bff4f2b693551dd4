// Package polymarket is the exchange provider client: the CLOB for books and
// orders, Gamma for market metadata and the builder relayer for smart-wallet
// deployment and approvals. Responses are normalized to domain types here.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

type transport struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newTransport(baseURL string, rps float64, burst int) transport {
	t := transport{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

// do sends method path with an optional JSON body and headers, returning the
// raw body of a 2xx response.
func (t transport) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (t transport) getJSON(ctx context.Context, path string, headers map[string]string, out any) error {
	body, err := t.do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes onto the error taxonomy. Server
// errors are transient; other client errors are permanent.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
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
		return domain.PermanentError("UPSTREAM_REJECTED", fmt.Sprintf("HTTP %d: %s", statusCode, msg), nil)
	}
}
