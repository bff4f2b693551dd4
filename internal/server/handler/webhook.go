package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Relay-Signature"

// WebhookReceiver applies a signed bridge status callback.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (domain.TradeIntent, error)
}

// WebhookHandler accepts bridge provider callbacks.
type WebhookHandler struct {
	receiver WebhookReceiver
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(receiver WebhookReceiver, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logHandler(logger, "webhooks")}
}

// Relay verifies and applies a bridge status update. The body is read raw
// so the signature covers exactly the bytes that were sent.
// POST /api/webhooks/relay
func (h *WebhookHandler) Relay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, h.logger, domain.ValidationError("INVALID_BODY", err.Error()))
		return
	}

	in, err := h.receiver.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.logger.WarnContext(r.Context(), "relay webhook rejected",
			slog.String("code", domain.CodeOf(err)),
		)
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"intentId": in.ID,
		"state":    in.State,
	})
}
