package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// BusPublisher republishes notifications on the intent's signal bus channel,
// where every API instance's WebSocket hub picks them up.
type BusPublisher struct {
	bus domain.SignalBus
}

// NewBusPublisher creates a BusPublisher.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (p *BusPublisher) Name() string { return "signal_bus" }

// Handle implements Subscriber.
func (p *BusPublisher) Handle(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal notification: %w", err)
	}
	return p.bus.Publish(ctx, domain.IntentChannel(n.IntentID), data)
}

// Alert classes an operator can enable.
const (
	AlertFailed        = "failed"
	AlertNeedsRetry    = "needs_retry"
	AlertPollExhausted = "poll_exhausted"
)

// Alerter turns failure notifications into operator alerts. Alerts are
// appended to the durable alert stream when a bus is configured and sent to
// every Sender.
type Alerter struct {
	senders []Sender
	bus     domain.SignalBus
	enabled map[string]bool
	logger  *slog.Logger
}

// NewAlerter creates an Alerter. Only alert classes listed in enabled are
// delivered; an empty list enables all of them.
func NewAlerter(senders []Sender, bus domain.SignalBus, enabled []string, logger *slog.Logger) *Alerter {
	allowed := make(map[string]bool, len(enabled))
	for _, e := range enabled {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Alerter{
		senders: senders,
		bus:     bus,
		enabled: allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

func (a *Alerter) Name() string { return "alerter" }

// Handle implements Subscriber.
func (a *Alerter) Handle(ctx context.Context, n domain.Notification) error {
	class, alert, ok := classify(n)
	if !ok {
		return nil
	}
	if len(a.enabled) > 0 && !a.enabled[class] {
		a.logger.DebugContext(ctx, "alert filtered out", slog.String("class", class))
		return nil
	}

	var errs []error
	if a.bus != nil {
		data, err := json.Marshal(map[string]any{
			"intentId": n.IntentID,
			"class":    class,
			"title":    alert.Title,
			"body":     alert.Body,
			"severity": alert.Severity,
			"at":       n.Timestamp,
		})
		if err == nil {
			err = a.bus.StreamAppend(ctx, domain.AlertStream, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("alert stream: %w", err))
		}
	}
	for _, s := range a.senders {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		a.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("intent_id", n.IntentID),
		)
	}
	return errors.Join(errs...)
}

func classify(n domain.Notification) (string, Alert, bool) {
	str := func(k string) string {
		v, _ := n.Payload[k].(string)
		return v
	}
	switch n.Kind {
	case domain.EventStateChanged:
		switch domain.IntentState(str("to")) {
		case domain.StateFailed:
			return AlertFailed, Alert{
				Title:    "Intent failed",
				Body:     fmt.Sprintf("intent %s failed from %s: %s %s", n.IntentID, str("from"), str("errorCode"), str("errorDetail")),
				Severity: SeverityCritical,
			}, true
		case domain.StateNeedsRetry:
			return AlertNeedsRetry, Alert{
				Title:    "Order needs retry",
				Body:     fmt.Sprintf("intent %s: %s %s", n.IntentID, str("errorCode"), str("errorDetail")),
				Severity: SeverityWarning,
			}, true
		}
	case domain.EventRelayPollExhausted, domain.EventOrderPollExhausted:
		return AlertPollExhausted, Alert{
			Title:    "Polling exhausted",
			Body:     fmt.Sprintf("intent %s: %s after %v attempts (state %s)", n.IntentID, n.Kind, n.Payload["attempts"], str("state")),
			Severity: SeverityWarning,
		}, true
	}
	return "", Alert{}, false
}

// AuditRecorder copies every notification into the operational audit log.
type AuditRecorder struct {
	store domain.AuditStore
}

// NewAuditRecorder creates an AuditRecorder.
func NewAuditRecorder(store domain.AuditStore) *AuditRecorder {
	return &AuditRecorder{store: store}
}

func (r *AuditRecorder) Name() string { return "audit" }

// Handle implements Subscriber.
func (r *AuditRecorder) Handle(ctx context.Context, n domain.Notification) error {
	detail := make(map[string]any, len(n.Payload)+1)
	for k, v := range n.Payload {
		detail[k] = v
	}
	detail["intentId"] = n.IntentID
	return r.store.Log(ctx, n.Kind, detail)
}
