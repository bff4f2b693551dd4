// Package memory is an in-process implementation of the persistence
// interfaces, used by tests and dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/lifecycle"
)

// IntentStore keeps intents and their events in maps.
type IntentStore struct {
	mu      sync.RWMutex
	intents map[string]domain.TradeIntent
	events  map[string][]domain.IntentEvent
}

var _ domain.IntentStore = (*IntentStore)(nil)

// NewIntentStore returns an empty IntentStore.
func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents: make(map[string]domain.TradeIntent),
		events:  make(map[string][]domain.IntentEvent),
	}
}

func now() time.Time { return time.Now().UTC() }

// Create implements domain.IntentStore.
func (s *IntentStore) Create(_ context.Context, intent domain.TradeIntent, event domain.IntentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if intent.ClientRequestID != "" {
		for _, existing := range s.intents {
			if existing.ClientRequestID == intent.ClientRequestID {
				return domain.ErrAlreadyExists
			}
		}
	}
	now := now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	s.intents[intent.ID] = intent
	s.appendEventLocked(intent.ID, event)
	return nil
}

// GetByID implements domain.IntentStore.
func (s *IntentStore) GetByID(_ context.Context, id string) (domain.TradeIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intents[id]
	if !ok {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	return in, nil
}

// GetByClientRequestID implements domain.IntentStore.
func (s *IntentStore) GetByClientRequestID(_ context.Context, clientRequestID string) (domain.TradeIntent, error) {
	return s.find(func(in domain.TradeIntent) bool {
		return clientRequestID != "" && in.ClientRequestID == clientRequestID
	})
}

// GetByRelayID implements domain.IntentStore.
func (s *IntentStore) GetByRelayID(_ context.Context, relayID string) (domain.TradeIntent, error) {
	return s.find(func(in domain.TradeIntent) bool {
		return relayID != "" && (in.RelayQuoteID == relayID || in.RelayRequestID == relayID)
	})
}

// GetByOrderID implements domain.IntentStore.
func (s *IntentStore) GetByOrderID(_ context.Context, orderID string) (domain.TradeIntent, error) {
	return s.find(func(in domain.TradeIntent) bool {
		return orderID != "" && in.OrderID == orderID
	})
}

func (s *IntentStore) find(match func(domain.TradeIntent) bool) (domain.TradeIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.intents {
		if match(in) {
			return in, nil
		}
	}
	return domain.TradeIntent{}, domain.ErrNotFound
}

// Transition implements domain.IntentStore with compare-and-set semantics.
func (s *IntentStore) Transition(_ context.Context, id string, from, to domain.IntentState, update domain.IntentUpdate, event domain.IntentEvent) (domain.TradeIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	if in.State != from {
		return in, domain.ErrStateConflict
	}
	update.Apply(&in)
	in.State = to
	in.UpdatedAt = now()
	s.intents[id] = in
	s.appendEventLocked(id, event)
	return in, nil
}

// Patch implements domain.IntentStore.
func (s *IntentStore) Patch(_ context.Context, id string, update domain.IntentUpdate, event domain.IntentEvent) (domain.TradeIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return domain.TradeIntent{}, domain.ErrNotFound
	}
	update.Apply(&in)
	in.UpdatedAt = now()
	s.intents[id] = in
	if event.Type != "" {
		s.appendEventLocked(id, event)
	}
	return in, nil
}

func (s *IntentStore) appendEventLocked(id string, event domain.IntentEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now()
	}
	event.IntentID = id
	s.events[id] = append(s.events[id], event)
}

// ListEvents implements domain.IntentStore.
func (s *IntentStore) ListEvents(_ context.Context, intentID string) ([]domain.IntentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IntentEvent, len(s.events[intentID]))
	copy(out, s.events[intentID])
	return out, nil
}

// ListTerminal implements domain.IntentStore.
func (s *IntentStore) ListTerminal(_ context.Context, opts domain.ListOpts) ([]domain.TradeIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TradeIntent
	for _, in := range s.intents {
		if !lifecycle.IsTerminal(in.State) {
			continue
		}
		if opts.Since != nil && in.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !in.UpdatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

