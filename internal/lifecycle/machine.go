// Package lifecycle validates trade-intent state transitions against a fixed
// adjacency table.
package lifecycle

import (
	"fmt"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

var transitions = map[domain.IntentState][]domain.IntentState{
	domain.StateCreated: {
		domain.StateWalletDeploying,
		domain.StateWalletReady,
		domain.StateRelayQuoted,
		domain.StateFailed,
		domain.StateCancelled,
	},
	domain.StateWalletDeploying: {
		domain.StateWalletReady,
		domain.StateRelayQuoted,
		domain.StateFailed,
	},
	domain.StateWalletReady: {
		domain.StateRelayQuoted,
		domain.StateFailed,
		domain.StateCancelled,
	},
	domain.StateRelayQuoted: {
		domain.StateOriginTxSubmitted,
		domain.StateFailed,
		domain.StateCancelled,
	},
	// DEST_FUNDED is reachable directly for bridges that never report an
	// intermediate executing status.
	domain.StateOriginTxSubmitted: {
		domain.StateRelayExecuting,
		domain.StateDestFunded,
		domain.StateFailed,
	},
	domain.StateRelayExecuting: {
		domain.StateDestFunded,
		domain.StateFailed,
	},
	domain.StateDestFunded: {
		domain.StateOrderSubmitting,
		domain.StateNeedsRetry,
	},
	domain.StateOrderSubmitting: {
		domain.StateOrderPlaced,
		domain.StateFilled,
		domain.StateNeedsRetry,
	},
	domain.StateOrderPlaced: {
		domain.StateFilled,
		domain.StatePartialFill,
		domain.StateNeedsRetry,
	},
	domain.StateNeedsRetry: {
		domain.StateOrderSubmitting,
		domain.StateFailed,
	},
	domain.StateFilled:      nil,
	domain.StatePartialFill: nil,
	domain.StateFailed:      nil,
	domain.StateCancelled:   nil,
}

// States returns every known state.
func States() []domain.IntentState {
	out := make([]domain.IntentState, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	return out
}

// Targets returns the states reachable in one step from s.
func Targets(s domain.IntentState) []domain.IntentState {
	t := transitions[s]
	out := make([]domain.IntentState, len(t))
	copy(out, t)
	return out
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to domain.IntentState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition returns to when from -> to is allowed and fails closed with
// domain.ErrInvalidTransition otherwise.
func Transition(from, to domain.IntentState, intentID string) (domain.IntentState, error) {
	if !CanTransition(from, to) {
		return from, domain.StateError("INVALID_TRANSITION",
			fmt.Sprintf("intent %s cannot move from %s to %s", intentID, from, to),
			domain.ErrInvalidTransition)
	}
	return to, nil
}

// IsTerminal reports whether s accepts no further state changes.
func IsTerminal(s domain.IntentState) bool {
	switch s {
	case domain.StateFilled, domain.StatePartialFill, domain.StateFailed, domain.StateCancelled:
		return true
	}
	return false
}

// CanRetry reports whether order placement may be re-attempted from s.
func CanRetry(s domain.IntentState) bool {
	return s == domain.StateNeedsRetry || s == domain.StateDestFunded
}
