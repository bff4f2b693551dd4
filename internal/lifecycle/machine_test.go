package lifecycle

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionRejectsEverythingOutsideTable(t *testing.T) {
	for _, from := range States() {
		for _, to := range States() {
			allowed := CanTransition(from, to)
			got, err := Transition(from, to, "i1")
			if allowed {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
			assert.Equal(t, from, got)
		}
	}
}

func TestTerminalStatesHaveNoTargets(t *testing.T) {
	terminal := []domain.IntentState{
		domain.StateFilled, domain.StatePartialFill, domain.StateFailed, domain.StateCancelled,
	}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s))
		assert.Empty(t, Targets(s), s)
	}
	assert.False(t, IsTerminal(domain.StateOrderPlaced))
}

func TestCanRetry(t *testing.T) {
	for _, s := range States() {
		want := s == domain.StateNeedsRetry || s == domain.StateDestFunded
		assert.Equal(t, want, CanRetry(s), s)
	}
}

func TestSelectedEdges(t *testing.T) {
	cases := []struct {
		from, to domain.IntentState
		ok       bool
	}{
		{domain.StateOriginTxSubmitted, domain.StateDestFunded, true},
		{domain.StateOriginTxSubmitted, domain.StateRelayExecuting, true},
		{domain.StateRelayExecuting, domain.StateRelayExecuting, false},
		{domain.StateDestFunded, domain.StateDestFunded, false},
		{domain.StateNeedsRetry, domain.StateOrderSubmitting, true},
		{domain.StateOrderPlaced, domain.StatePartialFill, true},
		{domain.StateRelayQuoted, domain.StateDestFunded, false},
		{domain.StateCreated, domain.StateOrderSubmitting, false},
	}
	for _, c := range cases {
		t.Run(string(c.from)+"->"+string(c.to), func(t *testing.T) {
			assert.Equal(t, c.ok, CanTransition(c.from, c.to))
		})
	}
}

func TestEveryStateReachableFromCreated(t *testing.T) {
	seen := map[domain.IntentState]bool{domain.StateCreated: true}
	queue := []domain.IntentState{domain.StateCreated}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, n := range Targets(s) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	assert.Len(t, seen, len(States()))
}

func TestTargetsReturnsCopy(t *testing.T) {
	ts := Targets(domain.StateCreated)
	ts[0] = domain.StateFilled
	assert.False(t, CanTransition(domain.StateCreated, domain.StateFilled))
}
