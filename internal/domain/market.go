package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is the exchange's metadata for a binary prediction market.
type Market struct {
	ID          string
	Question    string
	Slug        string
	Outcomes    [2]string // e.g. ["Yes","No"]
	TokenIDs    [2]string // ERC-1155 token IDs, same order as Outcomes
	ConditionID string
	NegRisk     bool
	Status      MarketStatus
	UpdatedAt   time.Time
}

// TokenFor returns the token id trading the given outcome.
func (m Market) TokenFor(o Outcome) (string, error) {
	for i, name := range m.Outcomes {
		if outcomeMatches(name, o) && m.TokenIDs[i] != "" {
			return m.TokenIDs[i], nil
		}
	}
	// Fall back to positional order when outcome labels are not Yes/No.
	switch {
	case o == OutcomeYes && m.TokenIDs[0] != "":
		return m.TokenIDs[0], nil
	case o == OutcomeNo && m.TokenIDs[1] != "":
		return m.TokenIDs[1], nil
	}
	return "", PermanentError(CodeTokenNotFound, "no token for outcome "+string(o), ErrNotFound)
}

// Tradable reports whether new orders may be placed.
func (m Market) Tradable() bool {
	return m.Status == "" || m.Status == MarketStatusActive
}

func outcomeMatches(name string, o Outcome) bool {
	switch o {
	case OutcomeYes:
		return name == "Yes" || name == "YES" || name == "yes"
	case OutcomeNo:
		return name == "No" || name == "NO" || name == "no"
	}
	return false
}
