package domain

// Outcome is one of the two mutually exclusive resolutions of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "Yes"
	OutcomeNo  Outcome = "No"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market is the metadata of one binary market: a condition grouping exactly
// two outcome tokens. Populated from the exchange collaborator on session
// start and treated as read-only afterwards.
type Market struct {
	ID          string // identifier used by the control surface (slug or condition id)
	ConditionID string
	Question    string
	YesTokenID  string
	NoTokenID   string
	Active      bool
	Closed      bool
}

// IsValid reports whether the market carries both outcome tokens.
func (m *Market) IsValid() bool {
	return m != nil && m.ConditionID != "" && m.YesTokenID != "" && m.NoTokenID != ""
}

// TokenIDs returns both outcome token ids, YES first.
func (m *Market) TokenIDs() [2]string {
	return [2]string{m.YesTokenID, m.NoTokenID}
}

// OutcomeOf maps a token id back to its outcome label.
func (m *Market) OutcomeOf(tokenID string) Outcome {
	if tokenID == m.NoTokenID {
		return OutcomeNo
	}
	return OutcomeYes
}
