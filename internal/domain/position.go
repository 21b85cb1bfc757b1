package domain

import "math"

// Position is a read-only cached copy of one (condition, outcome) holding.
// The source of truth is the exchange collaborator; the inventory tracker
// replaces its whole cache on every refresh.
type Position struct {
	ConditionID string
	Outcome     Outcome
	TokenID     string
	Size        float64 // signed, tokens
	AvgPrice    float64
	MarkPrice   float64
}

// Value is the mark value of the holding in USDC.
func (p Position) Value() float64 {
	return p.Size * p.MarkPrice
}

// Inventory is the derived per-condition view over the two outcome legs.
// Never stored; computed on demand from the cached positions.
type Inventory struct {
	ConditionID string
	YesSize     float64
	NoSize      float64
	YesValue    float64
	NoValue     float64
}

// TotalValue is the combined mark value of both legs.
func (i Inventory) TotalValue() float64 {
	return i.YesValue + i.NoValue
}

// NetExposure is value(YES) - value(NO).
func (i Inventory) NetExposure() float64 {
	return i.YesValue - i.NoValue
}

// Imbalance is net exposure over total value, in [-1, 1].
// Zero when the book is flat (total value 0).
func (i Inventory) Imbalance() float64 {
	total := i.TotalValue()
	if total == 0 {
		return 0
	}
	r := i.NetExposure() / total
	// mathematically bounded to [-1, 1]; clamp fp noise
	return math.Max(-1, math.Min(1, r))
}

// IsBalanced reports whether |imbalance| stays within max.
func (i Inventory) IsBalanced(max float64) bool {
	return math.Abs(i.Imbalance()) <= max
}
