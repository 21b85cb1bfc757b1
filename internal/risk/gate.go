// Package risk gates quote refreshes against configured inventory and
// exposure limits, and halts order placement after repeated collaborator
// failures via a circuit breaker.
package risk

import (
	"math"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/quote"
)

// InventoryView is the read surface the gate needs from the inventory tracker.
type InventoryView interface {
	Inventory(conditionID string) domain.Inventory
	TotalExposure() float64
}

// Limits is the process-wide risk configuration.
type Limits struct {
	// Enabled false disables every check; CheckLimits always allows.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxTotalExposureUSD caps Σ(mark × size) across all positions.
	MaxTotalExposureUSD float64 `yaml:"maxTotalExposureUsd" json:"maxTotalExposureUsd"`
}

// Verdict reports the gate decision and, when denied, which limit tripped.
type Verdict struct {
	Allowed bool
	Reason  string
}

var allowed = Verdict{Allowed: true}

// CheckLimits evaluates the limits for one condition in order; the first
// failing check short-circuits. A denial must not cancel or alter existing
// orders — the caller simply skips placing new quotes this cycle.
func CheckLimits(view InventoryView, conditionID string, cfg quote.Config, limits Limits) Verdict {
	if !limits.Enabled {
		return allowed
	}

	inv := view.Inventory(conditionID)

	if imb := inv.Imbalance(); math.Abs(imb) > cfg.MaxInventoryImbalance {
		return Verdict{Reason: "inventory imbalance limit"}
	}
	if inv.TotalValue() > cfg.MaxPositionSizeUSD {
		return Verdict{Reason: "position size limit"}
	}
	if limits.MaxTotalExposureUSD > 0 && view.TotalExposure() > limits.MaxTotalExposureUSD {
		return Verdict{Reason: "total exposure limit"}
	}
	return allowed
}
