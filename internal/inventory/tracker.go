// Package inventory caches wallet positions and derives per-condition
// inventory and imbalance. The cache is replaced atomically on every
// successful refresh; a failed fetch keeps the previous cache intact
// (stale but consistent) rather than merging partial results.
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
)

var log = logrus.WithField("component", "inventory")

type positionKey struct {
	condition string
	outcome   domain.Outcome
}

// Tracker holds the read-only position cache.
type Tracker struct {
	source   exchange.PositionSource
	address  string
	interval time.Duration

	mu        sync.RWMutex
	positions map[positionKey]domain.Position
	updatedAt time.Time
}

// NewTracker creates a tracker refreshing positions of address from source.
func NewTracker(source exchange.PositionSource, address string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Tracker{
		source:    source,
		address:   address,
		interval:  interval,
		positions: make(map[positionKey]domain.Position),
	}
}

// Refresh replaces the entire cache from one fetch. On error the previous
// cache is left untouched.
func (t *Tracker) Refresh(ctx context.Context) error {
	positions, err := t.source.FetchPositions(ctx, t.address)
	if err != nil {
		return err
	}

	next := make(map[positionKey]domain.Position, len(positions))
	for _, p := range positions {
		next[positionKey{condition: p.ConditionID, outcome: p.Outcome}] = p
	}

	t.mu.Lock()
	t.positions = next
	t.updatedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Run invokes Refresh on a fixed interval until ctx is cancelled.
// A failed refresh is logged and retried on the next tick, never immediately.
func (t *Tracker) Run(ctx context.Context) {
	if err := t.Refresh(ctx); err != nil {
		log.Warnf("initial position refresh failed: %v", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("position refresh failed, keeping stale cache: %v", err)
			}
		}
	}
}

// Inventory computes the per-condition view from the two cached legs.
func (t *Tracker) Inventory(conditionID string) domain.Inventory {
	t.mu.RLock()
	defer t.mu.RUnlock()

	inv := domain.Inventory{ConditionID: conditionID}
	if p, ok := t.positions[positionKey{condition: conditionID, outcome: domain.OutcomeYes}]; ok {
		inv.YesSize = p.Size
		inv.YesValue = p.Value()
	}
	if p, ok := t.positions[positionKey{condition: conditionID, outcome: domain.OutcomeNo}]; ok {
		inv.NoSize = p.Size
		inv.NoValue = p.Value()
	}
	return inv
}

// Imbalance returns the imbalance ratio for one condition, in [-1, 1].
func (t *Tracker) Imbalance(conditionID string) float64 {
	return t.Inventory(conditionID).Imbalance()
}

// IsBalanced reports whether |imbalance| <= maxImbalance.
func (t *Tracker) IsBalanced(conditionID string, maxImbalance float64) bool {
	return t.Inventory(conditionID).IsBalanced(maxImbalance)
}

// TotalExposure is the mark value summed over every cached position,
// across all conditions.
func (t *Tracker) TotalExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, p := range t.positions {
		total += p.Value()
	}
	return total
}

// UpdatedAt is the time of the last successful refresh.
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}
