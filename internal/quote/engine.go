// Package quote computes two-sided quotes for one outcome token from an
// order book snapshot, the market-maker config and the current inventory
// imbalance. ComputeQuotes is a pure function: no clocks, no I/O, no state,
// so it can be property-tested independent of any network.
package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/betbot/quoterd/internal/domain"
)

const (
	// spread widening kicks in beyond this |imbalance|
	widenThreshold = 0.3
	widenFactor    = 1.5

	// size skew kicks in beyond this |imbalance|
	skewThreshold = 0.2
	skewReduce    = 0.5
	skewIncrease  = 1.5

	priceDecimals = 6
)

// ComputeQuotes returns one buy and one sell quote for tokenID, or nil when
// the snapshot carries no mid price (empty side of the book).
//
// imbalance is the per-condition ratio from the inventory tracker, oriented
// YES-positive: +1 means fully long YES. For the NO token the sign test is
// inverted, so whichever outcome the book is net-long quotes a smaller buy
// and a larger sell.
func ComputeQuotes(snap *domain.BookSnapshot, cfg Config, outcome domain.Outcome, tokenID string, imbalance float64) []domain.Quote {
	if !snap.HasMid() {
		return nil
	}
	mid := *snap.Mid
	if mid <= 0 {
		return nil
	}

	spreadBps := cfg.SpreadBps
	if math.Abs(imbalance) > widenThreshold {
		spreadBps *= widenFactor
	}
	spread := mid * spreadBps / 10000

	bidPrice := roundPrice(mid - spread/2)
	askPrice := roundPrice(mid + spread/2)

	baseSize := cfg.OrderSizeUSD / mid
	buySize, sellSize := baseSize, baseSize

	// orient the imbalance to this outcome before the skew test
	oriented := imbalance
	if outcome == domain.OutcomeNo {
		oriented = -imbalance
	}
	switch {
	case oriented > skewThreshold: // net long this outcome: buy less, sell more
		buySize = baseSize * skewReduce
		sellSize = baseSize * skewIncrease
	case oriented < -skewThreshold: // net short this outcome: buy more, sell less
		buySize = baseSize * skewIncrease
		sellSize = baseSize * skewReduce
	}

	return []domain.Quote{
		{TokenID: tokenID, Side: domain.SideBuy, Price: bidPrice, Size: buySize},
		{TokenID: tokenID, Side: domain.SideSell, Price: askPrice, Size: sellSize},
	}
}

func roundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(priceDecimals).Float64()
	return f
}
