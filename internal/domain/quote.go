package domain

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Quote is an ephemeral quoting result for one outcome token.
// Computed by the quote engine, consumed by the session refresh, never stored.
type Quote struct {
	TokenID string
	Side    Side
	Price   float64
	Size    float64 // tokens
}
