// Package exchange defines the narrow interfaces the quoting core consumes
// from the exchange collaborator. The core never sees transport details;
// the concrete CLOB client lives in exchange/clob and the mock in this
// package serves the tests.
package exchange

import (
	"context"

	"github.com/pkg/errors"

	"github.com/betbot/quoterd/internal/domain"
)

// ErrNotFound is returned when the exchange does not know the requested
// market, order or instrument.
var ErrNotFound = errors.New("exchange: not found")

// BookSource fetches full-depth order book levels for one token.
type BookSource interface {
	FetchOrderbook(ctx context.Context, tokenID string, depth int) (bids, asks []domain.BookLevel, err error)
}

// MarketSource fetches binary market metadata.
type MarketSource interface {
	FetchMarket(ctx context.Context, marketID string) (*domain.Market, error)
}

// PositionSource fetches the current holdings of one wallet.
type PositionSource interface {
	FetchPositions(ctx context.Context, address string) ([]domain.Position, error)
}

// OrderClient places and cancels exchange-resident orders.
type OrderClient interface {
	SubmitOrder(ctx context.Context, tokenID string, side domain.Side, price, size float64) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Client is the full collaborator surface.
type Client interface {
	BookSource
	MarketSource
	PositionSource
	OrderClient
}
