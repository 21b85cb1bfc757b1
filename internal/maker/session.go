package maker

import (
	"context"
	"time"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/quote"
	"github.com/betbot/quoterd/pkg/sigchan"
)

// session is the live quoting state for one market between Start and Stop.
// The orders set only ever contains identifiers returned by successful
// placements made by this session, and is cleared before every cancel pass.
type session struct {
	market *domain.Market
	config quote.Config

	orders      map[string]struct{}
	lastRefresh time.Time

	sig    *sigchan.Chan // coalesced refresh trigger from snapshot callbacks
	cancel context.CancelFunc
	done   chan struct{}
	unsubs []func()
}

func newSession(market *domain.Market, cfg quote.Config) *session {
	return &session{
		market: market,
		config: cfg,
		orders: make(map[string]struct{}),
		sig:    sigchan.New(1),
		done:   make(chan struct{}),
	}
}

// SessionSummary is the control-surface view of one active session.
type SessionSummary struct {
	MarketID    string       `json:"marketId"`
	ConditionID string       `json:"conditionId"`
	Question    string       `json:"question,omitempty"`
	OpenOrders  int          `json:"openOrders"`
	LastRefresh time.Time    `json:"lastRefresh"`
	Config      quote.Config `json:"config"`
}
