// Package marketdata maintains derived order book state per instrument.
//
// The tracker ingests full-depth level snapshots (from the REST poll loop or
// the market WebSocket feed), derives best bid/ask/mid/spread, stores the
// result and notifies subscribers. It owns its maps exclusively; other
// components interact only through Ingest/Subscribe/Snapshot/Monitor.
package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
)

var log = logrus.WithField("component", "marketdata")

// SnapshotHandler is invoked synchronously after a new snapshot is stored.
type SnapshotHandler func(snap *domain.BookSnapshot)

// Feed is an optional push source whose subscriptions follow the set of
// monitored tokens.
type Feed interface {
	Subscribe(assetIDs ...string) error
	Unsubscribe(assetIDs ...string) error
}

const DefaultDepth = 100

// Tracker is the order book state tracker.
type Tracker struct {
	source   exchange.BookSource
	interval time.Duration
	depth    int

	mu          sync.RWMutex
	feed        Feed
	snapshots   map[string]*domain.BookSnapshot
	subscribers map[string]map[int]SnapshotHandler
	monitors    map[string]context.CancelFunc
	nextSubID   int
}

// NewTracker creates a tracker polling source at the given interval.
func NewTracker(source exchange.BookSource, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		source:      source,
		interval:    interval,
		depth:       DefaultDepth,
		snapshots:   make(map[string]*domain.BookSnapshot),
		subscribers: make(map[string]map[int]SnapshotHandler),
		monitors:    make(map[string]context.CancelFunc),
	}
}

// AttachFeed registers a push source. Tokens already monitored are
// subscribed immediately.
func (t *Tracker) AttachFeed(feed Feed) {
	t.mu.Lock()
	t.feed = feed
	tokens := make([]string, 0, len(t.monitors))
	for id := range t.monitors {
		tokens = append(tokens, id)
	}
	t.mu.Unlock()

	if feed != nil && len(tokens) > 0 {
		if err := feed.Subscribe(tokens...); err != nil {
			log.Warnf("feed subscribe failed: %v", err)
		}
	}
}

// Ingest normalizes raw levels into a snapshot, stores it and notifies
// subscribers for tokenID. Unparsable levels are excluded from the best
// bid/ask computation rather than failing the update.
//
// Best bid is the maximum bid price, best ask the minimum ask price. Mid,
// spread and spread bps exist only when both sides are present.
func (t *Tracker) Ingest(tokenID string, bids, asks []domain.BookLevel) *domain.BookSnapshot {
	snap := &domain.BookSnapshot{TokenID: tokenID, Time: time.Now()}

	for _, l := range bids {
		if !l.Valid {
			continue
		}
		p := l.Price
		if snap.BestBid == nil || p > *snap.BestBid {
			snap.BestBid = &p
		}
	}
	for _, l := range asks {
		if !l.Valid {
			continue
		}
		p := l.Price
		if snap.BestAsk == nil || p < *snap.BestAsk {
			snap.BestAsk = &p
		}
	}

	if snap.BestBid != nil && snap.BestAsk != nil {
		mid := (*snap.BestBid + *snap.BestAsk) / 2
		spread := *snap.BestAsk - *snap.BestBid
		snap.Mid = &mid
		snap.Spread = &spread
		if mid != 0 {
			bps := spread / mid * 10000
			snap.SpreadBps = &bps
		}
	}

	t.mu.Lock()
	t.snapshots[tokenID] = snap
	handlers := make([]SnapshotHandler, 0, len(t.subscribers[tokenID]))
	for _, h := range t.subscribers[tokenID] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	// callbacks run outside the lock so a subscriber may call back into
	// the tracker without deadlocking
	for _, h := range handlers {
		h(snap)
	}
	return snap
}

// Snapshot returns the last stored snapshot for tokenID.
func (t *Tracker) Snapshot(tokenID string) (*domain.BookSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snapshots[tokenID]
	return snap, ok
}

// Subscribe registers a callback invoked once per ingest for tokenID.
// The returned function removes exactly this registration.
func (t *Tracker) Subscribe(tokenID string, handler SnapshotHandler) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subscribers[tokenID] == nil {
		t.subscribers[tokenID] = make(map[int]SnapshotHandler)
	}
	t.nextSubID++
	id := t.nextSubID
	t.subscribers[tokenID][id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if subs, ok := t.subscribers[tokenID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.subscribers, tokenID)
			}
		}
	}
}

// Monitor starts the background poll loop for tokenID. Each token has its
// own loop, so pulls are concurrent across tokens but strictly sequential
// for the same token: a pull completes or fails before the next begins.
// Monitoring an already-monitored token is a no-op.
func (t *Tracker) Monitor(ctx context.Context, tokenID string) {
	t.mu.Lock()
	if _, ok := t.monitors[tokenID]; ok {
		t.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.monitors[tokenID] = cancel
	feed := t.feed
	t.mu.Unlock()

	if feed != nil {
		if err := feed.Subscribe(tokenID); err != nil {
			log.WithField("token", shortID(tokenID)).Warnf("feed subscribe failed: %v", err)
		}
	}
	go t.pollLoop(loopCtx, tokenID)
}

// Unmonitor stops the poll loop for tokenID. Stored snapshots and
// subscriptions survive until replaced or unsubscribed.
func (t *Tracker) Unmonitor(tokenID string) {
	t.mu.Lock()
	cancel, ok := t.monitors[tokenID]
	if ok {
		delete(t.monitors, tokenID)
	}
	feed := t.feed
	t.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	if feed != nil {
		if err := feed.Unsubscribe(tokenID); err != nil {
			log.WithField("token", shortID(tokenID)).Warnf("feed unsubscribe failed: %v", err)
		}
	}
}

// Monitored lists the tokens with an active poll loop.
func (t *Tracker) Monitored() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.monitors))
	for id := range t.monitors {
		out = append(out, id)
	}
	return out
}

func (t *Tracker) pollLoop(ctx context.Context, tokenID string) {
	// immediate first pull, then the ticker cadence
	t.pullOnce(ctx, tokenID)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pullOnce(ctx, tokenID)
		}
	}
}

func (t *Tracker) pullOnce(ctx context.Context, tokenID string) {
	bids, asks, err := t.source.FetchOrderbook(ctx, tokenID, t.depth)
	if err != nil {
		if ctx.Err() == nil {
			log.WithField("token", shortID(tokenID)).Warnf("orderbook fetch failed: %v", err)
		}
		return
	}
	t.Ingest(tokenID, bids, asks)
}

func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}
