// Package maker owns the set of active market sessions and drives the
// quote refresh cycle: risk gate, quote computation for both outcome
// tokens, then cancel-all followed by place-all against the exchange
// collaborator.
//
// Cancellation runs before placement, so every refresh has a brief window
// with zero live quotes for the market. That is a deliberate trade-off
// (simple reconciliation, no order diffing) and part of the contract.
package maker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
	"github.com/betbot/quoterd/internal/inventory"
	"github.com/betbot/quoterd/internal/marketdata"
	"github.com/betbot/quoterd/internal/quote"
	"github.com/betbot/quoterd/internal/risk"
)

var log = logrus.WithField("component", "maker")

var (
	// ErrMarketNotFound: the exchange does not know the market id.
	ErrMarketNotFound = errors.New("market not found")
	// ErrInsufficientOutcomes: the market reports fewer than two outcome tokens.
	ErrInsufficientOutcomes = errors.New("market has fewer than two outcome tokens")
	// ErrSessionExists: the market already has an active session. Starting
	// twice is rejected rather than silently replacing the session, which
	// would orphan its outstanding orders.
	ErrSessionExists = errors.New("session already active for market")
	// ErrNoSession: stop/refresh addressed a market without an active session.
	ErrNoSession = errors.New("no active session for market")
	// ErrNotRunning: the orchestrator has not been started.
	ErrNotRunning = errors.New("orchestrator not running")
)

// Options tunes the orchestrator.
type Options struct {
	// Defaults are the process-wide strategy defaults for new sessions.
	Defaults quote.Config
	// Limits is the global risk configuration.
	Limits risk.Limits
	// SweepInterval is the fixed refresh cadence per session, on top of
	// snapshot-triggered refreshes.
	SweepInterval time.Duration
}

// Orchestrator is the market session orchestrator.
type Orchestrator struct {
	books   *marketdata.Tracker
	inv     *inventory.Tracker
	markets exchange.MarketSource
	orders  exchange.OrderClient
	breaker *risk.CircuitBreaker
	opts    Options

	mu       sync.Mutex
	ctx      context.Context
	running  bool
	sessions map[string]*session
}

// New wires the orchestrator. Run must be called before sessions start.
func New(books *marketdata.Tracker, inv *inventory.Tracker, markets exchange.MarketSource, orders exchange.OrderClient, breaker *risk.CircuitBreaker, opts Options) *Orchestrator {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	return &Orchestrator{
		books:    books,
		inv:      inv,
		markets:  markets,
		orders:   orders,
		breaker:  breaker,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Run marks the orchestrator running. ctx is the lifetime of every session
// loop; when it is cancelled sessions stop refreshing but their exchange
// orders are left as-is (use StopSession for a clean teardown).
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.running = true
	o.mu.Unlock()
}

// Running reports whether Run was called and its context is still live.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running && o.ctx != nil && o.ctx.Err() == nil
}

// StartSession fetches market metadata, builds the session config from the
// process defaults plus override, registers both outcome tokens for book
// monitoring and performs one immediate refresh.
func (o *Orchestrator) StartSession(ctx context.Context, marketID string, override *quote.Config) error {
	o.mu.Lock()
	rootCtx, running := o.ctx, o.running
	o.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	market, err := o.markets.FetchMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, exchange.ErrNotFound) {
			return errors.Wrap(ErrMarketNotFound, marketID)
		}
		return errors.Wrapf(err, "fetch market %s", marketID)
	}
	if market.YesTokenID == "" || market.NoTokenID == "" {
		return errors.Wrap(ErrInsufficientOutcomes, marketID)
	}

	cfg := o.opts.Defaults.Merge(override)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "session config")
	}

	sess := newSession(market, cfg)

	o.mu.Lock()
	if _, exists := o.sessions[marketID]; exists {
		o.mu.Unlock()
		return errors.Wrap(ErrSessionExists, marketID)
	}
	o.sessions[marketID] = sess
	o.mu.Unlock()

	loopCtx, cancel := context.WithCancel(rootCtx)
	sess.cancel = cancel

	for _, tokenID := range market.TokenIDs() {
		o.books.Monitor(rootCtx, tokenID)
		unsub := o.books.Subscribe(tokenID, func(*domain.BookSnapshot) {
			sess.sig.Emit()
		})
		sess.unsubs = append(sess.unsubs, unsub)
	}

	// one refresh up front, then the session loop takes over
	o.refresh(loopCtx, sess)
	go o.sessionLoop(loopCtx, sess)

	log.WithFields(logrus.Fields{
		"market":    marketID,
		"condition": market.ConditionID,
	}).Infof("session started: spread=%.0fbps size=$%.2f", cfg.SpreadBps, cfg.OrderSizeUSD)
	return nil
}

// StopSession cancels every outstanding order of the session (best-effort,
// concurrent), unregisters monitoring for its tokens and removes the
// session record. Fails with ErrNoSession when the market is not active.
func (o *Orchestrator) StopSession(ctx context.Context, marketID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[marketID]
	if ok {
		delete(o.sessions, marketID)
	}
	o.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrNoSession, marketID)
	}

	// stop the loop first so no refresh races the cancellation pass
	if sess.cancel != nil {
		sess.cancel()
	}
	<-sess.done

	for _, unsub := range sess.unsubs {
		unsub()
	}
	for _, tokenID := range sess.market.TokenIDs() {
		o.books.Unmonitor(tokenID)
	}

	outstanding := o.takeOrders(sess)
	o.cancelAll(ctx, sess.market.ID, outstanding)

	log.WithField("market", marketID).Infof("session stopped, %d orders cancelled", len(outstanding))
	return nil
}

// RefreshSession requests one refresh cycle outside the normal cadence.
// The cycle runs on the session loop, coalesced with pending triggers.
func (o *Orchestrator) RefreshSession(marketID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[marketID]
	o.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrNoSession, marketID)
	}
	sess.sig.Emit()
	return nil
}

// Sessions returns a summary per active session.
func (o *Orchestrator) Sessions() []SessionSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SessionSummary, 0, len(o.sessions))
	for id, sess := range o.sessions {
		out = append(out, SessionSummary{
			MarketID:    id,
			ConditionID: sess.market.ConditionID,
			Question:    sess.market.Question,
			OpenOrders:  len(sess.orders),
			LastRefresh: sess.lastRefresh,
			Config:      sess.config,
		})
	}
	return out
}

// sessionLoop serializes refreshes for one session: snapshot-triggered
// (coalesced through the signal channel) and the fixed-interval sweep.
// Stop is observed between cycles, never mid-cycle.
func (o *Orchestrator) sessionLoop(ctx context.Context, sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.sig.C():
			o.refresh(ctx, sess)
		case <-ticker.C:
			o.refresh(ctx, sess)
		}
	}
}

// refresh runs one quoting cycle for the session.
//
// When the risk gate denies, nothing is mutated: prior quotes stay live
// until a later cycle passes or the session is stopped. When allowed, the
// cycle cancels all outstanding orders, then places the newly computed
// quotes concurrently, records the successful ids and stamps the refresh
// time regardless of partial failures.
func (o *Orchestrator) refresh(ctx context.Context, sess *session) {
	marketID := sess.market.ID
	conditionID := sess.market.ConditionID

	if v := risk.CheckLimits(o.inv, conditionID, sess.config, o.opts.Limits); !v.Allowed {
		log.WithField("market", marketID).Warnf("refresh skipped: %s", v.Reason)
		return
	}
	if err := o.breaker.AllowPlacement(); err != nil {
		log.WithField("market", marketID).Warnf("refresh skipped: %v", err)
		return
	}

	imbalance := o.inv.Imbalance(conditionID)

	var quotes []domain.Quote
	for _, tokenID := range sess.market.TokenIDs() {
		snap, ok := o.books.Snapshot(tokenID)
		if !ok || !snap.HasMid() {
			// no reference price: quoting skipped for this token, not an error
			continue
		}
		outcome := sess.market.OutcomeOf(tokenID)
		quotes = append(quotes, quote.ComputeQuotes(snap, sess.config, outcome, tokenID, imbalance)...)
	}

	outstanding := o.takeOrders(sess)
	o.cancelAll(ctx, marketID, outstanding)

	placed := o.placeAll(ctx, marketID, quotes)

	o.mu.Lock()
	for id := range placed {
		sess.orders[id] = struct{}{}
	}
	sess.lastRefresh = time.Now()
	o.mu.Unlock()
}

// takeOrders atomically empties and returns the session's outstanding set.
func (o *Orchestrator) takeOrders(sess *session) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(sess.orders))
	for id := range sess.orders {
		out = append(out, id)
	}
	sess.orders = make(map[string]struct{})
	return out
}

// cancelAll issues the cancels concurrently and waits for all of them.
// Individual failures are logged and counted, never retried in-cycle.
func (o *Orchestrator) cancelAll(ctx context.Context, marketID string, orderIDs []string) {
	if len(orderIDs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, orderID := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			if err := o.orders.CancelOrder(ctx, orderID); err != nil {
				o.breaker.OnError()
				log.WithField("market", marketID).Warnf("cancel %s failed: %v", orderID, err)
				return
			}
			o.breaker.OnSuccess()
		}(orderID)
	}
	wg.Wait()
}

// placeAll submits the quotes concurrently and returns the ids of the ones
// that succeeded. A failed submission does not block its siblings.
func (o *Orchestrator) placeAll(ctx context.Context, marketID string, quotes []domain.Quote) map[string]struct{} {
	placed := make(map[string]struct{})
	if len(quotes) == 0 {
		return placed
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, q := range quotes {
		wg.Add(1)
		go func(q domain.Quote) {
			defer wg.Done()
			orderID, err := o.orders.SubmitOrder(ctx, q.TokenID, q.Side, q.Price, q.Size)
			if err != nil {
				o.breaker.OnError()
				log.WithField("market", marketID).Warnf("submit %s %.6f x %.2f failed: %v", q.Side, q.Price, q.Size, err)
				return
			}
			o.breaker.OnSuccess()
			mu.Lock()
			placed[orderID] = struct{}{}
			mu.Unlock()
		}(q)
	}
	wg.Wait()
	return placed
}
