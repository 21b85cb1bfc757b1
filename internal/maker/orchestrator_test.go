package maker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
	"github.com/betbot/quoterd/internal/inventory"
	"github.com/betbot/quoterd/internal/marketdata"
	"github.com/betbot/quoterd/internal/quote"
	"github.com/betbot/quoterd/internal/risk"
)

func testMarket() *domain.Market {
	return &domain.Market{
		ID:          "m1",
		ConditionID: "0xc1",
		Question:    "Will it settle yes?",
		YesTokenID:  "yes-1",
		NoTokenID:   "no-1",
		Active:      true,
	}
}

type fixture struct {
	mock    *exchange.Mock
	books   *marketdata.Tracker
	inv     *inventory.Tracker
	breaker *risk.CircuitBreaker
	orch    *Orchestrator
}

// newFixture wires an orchestrator over the mock with hour-long cadences so
// nothing fires on its own; tests drive cycles explicitly.
func newFixture(limits risk.Limits) *fixture {
	mock := exchange.NewMock()
	mock.Markets["m1"] = testMarket()

	books := marketdata.NewTracker(mock, time.Hour)
	inv := inventory.NewTracker(mock, "0xwallet", time.Hour)
	breaker := risk.NewCircuitBreaker(0)
	orch := New(books, inv, mock, mock, breaker, Options{
		Defaults:      quote.Config{SpreadBps: 50, OrderSizeUSD: 10},
		Limits:        limits,
		SweepInterval: time.Hour,
	})
	return &fixture{mock: mock, books: books, inv: inv, breaker: breaker, orch: orch}
}

// ingestBoth seeds mid 0.50 snapshots for both outcome tokens.
func (f *fixture) ingestBoth() {
	for _, tok := range []string{"yes-1", "no-1"} {
		f.books.Ingest(tok,
			[]domain.BookLevel{domain.Level(0.49, 100)},
			[]domain.BookLevel{domain.Level(0.51, 100)},
		)
	}
}

func (f *fixture) session(t *testing.T, marketID string) *session {
	t.Helper()
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	sess, ok := f.orch.sessions[marketID]
	if !ok {
		t.Fatalf("no session for %s", marketID)
	}
	return sess
}

func TestStartSessionNotRunning(t *testing.T) {
	f := newFixture(risk.Limits{})
	err := f.orch.StartSession(context.Background(), "m1", nil)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestStartSessionMarketNotFound(t *testing.T) {
	f := newFixture(risk.Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	err := f.orch.StartSession(ctx, "nope", nil)
	if !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound", err)
	}
}

func TestStartSessionInsufficientOutcomes(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.mock.Markets["half"] = &domain.Market{ID: "half", ConditionID: "0xh", YesTokenID: "yes-h"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	err := f.orch.StartSession(ctx, "half", nil)
	if !errors.Is(err, ErrInsufficientOutcomes) {
		t.Errorf("err = %v, want ErrInsufficientOutcomes", err)
	}
}

func TestStartSessionPlacesInitialQuotes(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	// two tokens, one bid and one ask each
	if n := len(f.mock.Submitted); n != 4 {
		t.Fatalf("submitted %d orders, want 4", n)
	}

	sessions := f.orch.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.MarketID != "m1" || s.ConditionID != "0xc1" {
		t.Errorf("summary ids = %s/%s", s.MarketID, s.ConditionID)
	}
	if s.OpenOrders != 4 {
		t.Errorf("open orders = %d, want 4", s.OpenOrders)
	}
	if s.LastRefresh.IsZero() {
		t.Error("last refresh not stamped")
	}
}

func TestStartSessionDuplicateRejected(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	before := len(f.mock.Submitted)
	err := f.orch.StartSession(ctx, "m1", nil)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("err = %v, want ErrSessionExists", err)
	}
	// the rejected start must not have touched the live session's orders
	if len(f.mock.Submitted) != before {
		t.Error("duplicate start placed orders")
	}
	if len(f.orch.Sessions()) != 1 {
		t.Error("duplicate start changed the session set")
	}
}

func TestSessionConfigOverride(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	override := &quote.Config{SpreadBps: 200, OrderSizeUSD: 40}
	if err := f.orch.StartSession(ctx, "m1", override); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	cfg := f.orch.Sessions()[0].Config
	if cfg.SpreadBps != 200 || cfg.OrderSizeUSD != 40 {
		t.Errorf("override not applied: %+v", cfg)
	}
	// defaults fill what the override leaves unset
	if cfg.MaxPositionSizeUSD != 100 || cfg.MaxInventoryImbalance != 0.5 {
		t.Errorf("defaults not filled: %+v", cfg)
	}
}

func TestRefreshCancelsThenReplaces(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	sess := f.session(t, "m1")
	f.orch.mu.Lock()
	firstBatch := make([]string, 0, len(sess.orders))
	for id := range sess.orders {
		firstBatch = append(firstBatch, id)
	}
	f.orch.mu.Unlock()
	if len(firstBatch) != 4 {
		t.Fatalf("initial refresh placed %d orders, want 4", len(firstBatch))
	}

	f.orch.refresh(ctx, sess)

	// every order of the first batch was cancelled
	if len(f.mock.Cancelled) != 4 {
		t.Fatalf("cancelled %d orders, want 4", len(f.mock.Cancelled))
	}
	cancelled := make(map[string]bool)
	for _, id := range f.mock.Cancelled {
		cancelled[id] = true
	}
	for _, id := range firstBatch {
		if !cancelled[id] {
			t.Errorf("order %s from the first batch not cancelled", id)
		}
	}

	// and replaced by a fresh set of four
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	if n := len(sess.orders); n != 4 {
		t.Errorf("outstanding = %d, want 4", n)
	}
	for id := range sess.orders {
		if cancelled[id] {
			t.Errorf("order %s is both outstanding and cancelled", id)
		}
	}
}

func TestRefreshSkipsTokenWithoutMid(t *testing.T) {
	f := newFixture(risk.Limits{})
	// only the YES token has a two-sided book
	f.books.Ingest("yes-1",
		[]domain.BookLevel{domain.Level(0.49, 100)},
		[]domain.BookLevel{domain.Level(0.51, 100)},
	)
	f.books.Ingest("no-1", []domain.BookLevel{domain.Level(0.49, 100)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	if n := len(f.mock.Submitted); n != 2 {
		t.Errorf("submitted %d orders, want 2 (no-mid token skipped)", n)
	}
	for _, o := range f.mock.Submitted {
		if o.TokenID != "yes-1" {
			t.Errorf("order placed on token without mid: %+v", o)
		}
	}
}

func TestRiskGateDenialLeavesOrders(t *testing.T) {
	f := newFixture(risk.Limits{Enabled: true})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	override := &quote.Config{MaxInventoryImbalance: 0.6}
	if err := f.orch.StartSession(ctx, "m1", override); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	if len(f.mock.Submitted) != 4 {
		t.Fatalf("initial refresh placed %d orders, want 4", len(f.mock.Submitted))
	}

	// imbalance 0.65 against a 0.6 limit
	f.mock.SetPositions([]domain.Position{
		{ConditionID: "0xc1", Outcome: domain.OutcomeYes, TokenID: "yes-1", Size: 165, MarkPrice: 0.5},
		{ConditionID: "0xc1", Outcome: domain.OutcomeNo, TokenID: "no-1", Size: 35, MarkPrice: 0.5},
	})
	if err := f.inv.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	sess := f.session(t, "m1")
	f.orch.refresh(ctx, sess)

	// denial mutates nothing: no cancels, no new placements, orders intact
	if len(f.mock.Cancelled) != 0 {
		t.Errorf("denied refresh cancelled %d orders", len(f.mock.Cancelled))
	}
	if len(f.mock.Submitted) != 4 {
		t.Errorf("denied refresh placed orders: %d total", len(f.mock.Submitted))
	}
	f.orch.mu.Lock()
	n := len(sess.orders)
	f.orch.mu.Unlock()
	if n != 4 {
		t.Errorf("outstanding = %d after denial, want 4", n)
	}
}

func TestBreakerBlocksRefresh(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	f.breaker.Halt()
	sess := f.session(t, "m1")
	f.orch.refresh(ctx, sess)

	if len(f.mock.Cancelled) != 0 || len(f.mock.Submitted) != 4 {
		t.Errorf("halted breaker still traded: %d cancels, %d submits",
			len(f.mock.Cancelled), len(f.mock.Submitted))
	}
}

func TestPartialPlacementFailure(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	// the first submission of the initial refresh fails
	f.mock.ErrorOnNext["SubmitOrder"] = errors.New("rate limited")
	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	// the sibling placements still went through
	if n := len(f.mock.Submitted); n != 3 {
		t.Errorf("submitted %d orders, want 3", n)
	}
	if n := f.orch.Sessions()[0].OpenOrders; n != 3 {
		t.Errorf("outstanding = %d, want 3", n)
	}
}

func TestStopSessionCancelsOutstanding(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}

	sess := f.session(t, "m1")
	outstanding := make(map[string]bool)
	f.orch.mu.Lock()
	for id := range sess.orders {
		outstanding[id] = true
	}
	f.orch.mu.Unlock()

	if err := f.orch.StopSession(ctx, "m1"); err != nil {
		t.Fatal(err)
	}

	if len(f.mock.Cancelled) != len(outstanding) {
		t.Fatalf("cancelled %d orders, want %d", len(f.mock.Cancelled), len(outstanding))
	}
	for _, id := range f.mock.Cancelled {
		if !outstanding[id] {
			t.Errorf("cancelled unknown order %s", id)
		}
	}
	if len(f.orch.Sessions()) != 0 {
		t.Error("session still listed after stop")
	}
	if len(f.books.Monitored()) != 0 {
		t.Error("tokens still monitored after stop")
	}

	err := f.orch.StopSession(ctx, "m1")
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("second stop err = %v, want ErrNoSession", err)
	}
}

func TestRefreshSessionUnknownMarket(t *testing.T) {
	f := newFixture(risk.Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	err := f.orch.RefreshSession("ghost")
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestSnapshotTriggersRefresh(t *testing.T) {
	f := newFixture(risk.Limits{})
	f.ingestBoth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.Run(ctx)

	if err := f.orch.StartSession(ctx, "m1", nil); err != nil {
		t.Fatal(err)
	}
	defer f.orch.StopSession(ctx, "m1")

	before := f.mock.CallCount("SubmitOrder")

	// a fresh snapshot wakes the session loop through its subscription
	f.books.Ingest("yes-1",
		[]domain.BookLevel{domain.Level(0.48, 100)},
		[]domain.BookLevel{domain.Level(0.52, 100)},
	)

	deadline := time.After(2 * time.Second)
	for f.mock.CallCount("SubmitOrder") <= before {
		select {
		case <-deadline:
			t.Fatal("no refresh after snapshot update")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
