package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
)

func TestRefreshBuildsInventory(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPositions([]domain.Position{
		{ConditionID: "0xc1", Outcome: domain.OutcomeYes, TokenID: "yes-1", Size: 100, MarkPrice: 0.60},
		{ConditionID: "0xc1", Outcome: domain.OutcomeNo, TokenID: "no-1", Size: 50, MarkPrice: 0.40},
		{ConditionID: "0xc2", Outcome: domain.OutcomeYes, TokenID: "yes-2", Size: 10, MarkPrice: 0.50},
	})
	tr := NewTracker(mock, "0xwallet", time.Second)

	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	inv := tr.Inventory("0xc1")
	if inv.YesSize != 100 || inv.NoSize != 50 {
		t.Errorf("sizes = %v/%v, want 100/50", inv.YesSize, inv.NoSize)
	}
	if inv.YesValue != 60 || inv.NoValue != 20 {
		t.Errorf("values = %v/%v, want 60/20", inv.YesValue, inv.NoValue)
	}
	if got := inv.Imbalance(); got != 0.5 {
		t.Errorf("imbalance = %v, want 0.5", got)
	}

	// 60 + 20 + 5 across both conditions
	if got := tr.TotalExposure(); got != 85 {
		t.Errorf("total exposure = %v, want 85", got)
	}
	if tr.UpdatedAt().IsZero() {
		t.Error("UpdatedAt not set after refresh")
	}
}

func TestInventoryUnknownCondition(t *testing.T) {
	tr := NewTracker(exchange.NewMock(), "0xwallet", time.Second)

	inv := tr.Inventory("0xmissing")
	if inv.YesSize != 0 || inv.NoSize != 0 || inv.TotalValue() != 0 {
		t.Errorf("unknown condition not empty: %+v", inv)
	}
	if tr.Imbalance("0xmissing") != 0 {
		t.Error("unknown condition imbalance not 0")
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPositions([]domain.Position{
		{ConditionID: "0xc1", Outcome: domain.OutcomeYes, TokenID: "yes-1", Size: 100, MarkPrice: 0.60},
	})
	tr := NewTracker(mock, "0xwallet", time.Second)

	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	updated := tr.UpdatedAt()

	mock.ErrorOnNext["FetchPositions"] = errors.New("data api down")
	if err := tr.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	// stale but consistent: the previous cache survives
	if inv := tr.Inventory("0xc1"); inv.YesSize != 100 {
		t.Errorf("cache lost on failed refresh: %+v", inv)
	}
	if !tr.UpdatedAt().Equal(updated) {
		t.Error("UpdatedAt advanced on failed refresh")
	}
}

func TestRefreshReplacesWholeCache(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPositions([]domain.Position{
		{ConditionID: "0xc1", Outcome: domain.OutcomeYes, TokenID: "yes-1", Size: 100, MarkPrice: 0.60},
	})
	tr := NewTracker(mock, "0xwallet", time.Second)
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// the position was closed; the next refresh must drop it entirely
	mock.SetPositions(nil)
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if inv := tr.Inventory("0xc1"); inv.TotalValue() != 0 {
		t.Errorf("closed position still cached: %+v", inv)
	}
}

func TestIsBalanced(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPositions([]domain.Position{
		{ConditionID: "0xc1", Outcome: domain.OutcomeYes, TokenID: "yes-1", Size: 100, MarkPrice: 0.60},
		{ConditionID: "0xc1", Outcome: domain.OutcomeNo, TokenID: "no-1", Size: 50, MarkPrice: 0.40},
	})
	tr := NewTracker(mock, "0xwallet", time.Second)
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	// imbalance is exactly 0.5
	if !tr.IsBalanced("0xc1", 0.5) {
		t.Error("imbalance at the limit should be balanced")
	}
	if tr.IsBalanced("0xc1", 0.49) {
		t.Error("imbalance above the limit should not be balanced")
	}
}
