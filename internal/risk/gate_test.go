package risk

import (
	"testing"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/quote"
)

type stubView struct {
	inv      domain.Inventory
	exposure float64
}

func (s stubView) Inventory(string) domain.Inventory { return s.inv }
func (s stubView) TotalExposure() float64            { return s.exposure }

func TestCheckLimitsDisabled(t *testing.T) {
	view := stubView{inv: domain.Inventory{YesValue: 1e6}, exposure: 1e6}
	cfg := quote.Config{MaxPositionSizeUSD: 1, MaxInventoryImbalance: 0.01}

	v := CheckLimits(view, "0xc", cfg, Limits{Enabled: false})
	if !v.Allowed {
		t.Errorf("disabled limits must always allow, got %+v", v)
	}
}

func TestCheckLimitsImbalance(t *testing.T) {
	// imbalance 0.65
	view := stubView{inv: domain.Inventory{YesValue: 82.5, NoValue: 17.5}}
	cfg := quote.Config{MaxPositionSizeUSD: 1000, MaxInventoryImbalance: 0.6}

	v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true})
	if v.Allowed {
		t.Fatal("imbalance 0.65 against limit 0.6 must deny")
	}
	if v.Reason != "inventory imbalance limit" {
		t.Errorf("reason = %q", v.Reason)
	}

	// the same book passes a 0.7 limit
	cfg.MaxInventoryImbalance = 0.7
	if v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true}); !v.Allowed {
		t.Errorf("imbalance 0.65 against limit 0.7 denied: %+v", v)
	}
}

func TestCheckLimitsPositionSize(t *testing.T) {
	view := stubView{inv: domain.Inventory{YesValue: 60, NoValue: 55}}
	cfg := quote.Config{MaxPositionSizeUSD: 100, MaxInventoryImbalance: 0.9}

	v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true})
	if v.Allowed || v.Reason != "position size limit" {
		t.Errorf("verdict = %+v, want position size denial", v)
	}
}

func TestCheckLimitsTotalExposure(t *testing.T) {
	view := stubView{inv: domain.Inventory{YesValue: 10, NoValue: 10}, exposure: 600}
	cfg := quote.Config{MaxPositionSizeUSD: 100, MaxInventoryImbalance: 0.9}

	v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true, MaxTotalExposureUSD: 500})
	if v.Allowed || v.Reason != "total exposure limit" {
		t.Errorf("verdict = %+v, want total exposure denial", v)
	}

	// zero cap means no exposure check
	if v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true}); !v.Allowed {
		t.Errorf("zero exposure cap denied: %+v", v)
	}
}

func TestCheckLimitsOrder(t *testing.T) {
	// everything is wrong at once; the imbalance check reports first
	view := stubView{inv: domain.Inventory{YesValue: 200}, exposure: 1e6}
	cfg := quote.Config{MaxPositionSizeUSD: 100, MaxInventoryImbalance: 0.5}

	v := CheckLimits(view, "0xc", cfg, Limits{Enabled: true, MaxTotalExposureUSD: 10})
	if v.Reason != "inventory imbalance limit" {
		t.Errorf("reason = %q, want imbalance first", v.Reason)
	}
}
