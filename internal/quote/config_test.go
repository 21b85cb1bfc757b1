package quote

import "testing"

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.SpreadBps != 100 {
		t.Errorf("SpreadBps = %v, want 100", cfg.SpreadBps)
	}
	if cfg.OrderSizeUSD != 10 {
		t.Errorf("OrderSizeUSD = %v, want 10", cfg.OrderSizeUSD)
	}
	if cfg.MaxPositionSizeUSD != 100 {
		t.Errorf("MaxPositionSizeUSD = %v, want 100", cfg.MaxPositionSizeUSD)
	}
	if cfg.MaxInventoryImbalance != 0.5 {
		t.Errorf("MaxInventoryImbalance = %v, want 0.5", cfg.MaxInventoryImbalance)
	}
}

func TestConfigValidateRejectsImbalanceAboveOne(t *testing.T) {
	cfg := Config{MaxInventoryImbalance: 1.2}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for maxInventoryImbalance > 1")
	}
}

func TestConfigMerge(t *testing.T) {
	base := Config{SpreadBps: 100, OrderSizeUSD: 10, MaxPositionSizeUSD: 100, MaxInventoryImbalance: 0.5}

	merged := base.Merge(&Config{SpreadBps: 30, OrderSizeUSD: 50})
	if merged.SpreadBps != 30 {
		t.Errorf("SpreadBps = %v, want 30", merged.SpreadBps)
	}
	if merged.OrderSizeUSD != 50 {
		t.Errorf("OrderSizeUSD = %v, want 50", merged.OrderSizeUSD)
	}
	// untouched fields keep the base values
	if merged.MaxPositionSizeUSD != 100 || merged.MaxInventoryImbalance != 0.5 {
		t.Errorf("base fields changed: %+v", merged)
	}

	if same := base.Merge(nil); same != base {
		t.Errorf("nil override changed config: %+v", same)
	}
}
