package quote

import "fmt"

// Config is the per-market market-maker configuration. Zero fields are
// filled from defaults by Validate; a session starts from the process-wide
// strategy defaults and applies per-market overrides on top.
type Config struct {
	// SpreadBps is the quoted spread in basis points of mid.
	SpreadBps float64 `yaml:"spreadBps" json:"spreadBps"`
	// OrderSizeUSD is the target order size per quote, in quote currency.
	OrderSizeUSD float64 `yaml:"orderSizeUsd" json:"orderSizeUsd"`
	// MaxPositionSizeUSD caps the combined mark value of both outcome legs.
	MaxPositionSizeUSD float64 `yaml:"maxPositionSizeUsd" json:"maxPositionSizeUsd"`
	// MaxInventoryImbalance caps |imbalance| before the risk gate blocks a refresh.
	MaxInventoryImbalance float64 `yaml:"maxInventoryImbalance" json:"maxInventoryImbalance"`
}

// Validate fills defaults and rejects out-of-range values.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config must not be nil")
	}
	if c.SpreadBps <= 0 {
		c.SpreadBps = 100
	}
	if c.OrderSizeUSD <= 0 {
		c.OrderSizeUSD = 10
	}
	if c.MaxPositionSizeUSD <= 0 {
		c.MaxPositionSizeUSD = 100
	}
	if c.MaxInventoryImbalance <= 0 {
		c.MaxInventoryImbalance = 0.5
	}
	if c.MaxInventoryImbalance > 1 {
		return fmt.Errorf("maxInventoryImbalance must be <= 1, got %v", c.MaxInventoryImbalance)
	}
	return nil
}

// Merge returns c with non-zero fields of override applied on top.
func (c Config) Merge(override *Config) Config {
	if override == nil {
		return c
	}
	if override.SpreadBps > 0 {
		c.SpreadBps = override.SpreadBps
	}
	if override.OrderSizeUSD > 0 {
		c.OrderSizeUSD = override.OrderSizeUSD
	}
	if override.MaxPositionSizeUSD > 0 {
		c.MaxPositionSizeUSD = override.MaxPositionSizeUSD
	}
	if override.MaxInventoryImbalance > 0 {
		c.MaxInventoryImbalance = override.MaxInventoryImbalance
	}
	return c
}
