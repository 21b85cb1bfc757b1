// Package config loads the process configuration from a YAML file plus
// environment overrides, validates it and exposes it globally via Get.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"gopkg.in/yaml.v3"

	"github.com/betbot/quoterd/internal/quote"
	"github.com/betbot/quoterd/internal/risk"
	"github.com/betbot/quoterd/pkg/logger"
)

const defaultDerivationPath = "m/44'/60'/0'/0/0"

// WalletConfig identifies the trading wallet. Either PrivateKey or Mnemonic
// must be set unless the process runs in dry-run mode.
type WalletConfig struct {
	PrivateKey     string `yaml:"privateKey"`
	Mnemonic       string `yaml:"mnemonic"`
	DerivationPath string `yaml:"derivationPath"`
	// FunderAddress is the proxy wallet holding the funds; empty means the
	// signer address itself.
	FunderAddress string `yaml:"funderAddress"`
	SignatureType int    `yaml:"signatureType"`
}

// ExchangeConfig points at the Polymarket API surfaces.
type ExchangeConfig struct {
	ClobBaseURL  string `yaml:"clobBaseUrl"`
	GammaBaseURL string `yaml:"gammaBaseUrl"`
	DataBaseURL  string `yaml:"dataBaseUrl"`
	WSBaseURL    string `yaml:"wsBaseUrl"`
	ChainID      int64  `yaml:"chainId"`
}

// IntervalsConfig holds the scheduled loop cadences, in milliseconds.
type IntervalsConfig struct {
	BookPollMs     int `yaml:"bookPollMs"`
	PositionsMs    int `yaml:"positionsMs"`
	SessionSweepMs int `yaml:"sessionSweepMs"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the full process configuration.
type Config struct {
	Wallet    WalletConfig    `yaml:"wallet"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Strategy  quote.Config    `yaml:"strategy"`
	Risk      risk.Limits     `yaml:"risk"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`

	// MaxConsecutiveErrors trips the placement circuit breaker; <= 0 disables.
	MaxConsecutiveErrors int64 `yaml:"maxConsecutiveErrors"`
	// SecretStorePath is the Badger directory caching derived API creds.
	SecretStorePath string `yaml:"secretStorePath"`
	// EnableWSFeed switches the live market WebSocket feed on.
	EnableWSFeed bool `yaml:"enableWsFeed"`
	// DryRun disables real order flow; submits/cancels are logged no-ops.
	DryRun bool `yaml:"dryRun"`
}

var (
	mu     sync.RWMutex
	global *Config
)

// Load reads path (optional), applies environment overrides and validates.
// The result becomes the global config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	global = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the global config, nil before Load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("MNEMONIC"); v != "" {
		c.Wallet.Mnemonic = v
	}
	if v := os.Getenv("FUNDER_ADDRESS"); v != "" {
		c.Wallet.FunderAddress = v
	}
	if v := os.Getenv("QUOTERD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("QUOTERD_DRY_RUN"); v == "1" || strings.EqualFold(v, "true") {
		c.DryRun = true
	}
}

// Validate fills defaults and fails on missing required credentials.
// Credential errors are fatal at startup only, never in steady state.
func (c *Config) Validate() error {
	if c.Exchange.ClobBaseURL == "" {
		c.Exchange.ClobBaseURL = "https://clob.polymarket.com"
	}
	if c.Exchange.GammaBaseURL == "" {
		c.Exchange.GammaBaseURL = "https://gamma-api.polymarket.com"
	}
	if c.Exchange.DataBaseURL == "" {
		c.Exchange.DataBaseURL = "https://data-api.polymarket.com"
	}
	if c.Exchange.WSBaseURL == "" {
		c.Exchange.WSBaseURL = "wss://ws-subscriptions-clob.polymarket.com"
	}
	if c.Exchange.ChainID == 0 {
		c.Exchange.ChainID = 137 // Polygon mainnet
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if c.Intervals.BookPollMs <= 0 {
		c.Intervals.BookPollMs = 1000
	}
	if c.Intervals.PositionsMs <= 0 {
		c.Intervals.PositionsMs = 5000
	}
	if c.Intervals.SessionSweepMs <= 0 {
		c.Intervals.SessionSweepMs = 5000
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Wallet.DerivationPath == "" {
		c.Wallet.DerivationPath = defaultDerivationPath
	}
	if !c.DryRun && c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" {
		return fmt.Errorf("wallet: privateKey or mnemonic is required (or set dryRun)")
	}
	return nil
}

// SignerKey resolves the signing key from the raw private key or, when only
// a mnemonic is configured, by HD derivation.
func (c *Config) SignerKey() (*ecdsa.PrivateKey, error) {
	if pk := strings.TrimSpace(c.Wallet.PrivateKey); pk != "" {
		return crypto.HexToECDSA(strings.TrimPrefix(pk, "0x"))
	}
	if c.Wallet.Mnemonic == "" {
		return nil, fmt.Errorf("wallet: no private key or mnemonic configured")
	}
	w, err := hdwallet.NewFromMnemonic(c.Wallet.Mnemonic)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(c.Wallet.DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("wallet: derivation path: %w", err)
	}
	account, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive account: %w", err)
	}
	return w.PrivateKey(account)
}

// FunderAddress returns the configured funder or falls back to the signer
// address.
func (c *Config) FunderAddress() (common.Address, error) {
	if f := strings.TrimSpace(c.Wallet.FunderAddress); f != "" {
		if !common.IsHexAddress(f) {
			return common.Address{}, fmt.Errorf("wallet: invalid funder address %q", f)
		}
		return common.HexToAddress(f), nil
	}
	key, err := c.SignerKey()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
