package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/controlserver"
	"github.com/betbot/quoterd/internal/exchange/clob"
	"github.com/betbot/quoterd/internal/infrastructure/websocket"
	"github.com/betbot/quoterd/internal/inventory"
	"github.com/betbot/quoterd/internal/maker"
	"github.com/betbot/quoterd/internal/marketdata"
	"github.com/betbot/quoterd/internal/risk"
	"github.com/betbot/quoterd/pkg/config"
	"github.com/betbot/quoterd/pkg/logger"
	"github.com/betbot/quoterd/pkg/secretstore"
)

func main() {
	configPath := flag.String("config", "", "config file path (.yaml)")
	market := flag.String("market", "", "market to quote at startup (condition ID or Gamma ID)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *market); err != nil {
		logrus.WithError(err).Fatal("quoterd exited")
	}
}

func run(cfg *config.Config, startupMarket string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signerKey, err := cfg.SignerKey()
	if err != nil {
		if !cfg.DryRun {
			return fmt.Errorf("resolve signer key: %w", err)
		}
		logrus.Warn("no signer key configured, dry-run continues unsigned")
	}

	var walletAddress string
	funder, err := cfg.FunderAddress()
	if err == nil {
		walletAddress = funder.Hex()
	} else if !cfg.DryRun {
		return fmt.Errorf("resolve funder address: %w", err)
	}

	var store *secretstore.Store
	if cfg.SecretStorePath != "" {
		store, err = secretstore.Open(cfg.SecretStorePath)
		if err != nil {
			return fmt.Errorf("open secret store: %w", err)
		}
		defer store.Close()
	}

	client, err := clob.New(clob.Options{
		ClobBaseURL:   cfg.Exchange.ClobBaseURL,
		GammaBaseURL:  cfg.Exchange.GammaBaseURL,
		DataBaseURL:   cfg.Exchange.DataBaseURL,
		ChainID:       cfg.Exchange.ChainID,
		PrivateKey:    signerKey,
		Funder:        funder,
		SignatureType: cfg.Wallet.SignatureType,
		DryRun:        cfg.DryRun,
		Store:         store,
	})
	if err != nil {
		return fmt.Errorf("build clob client: %w", err)
	}

	if !cfg.DryRun {
		credsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.EnsureAPICreds(credsCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure api creds: %w", err)
		}
	}

	books := marketdata.NewTracker(client, time.Duration(cfg.Intervals.BookPollMs)*time.Millisecond)
	inv := inventory.NewTracker(client, walletAddress, time.Duration(cfg.Intervals.PositionsMs)*time.Millisecond)
	breaker := risk.NewCircuitBreaker(cfg.MaxConsecutiveErrors)

	orch := maker.New(books, inv, client, client, breaker, maker.Options{
		Defaults:      cfg.Strategy,
		Limits:        cfg.Risk,
		SweepInterval: time.Duration(cfg.Intervals.SessionSweepMs) * time.Millisecond,
	})
	orch.Run(ctx)

	if walletAddress != "" {
		go inv.Run(ctx)
	}

	if cfg.EnableWSFeed {
		feed := websocket.NewMarketFeed(cfg.Exchange.WSBaseURL+"/ws/market", books)
		if err := feed.Start(ctx); err != nil {
			logrus.WithError(err).Warn("market feed unavailable, polling only")
		} else {
			books.AttachFeed(feed)
			defer feed.Close()
		}
	}

	srv := controlserver.New(orch, books, inv, breaker)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start(cfg.Server.Listen) }()

	if startupMarket != "" {
		if err := orch.StartSession(ctx, startupMarket, nil); err != nil {
			logrus.WithError(err).WithField("market", startupMarket).Error("startup session failed")
		}
	}

	select {
	case <-ctx.Done():
		logrus.Info("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("control server: %w", err)
		}
	}

	// leave no resting orders behind
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, sess := range orch.Sessions() {
		if err := orch.StopSession(shutdownCtx, sess.MarketID); err != nil {
			logrus.WithError(err).WithField("market", sess.MarketID).Warn("stop session on shutdown")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("control server shutdown")
	}
	return nil
}
