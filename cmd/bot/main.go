package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cverity/spreadbot/internal/broker"
	"github.com/cverity/spreadbot/internal/config"
	"github.com/cverity/spreadbot/internal/orders"
	signalsrv "github.com/cverity/spreadbot/internal/signal"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting spread bot in %s mode", cfg.Environment.Mode)
	if cfg.IsSandbox() {
		logger.Info("SANDBOX MODE - No real money at risk")
	} else {
		logger.Warn("LIVE MODE - Real money at risk!")
		logger.Info("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}

	logger.Info("Bot stopped successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	optType, err := broker.ParseOptionType(cfg.Order.OptionType)
	if err != nil {
		return err
	}
	effect, err := broker.ParsePriceEffect(cfg.Order.PriceEffect)
	if err != nil {
		return err
	}

	logger.Info("Authenticating to brokerage...")
	session, err := broker.NewSession(ctx, broker.SessionConfig{
		BaseURL:   cfg.Broker.BaseURL,
		Sandbox:   cfg.IsSandbox(),
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
		AccountID: cfg.Broker.AccountID,
		Timeout:   cfg.GetBrokerTimeout(),
	})
	if err != nil {
		return err
	}

	api := broker.NewCircuitBreakerAPI(session, logger)

	balance, err := api.GetBalance(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Connected to brokerage, account %s. Cash balance: $%.2f", session.AccountID(), balance)

	manager := orders.NewManager(api, logger, orders.Config{
		Underlying:     cfg.Order.Underlying,
		OptionType:     optType,
		Quantity:       cfg.Order.Quantity,
		Limit:          cfg.Order.Limit,
		PriceEffect:    effect,
		ExpiryLocation: cfg.GetExpiryLocation(),
	})

	server := signalsrv.NewServer(signalsrv.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
		Filter: signalsrv.Filter{
			Channel: cfg.Signal.Channel,
			Author:  cfg.Signal.Author,
			Mention: cfg.Signal.Mention,
		},
	}, manager, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
