package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Veenoway/spiky-faucet/internal/api"
	"github.com/Veenoway/spiky-faucet/internal/api/middleware"
	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/config"
	"github.com/Veenoway/spiky-faucet/internal/dispatch"
	"github.com/Veenoway/spiky-faucet/internal/domain"
	"github.com/Veenoway/spiky-faucet/internal/events"
	"github.com/Veenoway/spiky-faucet/internal/faucet"
	"github.com/Veenoway/spiky-faucet/internal/ledger"
	"github.com/Veenoway/spiky-faucet/internal/observability"
	"github.com/Veenoway/spiky-faucet/internal/sourcepool"
	"go.uber.org/zap"
)

// Run bootstraps the faucet service and HTTP server, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)

	// The real RPC client is a drop-in here; the mock node keeps local runs
	// and CI self-contained.
	balances := make(map[string]domain.Amount, len(cfg.FundingIDs))
	for _, id := range cfg.FundingIDs {
		balances[id] = cfg.SeedBalance
	}
	node := chain.NewMockNode(balances)
	node.ConfirmDelay = 500 * time.Millisecond

	quota := ledger.New(ledger.Config{
		Cooldown:      cfg.Cooldown,
		RecipientCap:  cfg.RecipientCap,
		GlobalBudget:  cfg.GlobalBudget,
		ResetInterval: cfg.ResetInterval,
	}, logger, time.Now())

	pool := sourcepool.New(node, cfg.FundingIDs, logger)

	var emitter *events.Emitter
	if cfg.NATSURL != "" {
		emitter, err = events.NewEmitter(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("connect events: %w", err)
		}
		defer emitter.Close()
		logger.Info("event emitter connected", zap.String("subject", cfg.NATSSubject))
	}

	worker := dispatch.NewWorker(quota, pool, node, emitter, logger, dispatch.Config{
		ConfirmTimeout:     cfg.ConfirmTimeout,
		FundingBackoff:     cfg.FundingBackoff,
		FundingWaitCeiling: cfg.FundingWaitCeiling,
		SubmitAttempts:     cfg.SubmitAttempts,
		TokenDecimals:      cfg.TokenDecimals,
	})

	svc := faucet.NewService(faucet.Config{
		DripAmount:          cfg.DripAmount,
		MaxRecipientBalance: cfg.MaxRecipientBalance,
		TokenDecimals:       cfg.TokenDecimals,
		TokenSymbol:         cfg.TokenSymbol,
	}, chain.HexAddressValidator{}, node, quota, pool, worker, logger)

	router := api.NewRouter(cfg, logger, svc, worker, node)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	// Let the in-flight transfer finish before cutting the worker off.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout)
	defer drainCancel()
	if err := worker.WaitIdle(drainCtx); err != nil {
		logger.Warn("dispatch queue not drained before shutdown", zap.Error(err))
	}
	worker.Stop()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
