package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"github.com/dauphongxd/tradingbot/config"
	"github.com/dauphongxd/tradingbot/internal/adapters/binanceclient"
	"github.com/dauphongxd/tradingbot/internal/adapters/logger"
	"github.com/dauphongxd/tradingbot/internal/adapters/ocr"
	"github.com/dauphongxd/tradingbot/internal/adapters/sqlite"
	"github.com/dauphongxd/tradingbot/internal/adapters/telegram"
	"github.com/dauphongxd/tradingbot/internal/app"
	"github.com/dauphongxd/tradingbot/internal/engine"
	"github.com/dauphongxd/tradingbot/internal/intake"
	"github.com/dauphongxd/tradingbot/internal/monitor"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(logger.ParseLevel(cfg.LogLevel))
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// Root context cancelled on SIGINT/SIGTERM for a clean shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Ledger Store (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath:          cfg.Database.Path,
		Logger:          appLogger,
		InitialBalance:  cfg.Trading.InitialBalance,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
		DefaultRisk:     cfg.Trading.DefaultRisk,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger store: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing ledger store")
		}
	}()
	appLogger.Info(ctx, "Ledger store initialized")

	// 4. Initialize Price Feed (Binance Adapter)
	feed, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.Binance.APIKey,
		SecretKey:  cfg.Binance.SecretKey,
		UseTestnet: cfg.Binance.UseTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize price feed: %v", err)
	}
	appLogger.Info(ctx, "Price feed initialized")

	// 5. Initialize Notifier (Telegram Adapter)
	notifier, err := telegram.New(telegram.Config{
		Token:  cfg.Telegram.Token,
		ChatID: cfg.Telegram.ChatID,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
	}
	appLogger.Info(ctx, "Telegram notifier initialized")

	// 6. Initialize Price Extractor (OCR Adapter)
	extractor, err := ocr.New(ocr.Config{
		Language: cfg.OCR.Language,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize OCR extractor: %v", err)
	}
	defer func() {
		if err := extractor.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing OCR extractor")
		}
	}()
	appLogger.Info(ctx, "OCR extractor initialized")

	// 7. Initialize Lifecycle Engine
	eng, err := engine.New(repo, feed, notifier, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize lifecycle engine: %v", err)
	}

	// 8. Initialize Signal Intake
	in, err := intake.New(intake.Config{
		Blacklist:   cfg.Trading.Blacklist,
		QuoteSuffix: cfg.Trading.QuoteSuffix,
	}, repo, eng, extractor, notifier, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal intake: %v", err)
	}

	// 9. Initialize Application Service
	svc, err := app.New(app.Config{
		Store:    repo,
		Feed:     feed,
		Engine:   eng,
		Intake:   in,
		Notifier: notifier,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize application service: %v", err)
	}
	// 10. Initialize Command Listener (Telegram long polling)
	listener, err := telegram.NewListener(telegram.ListenerConfig{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		Commands: svc,
		Notifier: notifier,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Telegram listener: %v", err)
	}
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error(context.Background(), err, "Telegram listener exited with error")
		}
	}()

	// 11. Run the Monitor Loop
	mon, err := monitor.New(monitor.Config{
		PollInterval:    cfg.Monitor.PollInterval,
		Cooldown:        cfg.Monitor.Cooldown,
		Retry:           monitor.RetryConfig{MaxAttempts: cfg.Monitor.RetryAttempts, Delay: cfg.Monitor.RetryDelay},
		StaleConfirmAge: cfg.Monitor.StaleConfirmAge,
	}, repo, feed, eng, notifier, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize monitor: %v", err)
	}

	appLogger.Info(ctx, "Starting monitor loop", map[string]interface{}{"pollInterval": cfg.Monitor.PollInterval.String()})
	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Monitor loop exited with error")
		log.Fatalf("FATAL: Monitor loop exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
