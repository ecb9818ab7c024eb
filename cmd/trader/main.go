package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/logger"
	"crypto-trading-bot-go/internal/repository"
	"crypto-trading-bot-go/internal/service"
	"crypto-trading-bot-go/internal/trader"

	"go.uber.org/zap"
)

// main runs the trading engine without the HTTP API.
func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database, cfg.Trading, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Binance REST client
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(ctx); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	// Without the API nobody consumes events, so the bus only keeps the services' contract.
	bus := events.NewBus(log, 256)
	defer bus.Shutdown(context.Background())

	trades := service.NewTradeService(repository.NewTradeRepository(db), bus, log)
	settings := service.NewSettingsService(
		repository.NewSettingsRepository(db),
		database.DefaultSettings(cfg.Trading),
		trader.StrategyNames(),
		bus,
		log,
	)

	// Initialize and run the trading engine
	tradeEngine := trader.NewEngine(log, restClient, settings, trades, repository.NewPairRepository(db))
	err = tradeEngine.Run(ctx, func(result trader.TickResult, err error) {
		if err == nil && (result.Opened > 0 || result.Closed > 0) {
			log.Info("Positions changed",
				zap.Int("opened", result.Opened),
				zap.Int("closed", result.Closed),
				zap.Time("at", result.At.Truncate(time.Second)))
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Trading engine stopped", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
