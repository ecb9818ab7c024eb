package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"crypto-trading-bot-go/internal/api"
	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/bot"
	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/logger"
	"crypto-trading-bot-go/internal/repository"
	"crypto-trading-bot-go/internal/service"
	"crypto-trading-bot-go/internal/stream"
	"crypto-trading-bot-go/internal/trader"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	eventQueueSize     = 1024
	logFlushInterval   = 5 * time.Second
	exchangeCheckLimit = 5 * time.Second
)

// app owns every long-lived component of the server process.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	logs   *logger.Buffer
	core   *logger.BufferCore
	bus    *events.Bus
	db     *gorm.DB
	client *binance.RestClient

	trades   *service.TradeService
	settings *service.SettingsService
	exchange *service.ExchangeService
	bot      *bot.Controller
	hub      *stream.Hub
}

// newLogging builds the log buffer and a logger that tees every entry into it.
func newLogging(cfg config.Logger) (*zap.Logger, *logger.Buffer, *logger.BufferCore, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid logger.level: %w", err)
	}
	logs, err := logger.NewBuffer(cfg.BufferSize, cfg.SpillFile)
	if err != nil {
		return nil, nil, nil, err
	}
	core := logger.NewBufferCore(logs, level, nil)
	log, err := logger.NewLogger(cfg.Level, cfg.Format, core)
	if err != nil {
		_ = logs.Close()
		return nil, nil, nil, err
	}
	return log, logs, core, nil
}

func newApp(cfg config.Config) (*app, error) {
	log, logs, core, err := newLogging(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, logs: logs, core: core}

	// Log entries reach WebSocket clients through the bus.
	a.bus = events.NewBus(log, eventQueueSize)
	core.SetOnEntry(func(e logger.Entry) {
		a.bus.Publish(events.LogEntry, e)
	})

	a.db, err = database.NewDatabase(cfg.Database, cfg.Trading, log)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))

	a.client = binance.NewRestClient(&cfg.Binance, log)
	if !cfg.Binance.HasCredentials() {
		log.Warn("Exchange credentials are not configured. Account and order endpoints are disabled.")
	}

	a.trades = service.NewTradeService(repository.NewTradeRepository(a.db), a.bus, log)
	a.settings = service.NewSettingsService(
		repository.NewSettingsRepository(a.db),
		database.DefaultSettings(cfg.Trading),
		trader.StrategyNames(),
		a.bus,
		log,
	)
	a.exchange = service.NewExchangeService(a.client, a.trades, a.settings, cfg.Binance.SymbolCacheTTL, log)

	engine := trader.NewEngine(log, a.client, a.settings, a.trades, repository.NewPairRepository(a.db))
	a.bot = bot.NewController(engine, a.settings, a.bus, log)

	a.hub = stream.NewHub(cfg.WebSocket, cfg.Server.AllowedOrigins, func(limit int) []logger.Entry {
		return logs.Recent(limit, zapcore.DebugLevel)
	}, log)
	a.bus.SubscribeAll(a.hub.HandleEvent)

	return a, nil
}

// checkExchange logs whether the exchange answers; the server starts either way.
func (a *app) checkExchange(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, exchangeCheckLimit)
	defer cancel()

	serverTime, err := a.client.GetServerTime(ctx)
	if err != nil {
		a.log.Warn("Exchange is not reachable", zap.Error(err))
		return
	}
	a.log.Info("Successfully connected to exchange API.",
		zap.Duration("clock_skew", time.Since(time.UnixMilli(serverTime))))
}

// serve runs the HTTP server and the hub until ctx is cancelled, then shuts everything down.
func (a *app) serve(ctx context.Context, startBot bool) error {
	srv := api.NewServer(api.Deps{
		DB:             a.db,
		Trades:         a.trades,
		Settings:       a.settings,
		Exchange:       a.exchange,
		Bot:            a.bot,
		Hub:            a.hub,
		Bus:            a.bus,
		Logs:           a.logs,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Version:        version,
	}, a.log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.checkExchange(ctx)
	if startBot {
		if _, err := a.bot.Start(ctx); err != nil {
			return err
		}
	}

	flushDone := a.logs.StartPeriodicFlush(logFlushInterval, func(err error) {
		// Logging here would feed the buffer that failed to flush.
		fmt.Fprintf(os.Stderr, "log spill flush failed: %v\n", err)
	})
	defer close(flushDone)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info("Starting web server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.bot.Running() {
			if _, err := a.bot.Stop(shutdownCtx); err != nil && !errors.Is(err, bot.ErrNotRunning) {
				errs = append(errs, fmt.Errorf("failed to stop bot: %w", err))
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop web server: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// close releases resources in reverse order of creation.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.log.Warn("Failed to close database", zap.Error(err))
		}
	}
	a.log.Info("Server has been shut down.")

	// Detach the stream before the bus stops accepting events.
	a.core.SetOnEntry(nil)
	if a.bus != nil {
		if err := a.bus.Shutdown(ctx); err != nil {
			a.log.Warn("Event bus did not drain", zap.Error(err))
		}
	}
	_ = a.log.Sync()
	if err := a.logs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log buffer: %v\n", err)
	}
}
