package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"
	"crypto-trading-bot-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SettingsSource supplies the settings snapshot read on every tick.
type SettingsSource interface {
	Snapshot(ctx context.Context) (models.BotSettings, error)
}

// TickResult summarises one scout cycle.
type TickResult struct {
	At       time.Time `json:"at"`
	Strategy string    `json:"strategy"`
	Checked  int       `json:"checked"`
	Opened   int       `json:"opened"`
	Closed   int       `json:"closed"`
	DryRun   bool      `json:"dry_run"`
}

// TickFunc observes every tick. err is the tick's error, if any.
type TickFunc func(TickResult, error)

// Engine is the core trading engine that runs the polling-based scouting loop.
type Engine struct {
	logger   *zap.Logger
	client   binance.RestClientInterface
	settings SettingsSource
	trades   *service.TradeService
	pairs    repository.PairRepository
	rules    binance.SymbolRules
	strategy Strategy
	now      func() time.Time

	// Exit fills whose trade could not be closed yet, keyed by trade ID.
	mu           sync.Mutex
	pendingExits map[uint]pendingExit
}

type pendingExit struct {
	orderID  int64
	price    float64
	quoteQty float64
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, client binance.RestClientInterface, settings SettingsSource, trades *service.TradeService, pairs repository.PairRepository) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		client:   client,
		settings: settings,
		trades:   trades,
		pairs:    pairs,
		rules:    binance.SymbolRules{},
		now:      func() time.Time { return time.Now().UTC() },

		pendingExits: make(map[uint]pendingExit),
	}
}

// Run initializes the engine and ticks until ctx is cancelled. The interval is
// re-read from the settings after every tick.
func (e *Engine) Run(ctx context.Context, onTick TickFunc) error {
	e.logger.Info("Initializing trading engine...")
	if err := e.initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	e.logger.Info("Engine initialized successfully.")

	for {
		result, err := e.Tick(ctx)
		if ctx.Err() != nil {
			e.logger.Info("Stopping trading engine...")
			return ctx.Err()
		}
		if err != nil {
			e.logger.Error("Scout failed", zap.Error(err))
		}
		if onTick != nil {
			onTick(result, err)
		}

		interval := e.interval(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (e *Engine) interval(ctx context.Context) time.Duration {
	settings, err := e.settings.Snapshot(ctx)
	if err != nil || settings.TickIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(settings.TickIntervalSeconds) * time.Second
}

// initialize fetches and caches exchange info and sets up the configured strategy.
func (e *Engine) initialize(ctx context.Context) error {
	e.logger.Info("Fetching exchange information...")
	info, err := e.client.GetExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("could not get exchange info: %w", err)
	}
	e.rules = binance.NewSymbolRules(info)
	e.logger.Info("Successfully cached exchange information for symbols", zap.Int("count", len(e.rules)))

	settings, err := e.settings.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("could not load settings: %w", err)
	}
	for _, symbol := range settings.Symbols {
		if _, ok := e.rules[symbol]; !ok {
			e.logger.Warn("Configured symbol is not listed on the exchange", zap.String("symbol", symbol))
		}
	}
	return nil
}

func (e *Engine) ensureStrategy(ctx context.Context, sc *StrategyContext) error {
	name := strings.ToLower(sc.Settings.Strategy)
	if name == "" {
		name = DipStrategyName
	}
	if e.strategy != nil && e.strategy.Name() == name {
		return nil
	}

	strategy, err := NewStrategy(name)
	if err != nil {
		return err
	}
	if err := strategy.Initialize(ctx, sc); err != nil {
		return fmt.Errorf("failed to initialize strategy %s: %w", name, err)
	}
	e.logger.Info("Strategy selected", zap.String("strategy", name))
	e.strategy = strategy
	return nil
}

// Tick performs a single round: exits on take-profit / stop-loss first, then entries.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	result := TickResult{At: e.now()}

	var (
		settings  models.BotSettings
		rawPrices map[string]string
		open      []models.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		settings, err = e.settings.Snapshot(gctx)
		return err
	})
	g.Go(func() (err error) {
		rawPrices, err = e.client.GetAllTickerPrices(gctx)
		if err != nil {
			return fmt.Errorf("could not get all ticker prices: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		open, err = e.trades.ListOpen(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.DryRun = settings.DryRun
	prices := parsePrices(rawPrices, e.logger)
	sc := &StrategyContext{
		Logger:   e.logger,
		Settings: settings,
		Prices:   prices,
		Rules:    e.rules,
		Pairs:    e.pairs,
	}
	if err := e.ensureStrategy(ctx, sc); err != nil {
		return result, err
	}
	result.Strategy = e.strategy.Name()

	var errs []error

	// Exits.
	held := make(map[string]bool, len(open))
	remaining := 0
	for i := range open {
		trade := &open[i]
		closed, err := e.checkExit(ctx, trade, prices, settings)
		if err != nil {
			errs = append(errs, err)
		}
		if closed {
			result.Closed++
			continue
		}
		held[trade.Symbol] = true
		remaining++
	}

	// Entries.
	slots := settings.MaxOpenTrades - remaining
	for _, symbol := range settings.Symbols {
		if !held[symbol] {
			sc.Candidates = append(sc.Candidates, symbol)
		}
	}
	result.Checked = len(sc.Candidates)

	if slots <= 0 {
		e.logger.Debug("Max open trades reached", zap.Int("open", remaining), zap.Int("max", settings.MaxOpenTrades))
	} else if len(sc.Candidates) > 0 {
		opportunities, err := e.strategy.Scout(ctx, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("scout failed: %w", err))
		}
		for _, opp := range opportunities {
			if slots == 0 {
				break
			}
			opened, err := e.enter(ctx, opp, settings)
			if err != nil {
				errs = append(errs, err)
			}
			if !opened {
				continue
			}
			result.Opened++
			slots--
		}
	}

	e.logger.Info("Scout cycle complete.",
		zap.String("strategy", result.Strategy),
		zap.Int("checked", result.Checked),
		zap.Int("opened", result.Opened),
		zap.Int("closed", result.Closed),
	)
	return result, errors.Join(errs...)
}

// checkExit closes trade when it hit take-profit or stop-loss.
// Simulated trades are closed at the ticker price; real ones only while live trading.
// A filled exit whose close failed is retried without placing another order.
func (e *Engine) checkExit(ctx context.Context, trade *models.Trade, prices map[string]float64, settings models.BotSettings) (bool, error) {
	if fill, ok := e.pendingExit(trade.ID); ok {
		l := e.logger.With(
			zap.Uint("trade_id", trade.ID),
			zap.String("symbol", trade.Symbol),
			zap.Int64("order_id", fill.orderID),
		)
		l.Info("Retrying close of an already filled exit")
		return e.closeTrade(ctx, l, trade, fill, settings)
	}

	price, ok := prices[trade.Symbol]
	if !ok {
		return false, nil
	}

	reason, change := exitReason(trade, price, settings)
	if reason == "" {
		return false, nil
	}

	l := e.logger.With(
		zap.Uint("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", reason),
		zap.Float64("change_percent", change),
	)

	if !trade.IsSimulation && settings.DryRun {
		l.Warn("Exit signal on a live position while dry run is enabled, leaving it open")
		return false, nil
	}

	fill := pendingExit{price: price, quoteQty: price * trade.Quantity}
	if !trade.IsSimulation {
		quantity, err := binance.FormatQuantity(e.rules, trade.Symbol, trade.Quantity)
		if err != nil {
			return false, fmt.Errorf("trade %d: %w", trade.ID, err)
		}
		order, err := e.client.CreateOrder(ctx, trade.Symbol, trade.ExitSide(), quantity)
		if err != nil {
			l.Error("Failed to execute exit", zap.Error(err))
			return false, fmt.Errorf("exit for trade %d failed: %w", trade.ID, err)
		}
		fill.orderID = order.OrderID
		if avg, _, quote := order.AveragePrice(); avg > 0 {
			fill.price, fill.quoteQty = avg, quote
		}
		e.setPendingExit(trade.ID, fill)
	}

	return e.closeTrade(ctx, l, trade, fill, settings)
}

func (e *Engine) closeTrade(ctx context.Context, l *zap.Logger, trade *models.Trade, fill pendingExit, settings models.BotSettings) (bool, error) {
	if err := e.trades.Close(ctx, trade, fill.price, service.FeeFor(fill.quoteQty, settings.FeeRate)); err != nil {
		if fill.orderID != 0 {
			l.Error("Exit filled but trade could not be closed", zap.Error(err))
		}
		return false, err
	}
	e.clearPendingExit(trade.ID)

	// Measure the next dip from where we got out.
	if err := e.pairs.Upsert(ctx, trade.Symbol, fill.price); err != nil {
		l.Warn("Failed to reset reference price", zap.Error(err))
	}

	l.Info("Position closed", zap.Float64("exit_price", fill.price), zap.Float64("pnl", trade.PNL))
	return true, nil
}

func (e *Engine) pendingExit(tradeID uint) (pendingExit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fill, ok := e.pendingExits[tradeID]
	return fill, ok
}

func (e *Engine) setPendingExit(tradeID uint, fill pendingExit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingExits[tradeID] = fill
}

func (e *Engine) clearPendingExit(tradeID uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pendingExits, tradeID)
}

// enter buys trade_amount worth of the opportunity's symbol.
func (e *Engine) enter(ctx context.Context, opp Opportunity, settings models.BotSettings) (bool, error) {
	quantity, err := binance.FormatQuantity(e.rules, opp.Symbol, settings.TradeAmount/opp.Price)
	if err != nil {
		e.logger.Warn("Skipping entry", zap.String("symbol", opp.Symbol), zap.Error(err))
		return false, nil
	}

	l := e.logger.With(
		zap.String("symbol", opp.Symbol),
		zap.Float64("price", opp.Price),
		zap.Float64("reference", opp.Reference),
		zap.Float64("quantity", quantity),
	)

	trade := &models.Trade{
		Symbol:       opp.Symbol,
		Side:         models.SideBuy,
		Status:       models.StatusOpen,
		EntryPrice:   opp.Price,
		Quantity:     quantity,
		Strategy:     e.strategy.Name(),
		IsSimulation: settings.DryRun,
		OpenedAt:     e.now(),
	}

	if settings.DryRun {
		l.Warn("Dry run enabled. No real trade will be executed.")
		trade.QuoteQuantity = quantity * opp.Price
	} else {
		order, err := e.client.CreateOrder(ctx, opp.Symbol, binance.OrderSideBuy, quantity)
		if err != nil {
			l.Error("Failed to execute trade", zap.Error(err))
			return false, fmt.Errorf("entry for %s failed: %w", opp.Symbol, err)
		}
		avg, executed, quote := order.AveragePrice()
		if avg > 0 {
			trade.EntryPrice, trade.Quantity, trade.QuoteQuantity = avg, executed, quote
		} else {
			trade.QuoteQuantity = quantity * opp.Price
		}
		trade.OrderID = order.OrderID
		trade.ClientOrderID = order.ClientOrderID
	}
	trade.Fee = service.FeeFor(trade.QuoteQuantity, settings.FeeRate)

	if err := e.trades.Record(ctx, trade); err != nil {
		return false, fmt.Errorf("failed to save trade record: %w", err)
	}
	l.Info("Position opened", zap.Uint("trade_id", trade.ID), zap.Bool("simulation", trade.IsSimulation))
	return true, nil
}
