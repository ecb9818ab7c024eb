package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/models"

	"go.uber.org/zap"
)

const (
	defaultKlineLimit = 100
	maxKlineLimit     = 1000
)

var klineIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// BalanceView is one non-empty asset of the account.
type BalanceView struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// AccountSummary is the account as exposed by the API.
type AccountSummary struct {
	AccountType string        `json:"account_type"`
	CanTrade    bool          `json:"can_trade"`
	UpdateTime  int64         `json:"update_time"`
	Balances    []BalanceView `json:"balances"`
}

// SymbolView is a tradable symbol with its lot rules.
type SymbolView struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	MinQty     string `json:"min_qty,omitempty"`
	StepSize   string `json:"step_size,omitempty"`
}

// TickerView is the latest price of a symbol.
type TickerView struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceOrderRequest is a manual MARKET order.
type PlaceOrderRequest struct {
	Symbol   string  `json:"symbol" validate:"required,alphanum,uppercase,min=5,max=20"`
	Side     string  `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

// OrderResult pairs the exchange answer with the trade it opened or closed.
type OrderResult struct {
	Order *binance.CreateOrderResponse `json:"order"`
	Trade *models.Trade                `json:"trade"`
}

// SettingsSource supplies the current bot settings.
type SettingsSource interface {
	Snapshot(ctx context.Context) (models.BotSettings, error)
}

// ExchangeService fronts the exchange client for the API.
type ExchangeService struct {
	client   binance.RestClientInterface
	trades   *TradeService
	settings SettingsSource
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	info      *binance.ExchangeInfoResponse
	fetchedAt time.Time
}

func NewExchangeService(client binance.RestClientInterface, trades *TradeService, settings SettingsSource, cacheTTL time.Duration, logger *zap.Logger) *ExchangeService {
	return &ExchangeService{
		client:   client,
		trades:   trades,
		settings: settings,
		logger:   logger.Named("exchange"),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Account returns the balances that are not zero.
func (s *ExchangeService) Account(ctx context.Context) (*AccountSummary, error) {
	account, err := s.client.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	summary := &AccountSummary{
		AccountType: account.AccountType,
		CanTrade:    account.CanTrade,
		UpdateTime:  account.UpdateTime,
		Balances:    []BalanceView{},
	}
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		summary.Balances = append(summary.Balances, BalanceView{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free + locked,
		})
	}
	return summary, nil
}

func (s *ExchangeService) exchangeInfo(ctx context.Context) (*binance.ExchangeInfoResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info != nil && s.now().Sub(s.fetchedAt) < s.cacheTTL {
		return s.info, nil
	}

	info, err := s.client.GetExchangeInfo(ctx)
	if err != nil {
		if s.info != nil {
			s.logger.Warn("Serving stale exchange info", zap.Error(err))
			return s.info, nil
		}
		return nil, err
	}
	s.info = info
	s.fetchedAt = s.now()
	return info, nil
}

// Rules returns the cached symbol rules used for quantity rounding.
func (s *ExchangeService) Rules(ctx context.Context) (binance.SymbolRules, error) {
	info, err := s.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	return binance.NewSymbolRules(info), nil
}

// Symbols lists TRADING symbols, optionally restricted to one quote asset, sorted by name.
func (s *ExchangeService) Symbols(ctx context.Context, quote string) ([]SymbolView, error) {
	info, err := s.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	quote = normalizeSymbol(quote)
	rules := binance.NewSymbolRules(info)
	out := make([]SymbolView, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status != "TRADING" {
			continue
		}
		if quote != "" && sym.QuoteAsset != quote {
			continue
		}
		view := SymbolView{Symbol: sym.Symbol, BaseAsset: sym.BaseAsset, QuoteAsset: sym.QuoteAsset}
		if lot, ok := rules.LotSize(sym.Symbol); ok {
			view.MinQty, view.StepSize = lot.MinQty, lot.StepSize
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *ExchangeService) Ticker(ctx context.Context, symbol string) (*TickerView, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, invalid("symbol is required")
	}
	price, err := s.client.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &TickerView{Symbol: symbol, Price: price, Timestamp: s.now().UTC()}, nil
}

// Klines returns OHLCV candles. limit defaults to 100 and must not exceed 1000.
func (s *ExchangeService) Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, invalid("symbol is required")
	}
	if interval == "" {
		interval = "1h"
	}
	if !klineIntervals[interval] {
		return nil, invalid("unsupported interval %q", interval)
	}
	if limit == 0 {
		limit = defaultKlineLimit
	}
	if limit < 0 || limit > maxKlineLimit {
		return nil, invalid("limit must be between 1 and %d", maxKlineLimit)
	}
	return s.client.GetKlines(ctx, symbol, interval, limit)
}

// PlaceOrder sends a MARKET order. An order opposite to an open real position on
// the symbol closes the oldest such position; anything else opens a new one.
// Orders that come back unfilled are not recorded.
func (s *ExchangeService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	req.Symbol = normalizeSymbol(req.Symbol)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if rules, err := s.Rules(ctx); err != nil {
		s.logger.Warn("Placing order without lot rules", zap.String("symbol", req.Symbol), zap.Error(err))
	} else if quantity, err = binance.FormatQuantity(rules, req.Symbol, req.Quantity); err != nil {
		return nil, invalid("%v", err)
	}

	open, err := s.trades.ListOpen(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	order, err := s.client.CreateOrder(ctx, req.Symbol, req.Side, quantity)
	if err != nil {
		return nil, err
	}

	price, executed, quote := order.AveragePrice()
	if executed <= 0 || price <= 0 {
		s.logger.Warn("Order returned without a fill",
			zap.String("symbol", req.Symbol),
			zap.Int64("order_id", order.OrderID),
			zap.String("status", order.Status))
		return nil, fmt.Errorf("order %d on %s (status %s): %w", order.OrderID, req.Symbol, order.Status, binance.ErrOrderNotFilled)
	}
	fee := FeeFor(quote, settings.FeeRate)

	for i := range open {
		// Paper positions are never settled by a real fill.
		if open[i].IsSimulation || open[i].ExitSide() != req.Side {
			continue
		}
		position := &open[i]
		if err := s.trades.Close(ctx, position, price, fee); err != nil {
			return nil, err
		}
		return &OrderResult{Order: order, Trade: position}, nil
	}

	trade := &models.Trade{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        models.StatusOpen,
		EntryPrice:    price,
		Quantity:      executed,
		QuoteQuantity: quote,
		Fee:           fee,
		Strategy:      "manual",
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		OpenedAt:      s.now().UTC(),
	}
	if err := s.trades.Record(ctx, trade); err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Trade: trade}, nil
}
