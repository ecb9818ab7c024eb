package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/binance/binancetest"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exchangeInfo() *binance.ExchangeInfoResponse {
	return &binance.ExchangeInfoResponse{Symbols: []binance.SymbolInfo{
		{Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT",
			Filters: []binance.Filter{{FilterType: "LOT_SIZE", MinQty: "0.001", StepSize: "0.001"}}},
		{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []binance.Filter{{FilterType: "LOT_SIZE", MinQty: "0.00001", StepSize: "0.00001"}}},
		{Symbol: "ETHBTC", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "BTC"},
		{Symbol: "LUNAUSDT", Status: "BREAK", BaseAsset: "LUNA", QuoteAsset: "USDT"},
	}}
}

type exchangeFixture struct {
	svc    *ExchangeService
	client *binancetest.MockRestClient
	trades *TradeService
}

func setupExchangeService(t *testing.T) exchangeFixture {
	t.Helper()
	db := setupDB(t)
	pub := &recordingPublisher{}
	trades := NewTradeService(repository.NewTradeRepository(db), pub, zap.NewNop())
	settings := NewSettingsService(repository.NewSettingsRepository(db), database.DefaultSettings(testTrading()), []string{"dip"}, pub, zap.NewNop())
	client := new(binancetest.MockRestClient)
	return exchangeFixture{
		svc:    NewExchangeService(client, trades, settings, time.Minute, zap.NewNop()),
		client: client,
		trades: trades,
	}
}

func TestExchangeService_Account(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetAccount", mock.Anything).Return(&binance.AccountResponse{
		AccountType: "SPOT",
		CanTrade:    true,
		Balances: []binance.Balance{
			{Asset: "USDT", Free: "100.5", Locked: "10"},
			{Asset: "BNB", Free: "0.00000000", Locked: "0.00000000"},
			{Asset: "BTC", Free: "0", Locked: "0.25"},
		},
	}, nil)

	account, err := f.svc.Account(context.Background())
	require.NoError(t, err)
	require.Len(t, account.Balances, 2)
	assert.Equal(t, "USDT", account.Balances[0].Asset)
	assert.InDelta(t, 110.5, account.Balances[0].Total, 1e-9)
	assert.Equal(t, "BTC", account.Balances[1].Asset)
}

func TestExchangeService_AccountMissingCredentials(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetAccount", mock.Anything).Return(nil, binance.ErrMissingCredentials)

	_, err := f.svc.Account(context.Background())
	assert.ErrorIs(t, err, binance.ErrMissingCredentials)
}

func TestExchangeService_SymbolsAreCached(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil).Once()

	symbols, err := f.svc.Symbols(context.Background(), "usdt")
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "BTCUSDT", symbols[0].Symbol, "sorted by name")
	assert.Equal(t, "0.00001", symbols[0].StepSize)
	assert.Equal(t, "ETHUSDT", symbols[1].Symbol)

	all, err := f.svc.Symbols(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3, "non-TRADING symbols are hidden")

	f.client.AssertNumberOfCalls(t, "GetExchangeInfo", 1)
}

func TestExchangeService_SymbolsServeStaleOnError(t *testing.T) {
	f := setupExchangeService(t)
	now := time.Now()
	f.svc.now = func() time.Time { return now }

	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil).Once()
	f.client.On("GetExchangeInfo", mock.Anything).Return(nil, errors.New("exchange down")).Once()

	_, err := f.svc.Symbols(context.Background(), "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	symbols, err := f.svc.Symbols(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, symbols, 3)
	f.client.AssertExpectations(t)
}

func TestExchangeService_Klines(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetKlines", mock.Anything, "BTCUSDT", "1h", defaultKlineLimit).
		Return([]binance.Kline{{OpenTime: 1, Close: 10}}, nil)

	klines, err := f.svc.Klines(context.Background(), "btcusdt", "", 0)
	require.NoError(t, err)
	assert.Len(t, klines, 1)

	_, err = f.svc.Klines(context.Background(), "BTCUSDT", "7m", 10)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Klines(context.Background(), "BTCUSDT", "1m", 5000)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExchangeService_Ticker(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetTickerPrice", mock.Anything, "ETHUSDT").Return(3000.5, nil)

	ticker, err := f.svc.Ticker(context.Background(), "ethusdt")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", ticker.Symbol)
	assert.Equal(t, 3000.5, ticker.Price)
}

func TestExchangeService_PlaceOrderOpensThenCloses(t *testing.T) {
	ctx := context.Background()
	f := setupExchangeService(t)
	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil)
	f.client.On("CreateOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, 0.00123).
		Return(binancetest.FilledOrder("BTCUSDT", binance.OrderSideBuy, 1, 0.00123, 40000), nil).Once()
	f.client.On("CreateOrder", mock.Anything, "BTCUSDT", binance.OrderSideSell, 0.00123).
		Return(binancetest.FilledOrder("BTCUSDT", binance.OrderSideSell, 2, 0.00123, 44000), nil).Once()

	opened, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "btcusdt", Side: binance.OrderSideBuy, Quantity: 0.0012345})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, opened.Trade.Status)
	assert.InDelta(t, 40000, opened.Trade.EntryPrice, 1e-6)
	assert.Equal(t, int64(1), opened.Trade.OrderID)
	assert.Equal(t, "manual", opened.Trade.Strategy)

	closed, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: binance.OrderSideSell, Quantity: 0.00123})
	require.NoError(t, err)
	assert.Equal(t, opened.Trade.ID, closed.Trade.ID, "the sell closes the open buy")
	assert.Equal(t, models.StatusClosed, closed.Trade.Status)
	assert.Greater(t, closed.Trade.PNL, 0.0)

	open, err := f.trades.ListOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
	f.client.AssertExpectations(t)
}

func TestExchangeService_PlaceOrderUnfilledIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	f := setupExchangeService(t)
	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil)
	f.client.On("CreateOrder", mock.Anything, "BTCUSDT", binance.OrderSideBuy, 0.001).
		Return(binancetest.FilledOrder("BTCUSDT", binance.OrderSideBuy, 1, 0.001, 40000), nil).Once()
	f.client.On("CreateOrder", mock.Anything, "BTCUSDT", binance.OrderSideSell, 0.001).
		Return(&binance.CreateOrderResponse{
			Symbol:              "BTCUSDT",
			OrderID:             2,
			Side:                binance.OrderSideSell,
			Status:              "EXPIRED",
			Type:                binance.OrderTypeMarket,
			ExecutedQuantity:    "0.00000000",
			CummulativeQuoteQty: "0.00000000",
		}, nil).Once()

	opened, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: binance.OrderSideBuy, Quantity: 0.001})
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: binance.OrderSideSell, Quantity: 0.001})
	assert.ErrorIs(t, err, binance.ErrOrderNotFilled)

	stored, err := f.trades.Get(ctx, opened.Trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status, "an expired order must not close the position")
	assert.Zero(t, stored.ExitPrice)

	all, err := f.trades.ListOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, all, 1, "no phantom trade is recorded")
	f.client.AssertExpectations(t)
}

func TestExchangeService_PlaceOrderIgnoresSimulatedPositions(t *testing.T) {
	ctx := context.Background()
	f := setupExchangeService(t)
	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil)
	f.client.On("CreateOrder", mock.Anything, "BTCUSDT", binance.OrderSideSell, 0.001).
		Return(binancetest.FilledOrder("BTCUSDT", binance.OrderSideSell, 7, 0.001, 41000), nil).Once()

	paper := &models.Trade{
		Symbol:       "BTCUSDT",
		Side:         models.SideBuy,
		Status:       models.StatusOpen,
		EntryPrice:   40000,
		Quantity:     0.001,
		Strategy:     "dip",
		IsSimulation: true,
		OpenedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.trades.Record(ctx, paper))

	result, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "BTCUSDT", Side: binance.OrderSideSell, Quantity: 0.001})
	require.NoError(t, err)
	assert.NotEqual(t, paper.ID, result.Trade.ID)
	assert.Equal(t, models.SideSell, result.Trade.Side)
	assert.Equal(t, models.StatusOpen, result.Trade.Status)
	assert.False(t, result.Trade.IsSimulation)
	assert.Equal(t, int64(7), result.Trade.OrderID)

	stored, err := f.trades.Get(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status, "a real fill never settles a paper position")
	f.client.AssertExpectations(t)
}

func TestExchangeService_PlaceOrderValidation(t *testing.T) {
	f := setupExchangeService(t)
	f.client.On("GetExchangeInfo", mock.Anything).Return(exchangeInfo(), nil)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{Symbol: "BTCUSDT", Side: "HODL", Quantity: 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{Symbol: "ETHUSDT", Side: binance.OrderSideBuy, Quantity: 0.0001})
	assert.ErrorIs(t, err, ErrValidation, "below LOT_SIZE minimum")

	f.client.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
