// Package binancetest provides a testify mock of the exchange client.
package binancetest

import (
	"context"
	"strconv"

	"crypto-trading-bot-go/internal/binance"

	"github.com/stretchr/testify/mock"
)

// MockRestClient is a mock implementation of the RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

var _ binance.RestClientInterface = (*MockRestClient)(nil)

func (m *MockRestClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRestClient) GetAllTickerPrices(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	prices, _ := args.Get(0).(map[string]string)
	return prices, args.Error(1)
}

func (m *MockRestClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRestClient) GetExchangeInfo(ctx context.Context) (*binance.ExchangeInfoResponse, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*binance.ExchangeInfoResponse)
	return info, args.Error(1)
}

func (m *MockRestClient) GetAccount(ctx context.Context) (*binance.AccountResponse, error) {
	args := m.Called(ctx)
	account, _ := args.Get(0).(*binance.AccountResponse)
	return account, args.Error(1)
}

func (m *MockRestClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	args := m.Called(ctx, symbol, interval, limit)
	klines, _ := args.Get(0).([]binance.Kline)
	return klines, args.Error(1)
}

func (m *MockRestClient) CreateOrder(ctx context.Context, symbol, side string, quantity float64) (*binance.CreateOrderResponse, error) {
	args := m.Called(ctx, symbol, side, quantity)
	order, _ := args.Get(0).(*binance.CreateOrderResponse)
	return order, args.Error(1)
}

// FilledOrder builds a fully executed order response.
func FilledOrder(symbol, side string, orderID int64, quantity, price float64) *binance.CreateOrderResponse {
	return &binance.CreateOrderResponse{
		Symbol:              symbol,
		OrderID:             orderID,
		ClientOrderID:       "bot-test",
		Side:                side,
		Status:              "FILLED",
		Type:                binance.OrderTypeMarket,
		ExecutedQuantity:    formatFloat(quantity),
		CummulativeQuoteQty: formatFloat(quantity * price),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
