package service

import (
	"path/filepath"
	"sync"
	"testing"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// recordingPublisher captures published event types.
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	data  []interface{}
}

func (p *recordingPublisher) Publish(eventType string, data interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	p.data = append(p.data, data)
	return true
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func testTrading() config.Trading {
	return config.Trading{
		QuoteAsset:    "USDT",
		Symbols:       []string{"BTCUSDT", "ETHUSDT"},
		TradeAmount:   50,
		TakeProfit:    2,
		StopLoss:      1,
		EntryDrop:     1,
		MaxOpenTrades: 3,
		FeeRate:       0.001,
		DryRun:        true,
		TickInterval:  30,
		Strategy:      "dip",
	}
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "service.db")}
	db, err := database.NewDatabase(cfg, testTrading(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func setupTradeService(t *testing.T) (*TradeService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewTradeService(repository.NewTradeRepository(setupDB(t)), pub, zap.NewNop()), pub
}

func ptr[T any](v T) *T { return &v }
