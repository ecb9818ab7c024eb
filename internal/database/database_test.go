package database

import (
	"context"
	"path/filepath"
	"testing"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTrading() config.Trading {
	return config.Trading{
		QuoteAsset:    "usdt",
		Symbols:       []string{"btcusdt", " ETHUSDT "},
		TradeAmount:   25,
		TakeProfit:    2,
		StopLoss:      1,
		EntryDrop:     1.5,
		MaxOpenTrades: 2,
		FeeRate:       0.001,
		DryRun:        true,
		TickInterval:  10,
		Strategy:      "dip",
	}
}

func TestNewDatabase_MigratesAndSeedsSettings(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "bot.db")
	db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: dsn}, testTrading(), zap.NewNop())
	require.NoError(t, err)
	defer Close(db)

	var settings models.BotSettings
	require.NoError(t, db.First(&settings, models.SettingsID).Error)
	assert.Equal(t, "USDT", settings.QuoteAsset)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, []string(settings.Symbols))
	assert.InDelta(t, 1.5, settings.EntryDropPercent, 1e-9)

	assert.NoError(t, Ping(context.Background(), db))
}

func TestAutoMigrate_KeepsExistingSettings(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bot.db")
	db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: dsn}, testTrading(), zap.NewNop())
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, db.Model(&models.BotSettings{}).Where("id = ?", models.SettingsID).Update("trade_amount", 99).Error)
	require.NoError(t, db.Create(&models.Trade{Symbol: "BTCUSDT", Side: models.SideBuy, Status: models.StatusOpen, EntryPrice: 1, Quantity: 1}).Error)

	require.NoError(t, AutoMigrate(db, testTrading()))

	var settings models.BotSettings
	require.NoError(t, db.First(&settings, models.SettingsID).Error)
	assert.InDelta(t, 99, settings.TradeAmount, 1e-9)

	var count int64
	require.NoError(t, db.Model(&models.BotSettings{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&models.Trade{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(config.Database{Driver: "oracle", DSN: "x"}, testTrading(), zap.NewNop())
	assert.Error(t, err)
}
