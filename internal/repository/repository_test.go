package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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
	cfg := config.Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "repo.db")}
	db, err := database.NewDatabase(cfg, testTrading(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTrade(symbol, side, status string, pnl float64, openedAt time.Time) *models.Trade {
	return &models.Trade{
		Symbol:     symbol,
		Side:       side,
		Status:     status,
		EntryPrice: 100,
		Quantity:   1,
		PNL:        pnl,
		OpenedAt:   openedAt,
	}
}

func TestTradeRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(setupDB(t))

	trade := newTrade("BTCUSDT", models.SideBuy, models.StatusOpen, 0, time.Time{})
	require.NoError(t, repo.Create(ctx, trade))
	require.NotZero(t, trade.ID)
	assert.False(t, trade.OpenedAt.IsZero(), "opened_at defaults to now")

	got, err := repo.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.True(t, got.IsOpen())

	got.Status = models.StatusClosed
	got.ExitPrice = 110
	got.PNL = 10
	require.NoError(t, repo.Update(ctx, got))

	reloaded, err := repo.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, reloaded.Status)
	assert.Equal(t, 10.0, reloaded.PNL)

	require.NoError(t, repo.Delete(ctx, trade.ID))
	_, err = repo.Get(ctx, trade.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, trade.ID), ErrNotFound)
}

func TestTradeRepository_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(setupDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newTrade("BTCUSDT", models.SideBuy, models.StatusClosed, 5, now.Add(-3*time.Hour))))
	require.NoError(t, repo.Create(ctx, newTrade("ETHUSDT", models.SideBuy, models.StatusOpen, 0, now.Add(-2*time.Hour))))
	require.NoError(t, repo.Create(ctx, newTrade("BTCUSDT", models.SideSell, models.StatusOpen, 0, now.Add(-1*time.Hour))))

	all, err := repo.List(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.SideSell, all[0].Side, "newest first")
	assert.Equal(t, models.StatusClosed, all[2].Status)

	btc, err := repo.List(ctx, TradeFilter{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Len(t, btc, 2)

	open, err := repo.List(ctx, TradeFilter{Status: models.StatusOpen, Side: models.SideBuy})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ETHUSDT", open[0].Symbol)

	recent, err := repo.List(ctx, TradeFilter{Since: now.Add(-150 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := repo.List(ctx, TradeFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ETHUSDT", page[0].Symbol)

	count, err := repo.Count(ctx, TradeFilter{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTradeRepository_ListOpen(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(setupDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newTrade("BTCUSDT", models.SideBuy, models.StatusOpen, 0, now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newTrade("BTCUSDT", models.SideBuy, models.StatusClosed, 1, now)))
	require.NoError(t, repo.Create(ctx, newTrade("ETHUSDT", models.SideBuy, models.StatusOpen, 0, now)))

	all, err := repo.ListOpen(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	btc, err := repo.ListOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, models.StatusOpen, btc[0].Status)
}

func closedTrade(symbol string, pnl float64, openedAt, closedAt time.Time) *models.Trade {
	trade := newTrade(symbol, models.SideBuy, models.StatusClosed, pnl, openedAt)
	trade.ExitPrice = 100 + pnl
	trade.ClosedAt = &closedAt
	return trade
}

func TestTradeRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(setupDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, closedTrade("BTCUSDT", 10, now.Add(-72*time.Hour), now.Add(-48*time.Hour))))
	require.NoError(t, repo.Create(ctx, closedTrade("BTCUSDT", -4, now.Add(-2*time.Hour), now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, closedTrade("ETHUSDT", 6, now.Add(-2*time.Hour), now.Add(-time.Hour))))
	// Opened two days ago, realised within the last day.
	require.NoError(t, repo.Create(ctx, closedTrade("SOLUSDT", 3, now.Add(-48*time.Hour), now.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, newTrade("ETHUSDT", models.SideBuy, models.StatusOpen, 0, now)))

	allTime, err := repo.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), allTime.Total)
	assert.Equal(t, int64(3), allTime.Profitable)
	assert.InDelta(t, 15.0, allTime.TotalPNL, 1e-9)

	lastDay, err := repo.Stats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), lastDay.Total)
	assert.Equal(t, int64(2), lastDay.Profitable)
	assert.InDelta(t, 5.0, lastDay.TotalPNL, 1e-9)
}

func TestTradeRepository_StatsEmpty(t *testing.T) {
	stats, err := NewTradeRepository(setupDB(t)).Stats(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, TradeStats{}, stats)
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(setupDB(t))

	settings, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(models.SettingsID), settings.ID)
	assert.Equal(t, 50.0, settings.TradeAmount)

	settings.TradeAmount = 75
	settings.Symbols = []string{"SOLUSDT"}
	require.NoError(t, repo.Save(ctx, settings))

	saved, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75.0, saved.TradeAmount)
	assert.Equal(t, []string{"SOLUSDT"}, []string(saved.Symbols))

	reset, err := repo.Reset(ctx, database.DefaultSettings(testTrading()))
	require.NoError(t, err)
	assert.Equal(t, 50.0, reset.TradeAmount)
	assert.Equal(t, saved.CreatedAt.Unix(), reset.CreatedAt.Unix())

	var count int64
	require.NoError(t, repo.db.Model(&models.BotSettings{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPairRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPairRepository(setupDB(t))

	_, err := repo.Get(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, "BTCUSDT", 100))
	require.NoError(t, repo.Upsert(ctx, "BTCUSDT", 120))

	pair, err := repo.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 120.0, pair.ReferencePrice)
}
