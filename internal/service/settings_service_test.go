package service

import (
	"context"
	"testing"

	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupSettingsService(t *testing.T) (*SettingsService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	repo := repository.NewSettingsRepository(setupDB(t))
	svc := NewSettingsService(repo, database.DefaultSettings(testTrading()), []string{"dip", "trend"}, pub, zap.NewNop())
	return svc, pub
}

func TestSettingsService_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	svc, pub := setupSettingsService(t)

	updated, err := svc.Update(ctx, UpdateSettingsRequest{
		TradeAmount: ptr(100.0),
		Symbols:     []string{"solusdt", "SOLUSDT", "bnbusdt"},
		DryRun:      ptr(false),
		Strategy:    ptr("Trend"),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.TradeAmount)
	assert.Equal(t, []string{"SOLUSDT", "BNBUSDT"}, []string(updated.Symbols))
	assert.False(t, updated.DryRun)
	assert.Equal(t, "trend", updated.Strategy)
	assert.Equal(t, 2.0, updated.TakeProfitPercent, "untouched fields keep their value")
	assert.Equal(t, []string{events.SettingsUpdated}, pub.Types())

	reloaded, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, reloaded.TradeAmount)
}

func TestSettingsService_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	svc, pub := setupSettingsService(t)

	cases := []UpdateSettingsRequest{
		{TradeAmount: ptr(0.0)},
		{TakeProfitPercent: ptr(150.0)},
		{MaxOpenTrades: ptr(0)},
		{FeeRate: ptr(1.5)},
		{Symbols: []string{"BTC/USDT"}},
		{Strategy: ptr("martingale")},
	}
	for _, req := range cases {
		_, err := svc.Update(ctx, req)
		assert.ErrorIs(t, err, ErrValidation, "%+v", req)
	}
	assert.Empty(t, pub.Types())
}

func TestSettingsService_ResetAndSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupSettingsService(t)

	_, err := svc.Update(ctx, UpdateSettingsRequest{TradeAmount: ptr(250.0), Symbols: []string{"XRPUSDT"}})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250.0, snap.TradeAmount)

	// Mutating a snapshot must not leak into the cache.
	snap.Symbols[0] = "MUTATED"
	again, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "XRPUSDT", again.Symbols[0])

	reset, err := svc.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, reset.TradeAmount)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, []string(reset.Symbols))

	snap, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.TradeAmount)
}
