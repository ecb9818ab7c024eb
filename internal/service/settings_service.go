package service

import (
	"context"
	"strings"
	"sync"

	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"

	"go.uber.org/zap"
)

// UpdateSettingsRequest is a partial update: nil fields keep their current value.
type UpdateSettingsRequest struct {
	QuoteAsset          *string  `json:"quote_asset" validate:"omitempty,alphanum,uppercase,min=2,max=10"`
	Symbols             []string `json:"symbols" validate:"omitempty,min=1,max=50,dive,alphanum,uppercase,min=5,max=20"`
	TradeAmount         *float64 `json:"trade_amount" validate:"omitempty,gt=0"`
	TakeProfitPercent   *float64 `json:"take_profit_percent" validate:"omitempty,gt=0,lte=100"`
	StopLossPercent     *float64 `json:"stop_loss_percent" validate:"omitempty,gt=0,lte=100"`
	EntryDropPercent    *float64 `json:"entry_drop_percent" validate:"omitempty,gte=0,lte=100"`
	MaxOpenTrades       *int     `json:"max_open_trades" validate:"omitempty,gte=1,lte=100"`
	TickIntervalSeconds *int     `json:"tick_interval_seconds" validate:"omitempty,gte=1,lte=3600"`
	FeeRate             *float64 `json:"fee_rate" validate:"omitempty,gte=0,lt=1"`
	DryRun              *bool    `json:"dry_run"`
	Strategy            *string  `json:"strategy" validate:"omitempty,max=32"`
}

// SettingsService manages the single bot settings row and keeps an in-memory copy for the engine.
type SettingsService struct {
	repo       repository.SettingsRepository
	defaults   models.BotSettings
	strategies []string
	publisher  events.Publisher
	logger     *zap.Logger

	mu     sync.RWMutex
	cached *models.BotSettings
}

// NewSettingsService creates the service. strategies lists the accepted strategy names.
func NewSettingsService(repo repository.SettingsRepository, defaults models.BotSettings, strategies []string, publisher events.Publisher, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		repo:       repo,
		defaults:   defaults,
		strategies: strategies,
		publisher:  publisher,
		logger:     logger.Named("settings"),
	}
}

func (s *SettingsService) Get(ctx context.Context) (*models.BotSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.store(settings)
	return settings, nil
}

// Update validates and applies a partial update.
func (s *SettingsService) Update(ctx context.Context, req UpdateSettingsRequest) (*models.BotSettings, error) {
	if req.QuoteAsset != nil {
		quote := normalizeSymbol(*req.QuoteAsset)
		req.QuoteAsset = &quote
	}
	for i := range req.Symbols {
		req.Symbols[i] = normalizeSymbol(req.Symbols[i])
	}
	if req.Strategy != nil {
		name := strings.ToLower(strings.TrimSpace(*req.Strategy))
		req.Strategy = &name
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Strategy != nil && !s.knownStrategy(*req.Strategy) {
		return nil, invalid("strategy must be one of %s", strings.Join(s.strategies, ", "))
	}

	settings, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	if req.QuoteAsset != nil {
		settings.QuoteAsset = *req.QuoteAsset
	}
	if req.Symbols != nil {
		settings.Symbols = dedupe(req.Symbols)
	}
	if req.TradeAmount != nil {
		settings.TradeAmount = *req.TradeAmount
	}
	if req.TakeProfitPercent != nil {
		settings.TakeProfitPercent = *req.TakeProfitPercent
	}
	if req.StopLossPercent != nil {
		settings.StopLossPercent = *req.StopLossPercent
	}
	if req.EntryDropPercent != nil {
		settings.EntryDropPercent = *req.EntryDropPercent
	}
	if req.MaxOpenTrades != nil {
		settings.MaxOpenTrades = *req.MaxOpenTrades
	}
	if req.TickIntervalSeconds != nil {
		settings.TickIntervalSeconds = *req.TickIntervalSeconds
	}
	if req.FeeRate != nil {
		settings.FeeRate = *req.FeeRate
	}
	if req.DryRun != nil {
		settings.DryRun = *req.DryRun
	}
	if req.Strategy != nil {
		settings.Strategy = *req.Strategy
	}

	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, err
	}
	s.store(settings)

	s.logger.Info("Bot settings updated",
		zap.Strings("symbols", settings.Symbols),
		zap.Float64("trade_amount", settings.TradeAmount),
		zap.Bool("dry_run", settings.DryRun),
	)
	s.publisher.Publish(events.SettingsUpdated, settings)
	return settings, nil
}

// Reset restores the configured defaults.
func (s *SettingsService) Reset(ctx context.Context) (*models.BotSettings, error) {
	settings, err := s.repo.Reset(ctx, s.defaults)
	if err != nil {
		return nil, err
	}
	s.store(settings)

	s.logger.Info("Bot settings reset to defaults")
	s.publisher.Publish(events.SettingsUpdated, settings)
	return settings, nil
}

// Snapshot returns a copy of the current settings, loading them on first use.
func (s *SettingsService) Snapshot(ctx context.Context) (models.BotSettings, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return copySettings(cached), nil
	}

	settings, err := s.Get(ctx)
	if err != nil {
		return models.BotSettings{}, err
	}
	return copySettings(settings), nil
}

func (s *SettingsService) store(settings *models.BotSettings) {
	c := copySettings(settings)
	s.mu.Lock()
	s.cached = &c
	s.mu.Unlock()
}

func (s *SettingsService) knownStrategy(name string) bool {
	for _, known := range s.strategies {
		if known == name {
			return true
		}
	}
	return false
}

func copySettings(in *models.BotSettings) models.BotSettings {
	out := *in
	out.Symbols = append([]string(nil), in.Symbols...)
	return out
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
