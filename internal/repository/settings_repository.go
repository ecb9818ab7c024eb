package repository

import (
	"context"
	"errors"
	"fmt"

	"crypto-trading-bot-go/internal/models"

	"gorm.io/gorm"
)

type SettingsRepository interface {
	Get(ctx context.Context) (*models.BotSettings, error)
	Save(ctx context.Context, settings *models.BotSettings) error
	Reset(ctx context.Context, defaults models.BotSettings) (*models.BotSettings, error)
}

type GormSettingsRepository struct {
	db *gorm.DB
}

var _ SettingsRepository = (*GormSettingsRepository)(nil)

func NewSettingsRepository(db *gorm.DB) *GormSettingsRepository {
	return &GormSettingsRepository{db: db}
}

// Get loads the singleton settings row.
func (r *GormSettingsRepository) Get(ctx context.Context) (*models.BotSettings, error) {
	var settings models.BotSettings
	if err := r.db.WithContext(ctx).First(&settings, models.SettingsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("bot settings: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load bot settings: %w", err)
	}
	return &settings, nil
}

// Save writes the row, always under the singleton id.
func (r *GormSettingsRepository) Save(ctx context.Context, settings *models.BotSettings) error {
	settings.ID = models.SettingsID
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to save bot settings: %w", err)
	}
	return nil
}

// Reset overwrites every parameter with defaults, keeping the row's creation time.
func (r *GormSettingsRepository) Reset(ctx context.Context, defaults models.BotSettings) (*models.BotSettings, error) {
	current, err := r.Get(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	defaults.Model = gorm.Model{ID: models.SettingsID}
	if current != nil {
		defaults.CreatedAt = current.CreatedAt
	}
	if err := r.Save(ctx, &defaults); err != nil {
		return nil, err
	}
	return &defaults, nil
}
