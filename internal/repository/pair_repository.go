package repository

import (
	"context"
	"errors"
	"fmt"

	"crypto-trading-bot-go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PairRepository interface {
	Get(ctx context.Context, symbol string) (*models.Pair, error)
	Upsert(ctx context.Context, symbol string, referencePrice float64) error
}

type GormPairRepository struct {
	db *gorm.DB
}

var _ PairRepository = (*GormPairRepository)(nil)

func NewPairRepository(db *gorm.DB) *GormPairRepository {
	return &GormPairRepository{db: db}
}

func (r *GormPairRepository) Get(ctx context.Context, symbol string) (*models.Pair, error) {
	var pair models.Pair
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pair %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pair %s: %w", symbol, err)
	}
	return &pair, nil
}

// Upsert sets the reference price, creating the pair on first use.
func (r *GormPairRepository) Upsert(ctx context.Context, symbol string, referencePrice float64) error {
	pair := models.Pair{Symbol: symbol, ReferencePrice: referencePrice}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"reference_price", "updated_at"}),
	}).Create(&pair).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w", symbol, err)
	}
	return nil
}
