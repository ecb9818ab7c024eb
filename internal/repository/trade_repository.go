package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-trading-bot-go/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a record with the requested key does not exist.
var ErrNotFound = errors.New("record not found")

// TradeFilter narrows List and Count. Zero values are ignored.
type TradeFilter struct {
	Symbol string
	Side   string
	Status string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// TradeStats aggregates closed trades.
type TradeStats struct {
	Total      int64
	Profitable int64
	TotalPNL   float64
}

type TradeRepository interface {
	Create(ctx context.Context, trade *models.Trade) error
	Get(ctx context.Context, id uint) (*models.Trade, error)
	List(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	Count(ctx context.Context, filter TradeFilter) (int64, error)
	Update(ctx context.Context, trade *models.Trade) error
	Delete(ctx context.Context, id uint) error
	ListOpen(ctx context.Context, symbol string) ([]models.Trade, error)
	Stats(ctx context.Context, since time.Time) (TradeStats, error)
}

type GormTradeRepository struct {
	db *gorm.DB
}

var _ TradeRepository = (*GormTradeRepository)(nil)

func NewTradeRepository(db *gorm.DB) *GormTradeRepository {
	return &GormTradeRepository{db: db}
}

func (r *GormTradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (r *GormTradeRepository) Get(ctx context.Context, id uint) (*models.Trade, error) {
	var trade models.Trade
	if err := r.db.WithContext(ctx).First(&trade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return &trade, nil
}

func (r *GormTradeRepository) filtered(ctx context.Context, filter TradeFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Trade{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		query = query.Where("opened_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("opened_at < ?", filter.Until)
	}
	return query
}

// List returns trades newest first.
func (r *GormTradeRepository) List(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := r.filtered(ctx, filter).Order("opened_at desc").Order("id desc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var trades []models.Trade
	if err := query.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

func (r *GormTradeRepository) Count(ctx context.Context, filter TradeFilter) (int64, error) {
	var count int64
	if err := r.filtered(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func (r *GormTradeRepository) Update(ctx context.Context, trade *models.Trade) error {
	result := r.db.WithContext(ctx).Save(trade)
	if result.Error != nil {
		return fmt.Errorf("failed to update trade %d: %w", trade.ID, result.Error)
	}
	return nil
}

// Delete soft-deletes the trade.
func (r *GormTradeRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Trade{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete trade %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("trade %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListOpen returns open trades, oldest first. An empty symbol matches all.
func (r *GormTradeRepository) ListOpen(ctx context.Context, symbol string) ([]models.Trade, error) {
	query := r.db.WithContext(ctx).Where("status = ?", models.StatusOpen)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var trades []models.Trade
	if err := query.Order("opened_at asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	return trades, nil
}

// Stats aggregates trades closed at or after since. A zero since covers all time.
func (r *GormTradeRepository) Stats(ctx context.Context, since time.Time) (TradeStats, error) {
	var row struct {
		Total      int64
		Profitable int64
		TotalPNL   float64
	}

	query := r.db.WithContext(ctx).Model(&models.Trade{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0) AS profitable, "+
			"COALESCE(SUM(pnl), 0) AS total_pnl").
		Where("status = ?", models.StatusClosed)
	if !since.IsZero() {
		query = query.Where("closed_at >= ?", since)
	}

	if err := query.Scan(&row).Error; err != nil {
		return TradeStats{}, fmt.Errorf("failed to aggregate trades: %w", err)
	}
	return TradeStats{Total: row.Total, Profitable: row.Profitable, TotalPNL: row.TotalPNL}, nil
}
