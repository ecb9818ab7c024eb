package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/models"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the configured database, migrates the schema and seeds the settings row.
func NewDatabase(cfg config.Database, trading config.Trading, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(log.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(db, trading); err != nil {
		return nil, err
	}

	return db, nil
}

func dialectorFor(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// AutoMigrate creates or updates the tables and makes sure the settings row exists.
// Existing data is kept.
func AutoMigrate(db *gorm.DB, trading config.Trading) error {
	if err := db.AutoMigrate(&models.Trade{}, &models.Pair{}, &models.BotSettings{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	defaults := DefaultSettings(trading)
	if err := db.Where(models.BotSettings{Model: gorm.Model{ID: models.SettingsID}}).FirstOrCreate(&defaults).Error; err != nil {
		return fmt.Errorf("failed to seed bot settings: %w", err)
	}

	return nil
}

// DefaultSettings builds the settings row from the trading section of the config.
func DefaultSettings(trading config.Trading) models.BotSettings {
	symbols := make([]string, 0, len(trading.Symbols))
	for _, s := range trading.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}

	return models.BotSettings{
		Model:               gorm.Model{ID: models.SettingsID},
		QuoteAsset:          strings.ToUpper(trading.QuoteAsset),
		Symbols:             symbols,
		TradeAmount:         trading.TradeAmount,
		TakeProfitPercent:   trading.TakeProfit,
		StopLossPercent:     trading.StopLoss,
		EntryDropPercent:    trading.EntryDrop,
		MaxOpenTrades:       trading.MaxOpenTrades,
		TickIntervalSeconds: trading.TickInterval,
		FeeRate:             trading.FeeRate,
		DryRun:              trading.DryRun,
		Strategy:            trading.Strategy,
	}
}

// Ping checks that the database answers within the context deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("no database configured")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
