package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SettingsID is the primary key of the only bot settings row.
const SettingsID = 1

// BotSettings holds the trading parameters the engine reads on every tick.
// There should only ever be one row in this table.
type BotSettings struct {
	gorm.Model
	QuoteAsset          string                      `gorm:"not null" json:"quote_asset"`
	Symbols             datatypes.JSONSlice[string] `json:"symbols"`
	TradeAmount         float64                     `json:"trade_amount"`
	TakeProfitPercent   float64                     `json:"take_profit_percent"`
	StopLossPercent     float64                     `json:"stop_loss_percent"`
	EntryDropPercent    float64                     `json:"entry_drop_percent"`
	MaxOpenTrades       int                         `json:"max_open_trades"`
	TickIntervalSeconds int                         `json:"tick_interval_seconds"`
	FeeRate             float64                     `json:"fee_rate"`
	DryRun              bool                        `json:"dry_run"`
	Strategy            string                      `json:"strategy"`
}

// TableName pins the singleton table name.
func (BotSettings) TableName() string { return "bot_settings" }
