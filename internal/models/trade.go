package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusOpen      = "OPEN"
	StatusClosed    = "CLOSED"
	StatusCancelled = "CANCELLED"
)

// Trade represents a trade record in the database.
// An OPEN trade holds a position; closing it fills ExitPrice, ClosedAt and PNL.
type Trade struct {
	gorm.Model
	Symbol        string     `gorm:"index;not null" json:"symbol"`
	Side          string     `gorm:"not null" json:"side"` // "BUY" or "SELL"
	Status        string     `gorm:"index;not null;default:OPEN" json:"status"`
	EntryPrice    float64    `gorm:"not null" json:"entry_price"`
	ExitPrice     float64    `json:"exit_price,omitempty"`
	Quantity      float64    `gorm:"not null" json:"quantity"`
	QuoteQuantity float64    `json:"quote_quantity"`
	Fee           float64    `json:"fee"`
	PNL           float64    `gorm:"column:pnl" json:"pnl"`
	PNLPercent    float64    `gorm:"column:pnl_percent" json:"pnl_percent"`
	Strategy      string     `json:"strategy,omitempty"`
	OrderID       int64      `json:"order_id,omitempty"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	IsSimulation  bool       `json:"is_simulation"`
	Notes         string     `json:"notes,omitempty"`
	OpenedAt      time.Time  `gorm:"index" json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// IsOpen reports whether the trade still holds a position.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// ExitSide is the order side that closes this trade.
func (t *Trade) ExitSide() string {
	if t.Side == SideSell {
		return SideBuy
	}
	return SideSell
}
