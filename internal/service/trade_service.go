package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	ExportCSV  = "csv"
	ExportJSON = "json"
)

// CreateTradeRequest records a trade by hand. Passing ExitPrice creates it already closed.
type CreateTradeRequest struct {
	Symbol        string     `json:"symbol" validate:"required,alphanum,uppercase,min=5,max=20"`
	Side          string     `json:"side" validate:"required,oneof=BUY SELL"`
	EntryPrice    float64    `json:"entry_price" validate:"gt=0"`
	Quantity      float64    `json:"quantity" validate:"gt=0"`
	Fee           float64    `json:"fee" validate:"gte=0"`
	ExitPrice     *float64   `json:"exit_price" validate:"omitempty,gt=0"`
	Strategy      string     `json:"strategy" validate:"max=64"`
	OrderID       int64      `json:"order_id"`
	ClientOrderID string     `json:"client_order_id" validate:"max=64"`
	IsSimulation  bool       `json:"is_simulation"`
	Notes         string     `json:"notes" validate:"max=500"`
	OpenedAt      *time.Time `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at"`
}

// UpdateTradeRequest changes only the fields that are set.
type UpdateTradeRequest struct {
	Status     *string    `json:"status" validate:"omitempty,oneof=OPEN CLOSED CANCELLED"`
	EntryPrice *float64   `json:"entry_price" validate:"omitempty,gt=0"`
	ExitPrice  *float64   `json:"exit_price" validate:"omitempty,gt=0"`
	Quantity   *float64   `json:"quantity" validate:"omitempty,gt=0"`
	Fee        *float64   `json:"fee" validate:"omitempty,gte=0"`
	Notes      *string    `json:"notes" validate:"omitempty,max=500"`
	ClosedAt   *time.Time `json:"closed_at"`
}

// TradeList is one page of trades plus the total matching the filter.
type TradeList struct {
	Trades []models.Trade `json:"trades"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

// StatisticsResponse is the structure for the trade statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// TradeService owns the trade lifecycle and announces every change on the bus.
type TradeService struct {
	trades    repository.TradeRepository
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewTradeService(trades repository.TradeRepository, publisher events.Publisher, logger *zap.Logger) *TradeService {
	return &TradeService{
		trades:    trades,
		publisher: publisher,
		logger:    logger.Named("trades"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a manually entered trade.
func (s *TradeService) Create(ctx context.Context, req CreateTradeRequest) (*models.Trade, error) {
	req.Symbol = normalizeSymbol(req.Symbol)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        models.StatusOpen,
		EntryPrice:    req.EntryPrice,
		Quantity:      req.Quantity,
		QuoteQuantity: req.EntryPrice * req.Quantity,
		Fee:           req.Fee,
		Strategy:      req.Strategy,
		OrderID:       req.OrderID,
		ClientOrderID: req.ClientOrderID,
		IsSimulation:  req.IsSimulation,
		Notes:         req.Notes,
		OpenedAt:      s.now(),
	}
	if req.OpenedAt != nil {
		trade.OpenedAt = req.OpenedAt.UTC()
	}
	if req.ExitPrice != nil {
		closedAt := s.now()
		if req.ClosedAt != nil {
			closedAt = req.ClosedAt.UTC()
		}
		s.applyClose(trade, *req.ExitPrice, closedAt)
	}

	return trade, s.Record(ctx, trade)
}

// Record stores a trade built elsewhere (engine fills, proxied orders).
func (s *TradeService) Record(ctx context.Context, trade *models.Trade) error {
	if err := s.trades.Create(ctx, trade); err != nil {
		return err
	}
	s.logger.Info("Trade recorded",
		zap.Uint("id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", trade.Side),
		zap.String("status", trade.Status),
		zap.Float64("price", trade.EntryPrice),
		zap.Float64("quantity", trade.Quantity),
	)
	s.publisher.Publish(events.TradeCreated, trade)
	return nil
}

func (s *TradeService) Get(ctx context.Context, id uint) (*models.Trade, error) {
	return s.trades.Get(ctx, id)
}

// List returns one page of trades. The limit defaults to 100 and is capped at 1000.
func (s *TradeService) List(ctx context.Context, filter repository.TradeFilter) (*TradeList, error) {
	filter.Symbol = normalizeSymbol(filter.Symbol)
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	trades, err := s.trades.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.trades.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return &TradeList{Trades: trades, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Update applies a partial change. Closing requires an exit price and recomputes PNL.
func (s *TradeService) Update(ctx context.Context, id uint, req UpdateTradeRequest) (*models.Trade, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	trade, err := s.trades.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.EntryPrice != nil {
		trade.EntryPrice = *req.EntryPrice
	}
	if req.Quantity != nil {
		trade.Quantity = *req.Quantity
	}
	trade.QuoteQuantity = trade.EntryPrice * trade.Quantity
	if req.Fee != nil {
		trade.Fee = *req.Fee
	}
	if req.Notes != nil {
		trade.Notes = *req.Notes
	}
	if req.ExitPrice != nil {
		trade.ExitPrice = *req.ExitPrice
	}

	status := trade.Status
	if req.Status != nil {
		status = *req.Status
	}

	switch status {
	case models.StatusClosed:
		if trade.ExitPrice <= 0 {
			return nil, invalid("exit_price is required to close a trade")
		}
		closedAt := s.now()
		if trade.ClosedAt != nil {
			closedAt = *trade.ClosedAt
		}
		if req.ClosedAt != nil {
			closedAt = req.ClosedAt.UTC()
		}
		s.applyClose(trade, trade.ExitPrice, closedAt)
	case models.StatusCancelled:
		if trade.Status != models.StatusCancelled || trade.ClosedAt == nil {
			closedAt := s.now()
			trade.ClosedAt = &closedAt
		}
		trade.Status = models.StatusCancelled
		trade.PNL, trade.PNLPercent = 0, 0
	case models.StatusOpen:
		trade.Status = models.StatusOpen
		trade.ExitPrice = 0
		trade.ClosedAt = nil
		trade.PNL, trade.PNLPercent = 0, 0
	}

	if err := s.trades.Update(ctx, trade); err != nil {
		return nil, err
	}
	s.publisher.Publish(events.TradeUpdated, trade)
	return trade, nil
}

// Close realises an open position at exitPrice, adding exitFee to the fees already paid.
func (s *TradeService) Close(ctx context.Context, trade *models.Trade, exitPrice, exitFee float64) error {
	if !trade.IsOpen() {
		return invalid("trade %d is %s", trade.ID, trade.Status)
	}

	trade.Fee += exitFee
	s.applyClose(trade, exitPrice, s.now())
	if err := s.trades.Update(ctx, trade); err != nil {
		return err
	}

	s.logger.Info("Trade closed",
		zap.Uint("id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", trade.PNL),
		zap.Float64("pnl_percent", trade.PNLPercent),
	)
	s.publisher.Publish(events.TradeUpdated, trade)
	return nil
}

func (s *TradeService) applyClose(trade *models.Trade, exitPrice float64, closedAt time.Time) {
	trade.Status = models.StatusClosed
	trade.ExitPrice = exitPrice
	trade.ClosedAt = &closedAt
	trade.PNL, trade.PNLPercent = CalculatePNL(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity, trade.Fee)
}

// Delete soft-deletes a trade.
func (s *TradeService) Delete(ctx context.Context, id uint) error {
	if err := s.trades.Delete(ctx, id); err != nil {
		return err
	}
	s.publisher.Publish(events.TradeDeleted, map[string]uint{"id": id})
	return nil
}

// ListOpen returns open positions, optionally for one symbol.
func (s *TradeService) ListOpen(ctx context.Context, symbol string) ([]models.Trade, error) {
	return s.trades.ListOpen(ctx, normalizeSymbol(symbol))
}

// Stats calculates win rate and profit over the last 24 hours and all time.
func (s *TradeService) Stats(ctx context.Context) (*StatisticsResponse, error) {
	since24h := s.now().Add(-24 * time.Hour)

	recent, err := s.trades.Stats(ctx, since24h)
	if err != nil {
		return nil, err
	}
	allTime, err := s.trades.Stats(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	return &StatisticsResponse{
		Since24h: statsDetail(recent),
		AllTime:  statsDetail(allTime),
	}, nil
}

func statsDetail(stats repository.TradeStats) StatsDetail {
	detail := StatsDetail{
		TotalTrades:      stats.Total,
		ProfitableTrades: stats.Profitable,
		TotalProfit:      stats.TotalPNL,
	}
	if stats.Total > 0 {
		detail.WinRate = float64(stats.Profitable) / float64(stats.Total)
	}
	return detail
}

var csvHeader = []string{
	"id", "symbol", "side", "status", "entry_price", "exit_price", "quantity", "quote_quantity",
	"fee", "pnl", "pnl_percent", "strategy", "order_id", "is_simulation", "opened_at", "closed_at", "notes",
}

// Export writes every trade matching filter as CSV or JSON.
func (s *TradeService) Export(ctx context.Context, w io.Writer, format string, filter repository.TradeFilter) error {
	if format != ExportCSV && format != ExportJSON {
		return invalid("unsupported export format %q", format)
	}

	filter.Symbol = normalizeSymbol(filter.Symbol)
	filter.Limit, filter.Offset = 0, 0
	trades, err := s.trades.List(ctx, filter)
	if err != nil {
		return err
	}

	if format == ExportJSON {
		if trades == nil {
			trades = []models.Trade{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(trades)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, t := range trades {
		closedAt := ""
		if t.ClosedAt != nil {
			closedAt = t.ClosedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatUint(uint64(t.ID), 10),
			t.Symbol,
			t.Side,
			t.Status,
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			formatFloat(t.QuoteQuantity),
			formatFloat(t.Fee),
			formatFloat(t.PNL),
			formatFloat(t.PNLPercent),
			t.Strategy,
			strconv.FormatInt(t.OrderID, 10),
			strconv.FormatBool(t.IsSimulation),
			t.OpenedAt.UTC().Format(time.RFC3339),
			closedAt,
			t.Notes,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
