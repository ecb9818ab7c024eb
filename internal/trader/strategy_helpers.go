package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"

	"go.uber.org/zap"
)

// evaluateDip is the core entry calculation. It compares the fee-adjusted price with the
// stored reference and trails the reference upward while no dip is found.
func evaluateDip(ctx context.Context, sc *StrategyContext, symbol string) (*Opportunity, error) {
	price, ok := sc.Prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("price not available for %s", symbol)
	}

	pair, err := sc.Pairs.Get(ctx, symbol)
	if errors.Is(err, repository.ErrNotFound) {
		sc.Logger.Info("Initialized reference price", zap.String("symbol", symbol), zap.Float64("reference", price))
		return nil, sc.Pairs.Upsert(ctx, symbol, price)
	}
	if err != nil {
		return nil, err
	}

	reference := pair.ReferencePrice
	effectivePrice := price * (1 + sc.Settings.FeeRate)
	threshold := reference * (1 - sc.Settings.EntryDropPercent/100)

	if reference > 0 && effectivePrice <= threshold {
		drop := (reference - effectivePrice) / reference
		sc.Logger.Debug("Potential BUY opportunity",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("reference", reference),
			zap.Float64("drop", drop),
		)
		return &Opportunity{Symbol: symbol, Price: price, Reference: reference, Drop: drop}, nil
	}

	if price > reference {
		if err := sc.Pairs.Upsert(ctx, symbol, price); err != nil {
			return nil, err
		}
		sc.Logger.Debug("Raised reference price", zap.String("symbol", symbol), zap.Float64("reference", price))
	}
	return nil, nil
}

// findDips evaluates every candidate and returns the opportunities, deepest drop first.
func findDips(ctx context.Context, sc *StrategyContext) ([]Opportunity, error) {
	var opportunities []Opportunity
	for _, symbol := range sc.Candidates {
		opp, err := evaluateDip(ctx, sc, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sc.Logger.Warn("Failed to evaluate symbol", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if opp != nil {
			opportunities = append(opportunities, *opp)
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Drop > opportunities[j].Drop
	})
	return opportunities, nil
}

// exitReason reports whether an open trade hit its take-profit or stop-loss at price.
func exitReason(trade *models.Trade, price float64, settings models.BotSettings) (string, float64) {
	if trade.EntryPrice <= 0 {
		return "", 0
	}

	change := (price - trade.EntryPrice) / trade.EntryPrice * 100
	if trade.Side == models.SideSell {
		change = -change
	}

	switch {
	case settings.TakeProfitPercent > 0 && change >= settings.TakeProfitPercent:
		return "take_profit", change
	case settings.StopLossPercent > 0 && change <= -settings.StopLossPercent:
		return "stop_loss", change
	default:
		return "", change
	}
}

// parsePrices converts the ticker map, skipping unparsable entries.
func parsePrices(raw map[string]string, logger *zap.Logger) map[string]float64 {
	prices := make(map[string]float64, len(raw))
	for symbol, s := range raw {
		price, err := strconv.ParseFloat(s, 64)
		if err != nil {
			logger.Debug("Failed to parse ticker price", zap.String("symbol", symbol), zap.String("price", s))
			continue
		}
		prices[symbol] = price
	}
	return prices
}
