package trader

import (
	"context"

	"go.uber.org/zap"
)

const BestDipStrategyName = "best_dip"

// BestDipStrategy scouts all configured coins but enters at most one position per tick:
// the deepest dip.
type BestDipStrategy struct{}

// Name returns the unique name of the strategy.
func (s *BestDipStrategy) Name() string {
	return BestDipStrategyName
}

// Initialize seeds missing reference prices so the first tick can already compare.
func (s *BestDipStrategy) Initialize(ctx context.Context, sc *StrategyContext) error {
	seeded := 0
	for _, symbol := range sc.Settings.Symbols {
		price, ok := sc.Prices[symbol]
		if !ok {
			continue
		}
		if _, err := sc.Pairs.Get(ctx, symbol); err == nil {
			continue
		}
		if err := sc.Pairs.Upsert(ctx, symbol, price); err != nil {
			return err
		}
		seeded++
	}
	sc.Logger.Info("BestDipStrategy initialized", zap.Int("seeded_references", seeded))
	return nil
}

// Scout returns only the single best opportunity across all candidates.
func (s *BestDipStrategy) Scout(ctx context.Context, sc *StrategyContext) ([]Opportunity, error) {
	opportunities, err := findDips(ctx, sc)
	if err != nil || len(opportunities) == 0 {
		return nil, err
	}
	sc.Logger.Info("Found best overall dip",
		zap.String("symbol", opportunities[0].Symbol),
		zap.Float64("drop", opportunities[0].Drop))
	return opportunities[:1], nil
}
