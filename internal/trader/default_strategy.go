package trader

import (
	"context"

	"go.uber.org/zap"
)

const DipStrategyName = "dip"

// DipStrategy buys every configured symbol whose price has dropped far enough below
// its trailing reference.
type DipStrategy struct{}

func (s *DipStrategy) Name() string {
	return DipStrategyName
}

func (s *DipStrategy) Initialize(ctx context.Context, sc *StrategyContext) error {
	if len(sc.Settings.Symbols) == 0 {
		sc.Logger.Warn("No symbols configured. DipStrategy will not be able to trade.")
		return nil
	}
	sc.Logger.Info("DipStrategy initialized",
		zap.Strings("symbols", sc.Settings.Symbols),
		zap.Float64("entry_drop_percent", sc.Settings.EntryDropPercent))
	return nil
}

func (s *DipStrategy) Scout(ctx context.Context, sc *StrategyContext) ([]Opportunity, error) {
	return findDips(ctx, sc)
}
