package trader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"crypto-trading-bot-go/internal/binance"
	"crypto-trading-bot-go/internal/models"
	"crypto-trading-bot-go/internal/repository"

	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the current tick.
type StrategyContext struct {
	Logger   *zap.Logger
	Settings models.BotSettings
	Prices   map[string]float64
	Rules    binance.SymbolRules
	Pairs    repository.PairRepository
	// Candidates are the configured symbols with no open position.
	Candidates []string
}

// Opportunity is a symbol the strategy wants to buy on this tick.
type Opportunity struct {
	Symbol    string
	Price     float64
	Reference float64
	// Drop is how far the fee-adjusted price sits below the reference, as a fraction.
	Drop float64
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(ctx context.Context, sc *StrategyContext) error

	// Scout returns entry opportunities, best first. The engine handles exits.
	Scout(ctx context.Context, sc *StrategyContext) ([]Opportunity, error)
}

var strategies = map[string]func() Strategy{
	DipStrategyName:     func() Strategy { return &DipStrategy{} },
	BestDipStrategyName: func() Strategy { return &BestDipStrategy{} },
}

// StrategyNames lists the registered strategies in a stable order.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStrategy creates a registered strategy by name.
func NewStrategy(name string) (Strategy, error) {
	factory, ok := strategies[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(), nil
}
