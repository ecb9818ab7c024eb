package binance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolRules indexes exchange info by symbol.
type SymbolRules map[string]SymbolInfo

// NewSymbolRules builds the lookup from an /exchangeInfo response.
func NewSymbolRules(info *ExchangeInfoResponse) SymbolRules {
	rules := make(SymbolRules, len(info.Symbols))
	for _, s := range info.Symbols {
		rules[s.Symbol] = s
	}
	return rules
}

// LotSize returns the LOT_SIZE filter of a symbol, if any.
func (r SymbolRules) LotSize(symbol string) (Filter, bool) {
	info, ok := r[symbol]
	if !ok {
		return Filter{}, false
	}
	for _, f := range info.Filters {
		if f.FilterType == "LOT_SIZE" {
			return f, true
		}
	}
	return Filter{}, false
}

// FormatQuantity floors quantity to the symbol's LOT_SIZE step and checks minQty.
// Symbols without a LOT_SIZE filter pass through unchanged.
func FormatQuantity(rules SymbolRules, symbol string, quantity float64) (float64, error) {
	lot, ok := rules.LotSize(symbol)
	if !ok || lot.StepSize == "" {
		return quantity, nil
	}

	step, err := decimal.NewFromString(lot.StepSize)
	if err != nil {
		return 0, fmt.Errorf("invalid stepSize %q for %s: %w", lot.StepSize, symbol, err)
	}

	qty := decimal.NewFromFloat(quantity)
	if step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
	}

	if lot.MinQty != "" {
		minQty, err := decimal.NewFromString(lot.MinQty)
		if err != nil {
			return 0, fmt.Errorf("invalid minQty %q for %s: %w", lot.MinQty, symbol, err)
		}
		if qty.LessThan(minQty) {
			return 0, fmt.Errorf("quantity %s is below minimum %s for %s", qty.String(), minQty.String(), symbol)
		}
	}
	if !qty.IsPositive() {
		return 0, fmt.Errorf("quantity %f rounds to zero for %s", quantity, symbol)
	}

	return qty.InexactFloat64(), nil
}
