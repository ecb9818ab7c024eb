package service

import (
	"crypto-trading-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// CalculatePNL returns the realised profit of a position and its percentage of the entry notional.
// BUY positions gain when price rises, SELL positions when it falls. fee is the total paid.
func CalculatePNL(side string, entry, exit, quantity, fee float64) (pnl, percent float64) {
	entryD := decimal.NewFromFloat(entry)
	exitD := decimal.NewFromFloat(exit)
	qtyD := decimal.NewFromFloat(quantity)

	diff := exitD.Sub(entryD)
	if side == models.SideSell {
		diff = entryD.Sub(exitD)
	}
	profit := diff.Mul(qtyD).Sub(decimal.NewFromFloat(fee))

	notional := entryD.Mul(qtyD)
	if notional.IsZero() {
		return profit.Round(8).InexactFloat64(), 0
	}
	pct := profit.Div(notional).Mul(decimal.NewFromInt(100))
	return profit.Round(8).InexactFloat64(), pct.Round(4).InexactFloat64()
}

// FeeFor returns the exchange fee on a quote amount.
func FeeFor(quoteAmount, feeRate float64) float64 {
	return decimal.NewFromFloat(quoteAmount).Mul(decimal.NewFromFloat(feeRate)).Round(8).InexactFloat64()
}
