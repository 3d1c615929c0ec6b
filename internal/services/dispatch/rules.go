package dispatch

import (
	"github.com/shopspring/decimal"

	"TradeFusion/pkg/config"
)

// FloorQuantity rounds qty down to the rule's precision. Selling never exceeds the holding.
func FloorQuantity(qty float64, rule config.OrderRule) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(qty).RoundFloor(rule.Decimals)
}

// MeetsMinimum reports whether a floored quantity is tradable.
func MeetsMinimum(qty decimal.Decimal, rule config.OrderRule) bool {
	return qty.IsPositive() && qty.GreaterThanOrEqual(decimal.NewFromFloat(rule.MinAmount))
}

// RealizedPnL returns (exit-entry)*qty with decimal arithmetic.
func RealizedPnL(entry, exit, qty float64) float64 {
	d := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromFloat(qty))
	f, _ := d.Round(8).Float64()
	return f
}

// CapNotional limits a BUY notional by spendable cash and the position cap.
func CapNotional(requested, available, reserve, maxPosition float64) float64 {
	spendable := decimal.NewFromFloat(available).Sub(decimal.NewFromFloat(reserve))
	n := decimal.NewFromFloat(requested)
	if spendable.LessThan(n) {
		n = spendable
	}
	if maxPosition > 0 {
		n = decimal.Min(n, decimal.NewFromFloat(maxPosition))
	}
	if n.IsNegative() {
		return 0
	}
	f, _ := n.Floor().Float64()
	return f
}
