// Package money holds the decimal helpers shared by pricing and the ledger.
// All amounts are USD with two fractional digits.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits kept for stored amounts.
const Scale = 2

// Round rounds d half away from zero to Scale digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FloorZero clamps negative amounts to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Local converts a USD amount to local currency at rate.
func Local(usd, rate decimal.Decimal) decimal.Decimal {
	return Round(usd.Mul(rate))
}
