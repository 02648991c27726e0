// Package tax splits VAT-inclusive amounts into base and tax.
package tax

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// Split backs a fixed-rate VAT out of a gross amount in minor units:
// base = round(gross / (1 + rate)), tax = gross - base.
func Split(gross int64, rate decimal.Decimal) (base, vat int64) {
	if rate.IsZero() || rate.IsNegative() {
		return gross, 0
	}
	base = decimal.NewFromInt(gross).Div(one.Add(rate)).Round(0).IntPart()
	return base, gross - base
}
