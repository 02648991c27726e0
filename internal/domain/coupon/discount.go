package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is a cart line as seen by discount calculation.
type Line struct {
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  int64
}

// Discount returns the discount in minor units that c grants on lines.
// Percentage discounts are rounded half away from zero. Fixed discounts are
// granted in full; clamping the order total is the caller's job.
func Discount(c *Coupon, lines []Line) int64 {
	if c == nil {
		return 0
	}

	eligible, matched := eligibleSubtotal(c, lines)
	if !matched {
		return 0
	}

	var amount int64
	switch c.DiscountType {
	case DiscountPercentage:
		amount = decimal.NewFromInt(eligible).Mul(c.Value).Div(hundred).Round(0).IntPart()
	case DiscountFixed:
		amount = c.Value.Round(0).IntPart()
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// eligibleSubtotal sums the lines the coupon's scope covers. matched is false
// when a product or category scoped coupon covers none of the lines.
func eligibleSubtotal(c *Coupon, lines []Line) (sum int64, matched bool) {
	for _, l := range lines {
		if !inScope(c, l) {
			continue
		}
		matched = true
		sum += l.UnitPrice * int64(l.Quantity)
	}
	if c.Scope == ScopeOrder || c.Scope == "" {
		return sum, true
	}
	return sum, matched
}

func inScope(c *Coupon, l Line) bool {
	switch c.Scope {
	case ScopeProduct:
		return l.ProductID == c.ScopeRef
	case ScopeCategory:
		return l.CategoryID == c.ScopeRef
	default:
		return true
	}
}
