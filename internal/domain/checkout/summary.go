// Package checkout turns a cart into a price breakdown.
package checkout

import (
	"context"
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/tax"
)

// ErrInvalidShippingMethod is returned when the cart references a shipping
// method that does not exist. No summary (and no order) can be produced.
var ErrInvalidShippingMethod = errors.New("invalid shipping method")

// ErrAmountOverflow is returned when the cart total does not fit in int64
// minor units.
var ErrAmountOverflow = errors.New("cart amount out of range")

// LineItem is a cart line priced in minor units.
type LineItem struct {
	VariantID  string
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  int64
}

// Cart is the input to Summarize.
type Cart struct {
	Items            []LineItem
	ShippingMethodID string
	CouponCode       string
}

// Summary is the price breakdown of a cart. All amounts are minor units.
type Summary struct {
	Subtotal int64
	Shipping int64
	Discount int64
	// Tax is added on top of the subtotal. Catalog prices include VAT, so it
	// is always zero; IncludedVAT reports the VAT contained in Total.
	Tax         int64
	IncludedVAT int64
	Total       int64

	ShippingMethod catalog.ShippingMethod
	// Coupon is the applied coupon, nil when no code was given, the code was
	// rejected or it granted no discount.
	Coupon *coupon.Coupon
}

// ShippingMethods resolves shipping methods by id.
type ShippingMethods interface {
	GetShippingMethod(ctx context.Context, id string) (*catalog.ShippingMethod, error)
}

// Calculator computes checkout summaries.
type Calculator struct {
	shipping ShippingMethods
	coupons  coupon.Validator
	vatRate  decimal.Decimal
}

// NewCalculator creates a Calculator. vatRate is the fraction included in
// catalog prices, e.g. 0.21.
func NewCalculator(shipping ShippingMethods, coupons coupon.Validator, vatRate decimal.Decimal) *Calculator {
	return &Calculator{
		shipping: shipping,
		coupons:  coupons,
		vatRate:  vatRate,
	}
}

// Summarize prices the cart. An unknown shipping method fails the summary; a
// coupon that does not validate is ignored and yields no discount.
func (c *Calculator) Summarize(ctx context.Context, cart Cart) (*Summary, error) {
	method, err := c.shipping.GetShippingMethod(ctx, cart.ShippingMethodID)
	if err != nil {
		if errors.Is(err, catalog.ErrShippingMethodNotFound) {
			return nil, ErrInvalidShippingMethod
		}
		return nil, errors.Wrap(err, "get shipping method")
	}

	lines := make([]coupon.Line, len(cart.Items))
	var subtotal int64
	for i, item := range cart.Items {
		lines[i] = coupon.Line{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
		line, ok := lineTotal(item.UnitPrice, item.Quantity)
		if !ok || line > math.MaxInt64-subtotal {
			return nil, ErrAmountOverflow
		}
		subtotal += line
	}

	s := &Summary{
		Subtotal:       subtotal,
		Shipping:       method.CostFor(subtotal),
		ShippingMethod: *method,
	}

	if cart.CouponCode != "" {
		if applied := c.applyCoupon(ctx, cart.CouponCode, lines); applied != nil {
			s.Coupon = applied
			s.Discount = coupon.Discount(applied, lines)
		}
	}

	if s.Shipping > math.MaxInt64-s.Subtotal {
		return nil, ErrAmountOverflow
	}
	s.Total = max(0, s.Subtotal+s.Shipping-s.Discount+s.Tax)
	_, s.IncludedVAT = tax.Split(s.Total, c.vatRate)

	return s, nil
}

// applyCoupon validates code and returns the coupon when it grants a discount
// on lines. Every failure degrades to nil.
func (c *Calculator) applyCoupon(ctx context.Context, code string, lines []coupon.Line) *coupon.Coupon {
	lg := zctx.From(ctx)

	cp, err := c.coupons.Validate(ctx, code)
	if err != nil {
		if reason, ok := coupon.ReasonOf(err); ok {
			lg.Debug("Coupon ignored",
				zap.String("code", code),
				zap.String("reason", string(reason)),
			)
		} else {
			lg.Warn("Coupon lookup failed, continuing without discount",
				zap.String("code", code),
				zap.Error(err),
			)
		}
		return nil
	}

	if coupon.Discount(cp, lines) == 0 {
		lg.Debug("Coupon grants no discount on this cart", zap.String("code", cp.Code))
		return nil
	}
	return cp
}

// lineTotal multiplies price by qty, reporting false on negative inputs or
// int64 overflow.
func lineTotal(price int64, qty int) (int64, bool) {
	if price < 0 || qty < 0 {
		return 0, false
	}
	if qty == 0 || price == 0 {
		return 0, true
	}
	q := int64(qty)
	if price > math.MaxInt64/q {
		return 0, false
	}
	return price * q, true
}
