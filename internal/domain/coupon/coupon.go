package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the eligible subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount in minor units off the order.
	DiscountFixed DiscountType = "fixed"
)

// Scope restricts which cart lines a coupon applies to.
type Scope string

const (
	ScopeOrder    Scope = "order"
	ScopeProduct  Scope = "product"
	ScopeCategory Scope = "category"
)

// Reason explains why a coupon code was rejected.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
)

// ErrInvalidCoupon is the parent of every rejection reason, so callers that
// do not care why a code was refused can check for it alone.
var ErrInvalidCoupon = errors.New("invalid coupon code")

// InvalidError is a coupon rejection carrying its Reason.
type InvalidError struct {
	Reason Reason
}

func (e *InvalidError) Error() string {
	return "coupon " + strings.ReplaceAll(string(e.Reason), "_", " ")
}

func (e *InvalidError) Unwrap() error { return ErrInvalidCoupon }

var (
	// ErrNotFound is returned when no active coupon matches the code.
	ErrNotFound = &InvalidError{Reason: ReasonNotFound}
	// ErrNotYetValid is returned before the coupon's validity window opens.
	ErrNotYetValid = &InvalidError{Reason: ReasonNotYetValid}
	// ErrExpired is returned once the coupon's validity window has closed.
	ErrExpired = &InvalidError{Reason: ReasonExpired}
	// ErrUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrUsageLimitReached = &InvalidError{Reason: ReasonUsageLimitReached}
)

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var invalid *InvalidError
	if errors.As(err, &invalid) {
		return invalid.Reason, true
	}
	return "", false
}

// Coupon is a discount code with its eligibility constraints.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType

	// Value is a percentage for DiscountPercentage and minor units for DiscountFixed.
	Value       decimal.Decimal
	Scope       Scope
	ScopeRef    string
	UsageLimit  *int
	UsedCount   int
	ValidFrom   *time.Time
	ValidTo     *time.Time
	Description string
}

// Redemption records a coupon being used by an order.
type Redemption struct {
	ID         string
	CouponID   string
	OrderID    string
	ClientID   *string
	RedeemedAt time.Time
}

// Repository provides lookup and redemption of coupons.
type Repository interface {
	// FindByCode returns the active coupon for a normalized code or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Redeem increments the coupon's used count and records the redemption
	// in one step. It returns ErrUsageLimitReached when the limit was hit
	// concurrently.
	Redeem(ctx context.Context, r Redemption) error
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
