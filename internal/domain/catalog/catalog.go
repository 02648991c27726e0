// Package catalog exposes the read-only reference data the checkout relies on:
// shipping methods, payment methods and role-based variant pricing.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrShippingMethodNotFound is returned when a shipping method does not
	// exist or is inactive.
	ErrShippingMethodNotFound = errors.New("shipping method not found")
	// ErrPaymentMethodNotFound is returned when a payment method does not
	// exist or is inactive.
	ErrPaymentMethodNotFound = errors.New("payment method not found")
)

// Role is the customer pricing tier.
type Role string

const (
	RoleRetail    Role = "retail"
	RoleInstaller Role = "installer"
	RoleWholesale Role = "wholesale"
)

// ParseRole maps a raw role to a known Role, defaulting to RoleRetail.
func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleInstaller, RoleWholesale:
		return r
	default:
		return RoleRetail
	}
}

// PaymentKind distinguishes gateway-backed payments from manual ones.
type PaymentKind string

const (
	PaymentCard           PaymentKind = "card"
	PaymentBankTransfer   PaymentKind = "bank_transfer"
	PaymentCashOnDelivery PaymentKind = "cash_on_delivery"
)

// ShippingMethod is a delivery option with a flat price in minor units.
type ShippingMethod struct {
	ID            string
	Name          string
	Price         int64
	FreeOver      *int64 // waives Price for subtotals at or above it
	EstimatedDays int
}

// CostFor returns the shipping cost for the given cart subtotal.
func (m ShippingMethod) CostFor(subtotal int64) int64 {
	if m.FreeOver != nil && subtotal >= *m.FreeOver {
		return 0
	}
	return m.Price
}

// PaymentMethod is a way to pay for an order.
type PaymentMethod struct {
	ID           string
	Name         string
	Kind         PaymentKind
	Instructions string
}

// Variant is a purchasable product variant priced for a specific role.
type Variant struct {
	ID         string
	ProductID  string
	CategoryID string
	SKU        string
	Name       string
	Price      int64
}

// Repository provides read access to checkout reference data.
type Repository interface {
	ListShippingMethods(ctx context.Context) ([]ShippingMethod, error)
	GetShippingMethod(ctx context.Context, id string) (*ShippingMethod, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	// VariantsByIDs returns the variants found among ids, priced for role.
	// Missing ids are silently omitted.
	VariantsByIDs(ctx context.Context, ids []string, role Role) ([]Variant, error)
}
