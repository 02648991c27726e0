package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for order placement and lifecycle.
var (
	ErrEmptyItems        = errors.New("items required")
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is returned when the order changed status concurrently.
	ErrConflict = errors.New("order status changed concurrently")
	// ErrDuplicateRequest is returned while another request with the same
	// idempotency key is still being processed.
	ErrDuplicateRequest = errors.New("duplicate request in flight")
)

// ValidationError reports an invalid or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// VariantNotFoundError indicates a requested variant does not exist.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

// MaxQuantity bounds a single line so line totals stay far from int64 and
// the INTEGER quantity column.
const MaxQuantity = 10_000

// InvalidQuantityError indicates a line item quantity outside 1..MaxQuantity.
type InvalidQuantityError struct {
	VariantID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for variant %s", MaxQuantity, e.VariantID)
}

// ValidQuantity reports whether q is an acceptable line quantity.
func ValidQuantity(q int) bool {
	return q > 0 && q <= MaxQuantity
}

// TransitionError is an ErrInvalidTransition with the offending states.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Address is a postal address snapshot stored with the order.
type Address struct {
	FullName   string
	Company    string
	TaxID      string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Province   string
	// Country is an ISO 3166-1 alpha-2 code.
	Country string
	Phone   string
}

// Validate checks the required fields; field prefixes the reported names.
func (a Address) Validate(field string) error {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"line1", a.Line1},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: field + "." + r.name, Reason: "required"}
		}
	}
	if len(a.Country) != 2 {
		return &ValidationError{Field: field + ".country", Reason: "must be an ISO 3166-1 alpha-2 code"}
	}
	return nil
}

// Item is an order line with the price snapshot taken at creation time.
type Item struct {
	ID        string
	OrderID   string
	VariantID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
}

// LineTotal is Quantity x UnitPrice in minor units.
func (i Item) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is a customer order. Money fields are minor units; Total is the sum
// of the item lines and GrandTotal = max(0, Total + ShippingCost - Discount).
type Order struct {
	ID               string
	ClientID         *string
	GuestEmail       string
	Status           Status
	Total            int64
	ShippingCost     int64
	Discount         int64
	GrandTotal       int64
	CouponCode       string
	ShippingMethodID string
	PaymentMethodID  string
	ShippingAddress  Address
	BillingAddress   Address
	IdempotencyKey   string
	Items            []Item
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConfirmationNumber is the customer-facing reference of the order, used as
// the bank transfer concept.
func (o *Order) ConfirmationNumber() string {
	hex := strings.ReplaceAll(o.ID, "-", "")
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return "HS-" + strings.ToUpper(hex)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order row without items.
	Create(ctx context.Context, o *Order) error
	AddItems(ctx context.Context, orderID string, items []Item) error
	// SumItems returns the sum of the stored item lines.
	SumItems(ctx context.Context, orderID string) (int64, error)
	UpdateTotals(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id string) error
	// Get returns the order with its items or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatusIf moves the order to to only if its status is still
	// from. It returns ErrNotFound or ErrConflict otherwise.
	UpdateStatusIf(ctx context.Context, id string, from, to Status) error
}

// UnitOfWork runs fn in a transaction carried by the context passed to fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier is told about committed order events. Failures are logged.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, from Status) error
}

// IdempotencyStore deduplicates order placement by client-supplied key.
type IdempotencyStore interface {
	// Recall returns the order id remembered for key.
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	// TryLock reserves key; false means another request holds it.
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, orderID string) error
	Release(ctx context.Context, scope, key string) error
}
