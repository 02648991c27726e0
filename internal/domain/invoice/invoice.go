// Package invoice issues numbered invoices for orders and tracks their
// payment status.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("invoice not found")
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict is returned when an invoice is not in the status a change
	// expects, e.g. paying a cancelled invoice.
	ErrConflict = errors.New("invoice status conflict")
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Series identifies an independent invoice numbering sequence.
type Series struct {
	Prefix string
	Suffix string
}

// Format renders number within the series, e.g. "F-000042/26".
func (s Series) Format(number int64) string {
	return fmt.Sprintf("%s%06d%s", s.Prefix, number, s.Suffix)
}

// Invoice is a numbered bill for exactly one order. Amounts are minor units
// and VAT-inclusive: Total = TaxBase + TaxAmount.
type Invoice struct {
	ID        string
	OrderID   string
	ClientID  *string
	Number    int64
	Series    Series
	Code      string
	Total     int64
	TaxBase   int64
	TaxAmount int64
	TaxRate   decimal.Decimal
	Currency  string
	Status    Status
	IssuedAt  time.Time
	DueDate   time.Time
}

// Counter hands out invoice numbers. Next must be atomic: two concurrent
// calls for the same series never return the same number.
type Counter interface {
	Next(ctx context.Context, series Series) (int64, error)
}

// Repository persists invoices.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByOrder(ctx context.Context, orderID string) (*Invoice, error)
	// ListByClient returns the client's invoices, newest first.
	ListByClient(ctx context.Context, clientID string, limit int) ([]Invoice, error)
	// SetStatus moves the order's invoice from one of from to to. It returns
	// ErrNotFound when the order has no invoice and ErrConflict when the
	// current status is not in from.
	SetStatus(ctx context.Context, orderID string, from []Status, to Status) (*Invoice, error)
}

// Billable is what an invoice needs to know about its order.
type Billable struct {
	OrderID    string
	ClientID   *string
	GrandTotal int64
}

// Orders looks up the billable view of an order.
type Orders interface {
	Billable(ctx context.Context, orderID string) (*Billable, error)
}
