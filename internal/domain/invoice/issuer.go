package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/tax"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
	defaultDueDays   = 30
)

// Config controls numbering and taxation of issued invoices.
type Config struct {
	Series   Series
	Currency string
	VATRate  decimal.Decimal
	DueDays  int
}

// IssueRequest describes the invoice to issue for an order.
type IssueRequest struct {
	OrderID  string
	ClientID *string
	Total    int64
	// DueDate defaults to issuance plus the configured due days.
	DueDate *time.Time
}

// Issuer numbers, taxes and stores invoices.
type Issuer struct {
	cfg     Config
	counter Counter
	repo    Repository
	orders  Orders
	now     func() time.Time
	issued  metric.Int64Counter
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithMeterProvider records the shop.invoices.issued counter.
func WithMeterProvider(mp metric.MeterProvider) IssuerOption {
	return func(i *Issuer) {
		issued, err := mp.Meter("github.com/xenking/heating-shop/internal/domain/invoice").
			Int64Counter("shop.invoices.issued", metric.WithDescription("Invoices issued"))
		if err == nil {
			i.issued = issued
		}
	}
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg Config, counter Counter, repo Repository, orders Orders, opts ...IssuerOption) *Issuer {
	if cfg.DueDays <= 0 {
		cfg.DueDays = defaultDueDays
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	i := &Issuer{
		cfg:     cfg,
		counter: counter,
		repo:    repo,
		orders:  orders,
		now:     time.Now,
		issued:  noop.Int64Counter{},
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Issue allocates the next number in the configured series and stores a
// draft invoice for req. Run it in the order's transaction so a rollback
// discards the invoice; the allocated number is then skipped.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Invoice, error) {
	number, err := i.counter.Next(ctx, i.cfg.Series)
	if err != nil {
		return nil, errors.Wrap(err, "allocate invoice number")
	}

	now := i.now().UTC()
	due := now.AddDate(0, 0, i.cfg.DueDays)
	if req.DueDate != nil {
		due = *req.DueDate
	}
	base, vat := tax.Split(req.Total, i.cfg.VATRate)

	inv := &Invoice{
		ID:        uuid.NewString(),
		OrderID:   req.OrderID,
		ClientID:  req.ClientID,
		Number:    number,
		Series:    i.cfg.Series,
		Code:      i.cfg.Series.Format(number),
		Total:     req.Total,
		TaxBase:   base,
		TaxAmount: vat,
		TaxRate:   i.cfg.VATRate,
		Currency:  i.cfg.Currency,
		Status:    StatusDraft,
		IssuedAt:  now,
		DueDate:   due,
	}
	if err := i.repo.Create(ctx, inv); err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	i.issued.Add(ctx, 1)

	zctx.From(ctx).Info("Invoice issued",
		zap.String("invoice_id", inv.ID),
		zap.String("code", inv.Code),
		zap.String("order_id", inv.OrderID),
		zap.Int64("total", inv.Total),
	)
	return inv, nil
}

// Generate returns the order's invoice, issuing one for its grand total if it
// has none yet.
func (i *Issuer) Generate(ctx context.Context, orderID string) (*Invoice, error) {
	existing, err := i.repo.GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, errors.Wrap(err, "get invoice by order")
	}

	b, err := i.orders.Billable(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return i.Issue(ctx, IssueRequest{
		OrderID:  b.OrderID,
		ClientID: b.ClientID,
		Total:    b.GrandTotal,
	})
}

// Get returns an invoice by id.
func (i *Issuer) Get(ctx context.Context, id string) (*Invoice, error) {
	return i.repo.Get(ctx, id)
}

// ListByClient returns up to limit invoices of a client, newest first. A
// non-positive limit means the default of 10; limits above 100 are capped.
func (i *Issuer) ListByClient(ctx context.Context, clientID string, limit int) ([]Invoice, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return i.repo.ListByClient(ctx, clientID, limit)
}

// MarkPaid records payment of the order's invoice.
func (i *Issuer) MarkPaid(ctx context.Context, orderID string) (*Invoice, error) {
	return i.repo.SetStatus(ctx, orderID,
		[]Status{StatusDraft, StatusSent, StatusOverdue, StatusPaid}, StatusPaid)
}

// Cancel voids the order's invoice. Paid invoices cannot be cancelled.
func (i *Issuer) Cancel(ctx context.Context, orderID string) (*Invoice, error) {
	return i.repo.SetStatus(ctx, orderID,
		[]Status{StatusDraft, StatusSent, StatusOverdue, StatusCancelled}, StatusCancelled)
}
