package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/heating-shop/internal/domain/invoice"
)

const (
	// nextInvoiceNumberSQL increments and returns in one statement, so two
	// concurrent issuers never see the same number.
	nextInvoiceNumberSQL = `INSERT INTO invoice_counters (prefix, suffix, next_number)
		VALUES ($1, $2, 2)
		ON CONFLICT (prefix, suffix)
		DO UPDATE SET next_number = invoice_counters.next_number + 1
		RETURNING next_number - 1`

	invoiceColumns = `id, order_id, client_id, number, series_prefix, series_suffix, code,
		total, tax_base, tax_amount, tax_rate, currency, status, issued_at, due_date`

	createInvoiceSQL = `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getInvoiceSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	getInvoiceByOrderSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = $1`

	listInvoicesByClientSQL = `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE client_id = $1 ORDER BY issued_at DESC, number DESC LIMIT $2`

	setInvoiceStatusSQL = `UPDATE invoices SET status = $3
		WHERE order_id = $1 AND status = ANY($2)
		RETURNING ` + invoiceColumns

	invoiceExistsSQL = `SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id = $1)`
)

var (
	_ invoice.Repository = (*InvoiceRepository)(nil)
	_ invoice.Counter    = (*InvoiceRepository)(nil)
)

// InvoiceRepository implements invoice.Repository and invoice.Counter
// backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Next allocates the next number of series, starting at 1.
func (r *InvoiceRepository) Next(ctx context.Context, series invoice.Series) (int64, error) {
	var n int64
	err := conn(ctx, r.pool).QueryRow(ctx, nextInvoiceNumberSQL, series.Prefix, series.Suffix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocating invoice number for %q/%q: %w", series.Prefix, series.Suffix, err)
	}
	return n, nil
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createInvoiceSQL,
		inv.ID, inv.OrderID, inv.ClientID, inv.Number, inv.Series.Prefix, inv.Series.Suffix, inv.Code,
		inv.Total, inv.TaxBase, inv.TaxAmount, inv.TaxRate, inv.Currency, string(inv.Status),
		inv.IssuedAt, inv.DueDate,
	)
	if err != nil {
		return fmt.Errorf("creating invoice %q: %w", inv.Code, err)
	}
	return nil
}

func (r *InvoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.one(ctx, getInvoiceSQL, id)
}

func (r *InvoiceRepository) GetByOrder(ctx context.Context, orderID string) (*invoice.Invoice, error) {
	return r.one(ctx, getInvoiceByOrderSQL, orderID)
}

func (r *InvoiceRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]invoice.Invoice, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listInvoicesByClientSQL, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing invoices of client %q: %w", clientID, err)
	}
	invoices, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("listing invoices of client %q: %w", clientID, err)
	}
	return invoices, nil
}

func (r *InvoiceRepository) SetStatus(ctx context.Context, orderID string, from []invoice.Status, to invoice.Status) (*invoice.Invoice, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	inv, err := r.one(ctx, setInvoiceStatusSQL, orderID, allowed, string(to))
	if !errors.Is(err, invoice.ErrNotFound) {
		return inv, err
	}

	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, invoiceExistsSQL, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking invoice of order %q: %w", orderID, err)
	}
	if exists {
		return nil, invoice.ErrConflict
	}
	return nil, invoice.ErrNotFound
}

func (r *InvoiceRepository) one(ctx context.Context, sql string, args ...any) (*invoice.Invoice, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	return &inv, nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		status string
	)
	err := row.Scan(
		&inv.ID, &inv.OrderID, &inv.ClientID, &inv.Number, &inv.Series.Prefix, &inv.Series.Suffix, &inv.Code,
		&inv.Total, &inv.TaxBase, &inv.TaxAmount, &inv.TaxRate, &inv.Currency, &status,
		&inv.IssuedAt, &inv.DueDate,
	)
	inv.Status = invoice.Status(status)
	return inv, err
}
