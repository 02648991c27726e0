package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, client_id, guest_email, status, total, shipping_cost,
		discount, grand_total, coupon_code, shipping_method_id, payment_method_id,
		shipping_address, billing_address, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, NULLIF($14, ''), $15, $16)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, variant_id, sku, name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	sumOrderItemsSQL = `SELECT COALESCE(SUM(quantity::BIGINT * unit_price), 0)::BIGINT
		FROM order_items WHERE order_id = $1`

	updateOrderTotalsSQL = `UPDATE orders SET total = $2, shipping_cost = $3, discount = $4,
		grand_total = $5, coupon_code = NULLIF($6, ''), updated_at = NOW()
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	getOrderSQL = `SELECT id, client_id, guest_email, status, total, shipping_cost, discount,
		grand_total, COALESCE(coupon_code, ''), shipping_method_id, payment_method_id,
		shipping_address, billing_address, COALESCE(idempotency_key, ''), created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, order_id, variant_id, sku, name, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY sku, id`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	orderStatusSQL = `SELECT status FROM orders WHERE id = $1`

	getBillableSQL = `SELECT id, client_id, grand_total FROM orders WHERE id = $1`

	idempotencyConstraint = "orders_idempotency_key"
	uniqueViolation       = "23505"
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ invoice.Orders   = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order row. Addresses are stored as JSONB snapshots.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.ClientID, o.GuestEmail, string(o.Status), o.Total, o.ShippingCost,
		o.Discount, o.GrandTotal, o.CouponCode, o.ShippingMethodID, o.PaymentMethodID,
		encodeAddress(o.ShippingAddress), encodeAddress(o.BillingAddress), o.IdempotencyKey,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyConstraint {
			return order.ErrDuplicateRequest
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// AddItems inserts the item snapshots in one round trip.
func (r *OrderRepository) AddItems(ctx context.Context, orderID string, items []order.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertOrderItemSQL,
			it.ID, orderID, it.VariantID, it.SKU, it.Name, it.Quantity, it.UnitPrice,
		)
	}

	if err := conn(ctx, r.pool).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("adding items to order %q: %w", orderID, err)
	}
	return nil
}

func (r *OrderRepository) SumItems(ctx context.Context, orderID string) (int64, error) {
	var sum int64
	if err := conn(ctx, r.pool).QueryRow(ctx, sumOrderItemsSQL, orderID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("summing items of order %q: %w", orderID, err)
	}
	return sum, nil
}

func (r *OrderRepository) UpdateTotals(ctx context.Context, o *order.Order) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updateOrderTotalsSQL,
		o.ID, o.Total, o.ShippingCost, o.Discount, o.GrandTotal, o.CouponCode,
	)
	if err != nil {
		return fmt.Errorf("updating totals of order %q: %w", o.ID, err)
	}
	return nil
}

// Delete removes the order; items and redemptions cascade.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, deleteOrderSQL, id); err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

func (r *OrderRepository) UpdateStatusIf(ctx context.Context, id string, from, to order.Status) error {
	q := conn(ctx, r.pool)

	tag, err := q.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := q.QueryRow(ctx, orderStatusSQL, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("reading status of order %q: %w", id, err)
	}
	return order.ErrConflict
}

// Billable implements invoice.Orders.
func (r *OrderRepository) Billable(ctx context.Context, orderID string) (*invoice.Billable, error) {
	var b invoice.Billable
	err := conn(ctx, r.pool).QueryRow(ctx, getBillableSQL, orderID).Scan(&b.OrderID, &b.ClientID, &b.GrandTotal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	return &b, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		status            string
		shipping, billing []byte
	)
	err := row.Scan(
		&o.ID, &o.ClientID, &o.GuestEmail, &status, &o.Total, &o.ShippingCost, &o.Discount,
		&o.GrandTotal, &o.CouponCode, &o.ShippingMethodID, &o.PaymentMethodID,
		&shipping, &billing, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if o.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return o, err
	}
	o.BillingAddress, err = decodeAddress(billing)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it  order.Item
		qty int32
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.SKU, &it.Name, &qty, &it.UnitPrice)
	it.Quantity = int(qty)
	return it, err
}
