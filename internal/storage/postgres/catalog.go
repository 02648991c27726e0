package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/heating-shop/internal/domain/catalog"
)

const (
	shippingColumns = `id, name, price, free_over, estimated_days`

	listShippingMethodsSQL = `SELECT ` + shippingColumns + `
		FROM shipping_methods WHERE active = TRUE ORDER BY sort_order, price, id`

	getShippingMethodSQL = `SELECT ` + shippingColumns + `
		FROM shipping_methods WHERE id = $1 AND active = TRUE`

	paymentColumns = `id, name, kind, instructions`

	listPaymentMethodsSQL = `SELECT ` + paymentColumns + `
		FROM payment_methods WHERE active = TRUE ORDER BY sort_order, id`

	getPaymentMethodSQL = `SELECT ` + paymentColumns + `
		FROM payment_methods WHERE id = $1 AND active = TRUE`

	variantsByIDsSQL = `SELECT v.id, v.product_id, v.category_id, v.sku, v.name,
		COALESCE(vp.price, v.price)
		FROM variants v
		LEFT JOIN variant_prices vp ON vp.variant_id = v.id AND vp.role = $2
		WHERE v.id = ANY($1) AND v.active = TRUE`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ListShippingMethods(ctx context.Context) ([]catalog.ShippingMethod, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listShippingMethodsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing shipping methods: %w", err)
	}
	methods, err := pgx.CollectRows(rows, scanShippingMethod)
	if err != nil {
		return nil, fmt.Errorf("listing shipping methods: %w", err)
	}
	return methods, nil
}

func (r *CatalogRepository) GetShippingMethod(ctx context.Context, id string) (*catalog.ShippingMethod, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getShippingMethodSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting shipping method %q: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanShippingMethod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrShippingMethodNotFound
		}
		return nil, fmt.Errorf("getting shipping method %q: %w", id, err)
	}
	return &m, nil
}

func (r *CatalogRepository) ListPaymentMethods(ctx context.Context) ([]catalog.PaymentMethod, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listPaymentMethodsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing payment methods: %w", err)
	}
	methods, err := pgx.CollectRows(rows, scanPaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("listing payment methods: %w", err)
	}
	return methods, nil
}

func (r *CatalogRepository) GetPaymentMethod(ctx context.Context, id string) (*catalog.PaymentMethod, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getPaymentMethodSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment method %q: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanPaymentMethod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("getting payment method %q: %w", id, err)
	}
	return &m, nil
}

// VariantsByIDs returns the active variants among ids with the price for
// role, falling back to the retail price when the role has no override.
func (r *CatalogRepository) VariantsByIDs(ctx context.Context, ids []string, role catalog.Role) ([]catalog.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, variantsByIDsSQL, ids, string(role))
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var v catalog.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.CategoryID, &v.SKU, &v.Name, &v.Price)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	return variants, nil
}

func scanShippingMethod(row pgx.CollectableRow) (catalog.ShippingMethod, error) {
	var (
		m    catalog.ShippingMethod
		days int32
	)
	err := row.Scan(&m.ID, &m.Name, &m.Price, &m.FreeOver, &days)
	m.EstimatedDays = int(days)
	return m, err
}

func scanPaymentMethod(row pgx.CollectableRow) (catalog.PaymentMethod, error) {
	var (
		m    catalog.PaymentMethod
		kind string
	)
	err := row.Scan(&m.ID, &m.Name, &kind, &m.Instructions)
	m.Kind = catalog.PaymentKind(kind)
	return m, err
}
