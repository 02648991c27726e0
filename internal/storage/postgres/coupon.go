package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/heating-shop/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, discount_type, discount_value, scope, scope_ref,
		usage_limit, used_count, valid_from, valid_to, description
		FROM coupons WHERE code = UPPER($1) AND active = TRUE`

	// redeemCouponSQL consumes a use and records the redemption in one
	// statement; no row is inserted once the limit is reached.
	redeemCouponSQL = `WITH redeemed AS (
			UPDATE coupons SET used_count = used_count + 1
			WHERE id = $2 AND active = TRUE
				AND (usage_limit IS NULL OR used_count < usage_limit)
			RETURNING id
		)
		INSERT INTO coupon_redemptions (id, coupon_id, order_id, client_id, redeemed_at)
		SELECT $1::text, id, $3::text, $4::text, $5::timestamptz FROM redeemed`

	upsertCouponSQL = `INSERT INTO coupons (id, code, discount_type, discount_value, scope, scope_ref,
		usage_limit, valid_from, valid_to, description)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			scope = EXCLUDED.scope,
			scope_ref = EXCLUDED.scope_ref,
			usage_limit = EXCLUDED.usage_limit,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			description = EXCLUDED.description,
			active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Redeem atomically increments the coupon's used count and records the
// redemption. Returns coupon.ErrUsageLimitReached when no use is left.
func (r *CouponRepository) Redeem(ctx context.Context, red coupon.Redemption) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, redeemCouponSQL,
		red.ID, red.CouponID, red.OrderID, red.ClientID, red.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("redeeming coupon %q: %w", red.CouponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// Upsert creates the coupon or replaces the terms of an existing one with
// the same code. The used count is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	scope := c.Scope
	if scope == "" {
		scope = coupon.ScopeOrder
	}
	_, err := conn(ctx, r.pool).Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Value, string(scope), c.ScopeRef,
		c.UsageLimit, c.ValidFrom, c.ValidTo, c.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		scope        string
		usageLimit   *int32
		usedCount    int32
		validFrom    *time.Time
		validTo      *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &scope, &c.ScopeRef,
		&usageLimit, &usedCount, &validFrom, &validTo, &c.Description,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.Scope = coupon.Scope(scope)
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsedCount = int(usedCount)
	c.ValidFrom = validFrom
	c.ValidTo = validTo
	return c, err
}
